// Package memstore is an in-process implementation of the storage contract.
// It understands the query shapes the service issues: field equality, null
// (missing-or-null), $in, and a top-level $or; mutations support $set,
// $setOnInsert, whole-document replacement, multi and upsert.
package memstore

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/catch/postal/internal/storage"
)

// Store keeps documents in memory. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	docs []bson.M
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Insert adds a document, attaching an _id when absent.
func (s *Store) Insert(_ context.Context, doc bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := clone(doc)
	if _, ok := d["_id"]; !ok {
		d["_id"] = primitive.NewObjectID()
	}
	s.docs = append(s.docs, d)
	return nil
}

// Update mutates matching documents per the flags.
func (s *Store) Update(_ context.Context, query, update bson.M, flags storage.UpdateFlags) (storage.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res storage.UpdateResult
	for i, doc := range s.docs {
		if !matches(doc, query) {
			continue
		}
		res.Matched++
		res.UpdatedExisting = true
		s.docs[i] = apply(doc, update)
		if flags&storage.UpdateMulti == 0 {
			break
		}
	}

	if res.Matched == 0 && flags&storage.UpdateUpsert != 0 {
		d := bson.M{"_id": primitive.NewObjectID()}
		for k, v := range query {
			if !isOperator(k) {
				d[k] = v
			}
		}
		d = apply(d, update)
		if set, ok := update["$setOnInsert"].(bson.M); ok {
			for k, v := range set {
				d[k] = v
			}
		}
		s.docs = append(s.docs, d)
	}
	return res, nil
}

// Query returns copies of the matching documents, paginated.
func (s *Store) Query(_ context.Context, query bson.M, offset, limit int64) ([]bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []bson.M
	var skipped int64
	for _, doc := range s.docs {
		if !matches(doc, query) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, clone(doc))
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func isOperator(key string) bool {
	return len(key) > 0 && key[0] == '$'
}

func clone(doc bson.M) bson.M {
	d := make(bson.M, len(doc))
	for k, v := range doc {
		d[k] = v
	}
	return d
}

func apply(doc, update bson.M) bson.M {
	if storage.IsReplacement(update) {
		d := clone(update)
		d["_id"] = doc["_id"]
		return d
	}

	d := clone(doc)
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			d[k] = v
		}
	}
	return d
}

func matches(doc, query bson.M) bool {
	for key, want := range query {
		if key == "$or" {
			if !matchOr(doc, want) {
				return false
			}
			continue
		}
		if !matchField(doc[key], want) {
			return false
		}
	}
	return true
}

func matchOr(doc bson.M, clauses any) bool {
	switch cs := clauses.(type) {
	case bson.A:
		for _, c := range cs {
			if q, ok := c.(bson.M); ok && matches(doc, q) {
				return true
			}
		}
	case []bson.M:
		for _, q := range cs {
			if matches(doc, q) {
				return true
			}
		}
	}
	return false
}

func matchField(have, want any) bool {
	if cond, ok := want.(bson.M); ok {
		if in, ok := cond["$in"]; ok {
			return matchIn(have, in)
		}
		return false
	}
	if want == nil {
		// Null matches a missing field as well as an explicit null.
		return have == nil
	}
	return equal(have, want)
}

func matchIn(have, set any) bool {
	switch vals := set.(type) {
	case bson.A:
		for _, v := range vals {
			if equal(have, v) {
				return true
			}
		}
	case []any:
		for _, v := range vals {
			if equal(have, v) {
				return true
			}
		}
	case []string:
		for _, v := range vals {
			if equal(have, v) {
				return true
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if aid, ok := a.(primitive.ObjectID); ok {
		bid, ok := b.(primitive.ObjectID)
		return ok && aid == bid
	}
	if _, ok := b.(primitive.ObjectID); ok {
		return false
	}
	return a == b
}
