// Package mongostore backs the storage contract with a MongoDB collection.
package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/catch/postal/internal/storage"
)

// Store wraps a mongo collection.
type Store struct {
	coll *mongo.Collection
}

// New returns a Store over the given collection.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Insert adds a single document.
func (s *Store) Insert(ctx context.Context, doc bson.M) error {
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Update applies update to the documents selected by query. An update with
// no $-operators replaces the matched document wholesale.
func (s *Store) Update(ctx context.Context, query, update bson.M, flags storage.UpdateFlags) (storage.UpdateResult, error) {
	upsert := flags&storage.UpdateUpsert != 0

	var (
		res *mongo.UpdateResult
		err error
	)
	switch {
	case storage.IsReplacement(update):
		res, err = s.coll.ReplaceOne(ctx, query, update, options.Replace().SetUpsert(upsert))
	case flags&storage.UpdateMulti != 0:
		res, err = s.coll.UpdateMany(ctx, query, update, options.Update().SetUpsert(upsert))
	default:
		res, err = s.coll.UpdateOne(ctx, query, update, options.Update().SetUpsert(upsert))
	}
	if err != nil {
		return storage.UpdateResult{}, fmt.Errorf("update: %w", err)
	}
	return storage.UpdateResult{
		Matched:         res.MatchedCount,
		UpdatedExisting: res.MatchedCount > 0,
	}, nil
}

// Query returns the documents selected by query, paginated.
func (s *Store) Query(ctx context.Context, query bson.M, offset, limit int64) ([]bson.M, error) {
	opts := options.Find().SetSkip(offset)
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("query decode: %w", err)
	}
	return docs, nil
}
