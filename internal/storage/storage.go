// Package storage defines the narrow document-store contract the service
// depends on. The mongostore subpackage backs it with MongoDB; memstore is
// an in-process implementation used by tests.
package storage

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// UpdateFlags modify how an Update is applied.
type UpdateFlags uint8

const (
	// UpdateMulti applies the mutation to every matching document.
	UpdateMulti UpdateFlags = 1 << iota
	// UpdateUpsert inserts the document when nothing matches.
	UpdateUpsert
)

// UpdateResult reports what an Update did.
type UpdateResult struct {
	// Matched is the number of documents the query selected.
	Matched int64
	// UpdatedExisting is true when the update modified a pre-existing
	// document rather than upserting a new one.
	UpdatedExisting bool
}

// Store is the document-store collaborator. Queries and mutations use bson
// documents; supported value types are object-id, string, ints, doubles,
// booleans, datetimes, null, nested documents and arrays thereof.
type Store interface {
	Insert(ctx context.Context, doc bson.M) error
	Update(ctx context.Context, query, update bson.M, flags UpdateFlags) (UpdateResult, error)
	Query(ctx context.Context, query bson.M, offset, limit int64) ([]bson.M, error)
}

// IsReplacement reports whether update is a whole-document replacement
// rather than a set of $-operators.
func IsReplacement(update bson.M) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}
