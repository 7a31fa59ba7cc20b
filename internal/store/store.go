package store

import (
	"context"
	"errors"

	"github.com/caneko-app/caneko-server/pkg/models"
)

// Collection and document names, matching the hosted data layout.
const (
	CollectionUsers     = "users"
	CollectionSettings  = "settings"
	CollectionGalleries = "galleries"
	CollectionDocuments = "documents"
	CollectionPets      = "pets"

	DocGlobalLimits = "globalLimits"
	DocAppConfig    = "appConfig"
)

var (
	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrLimitExceeded is returned by AppendBounded when the array already
	// holds limit elements or more.
	ErrLimitExceeded = errors.New("store: array at limit")
)

// Match is a partial-equality filter applied to array elements; an element
// matches when every listed field equals the given value.
type Match map[string]interface{}

// Store is the document-store surface the service depends on. There is no
// multi-document transaction primitive; callers that need a stronger guarantee
// use AppendBounded, which is atomic on a single document only.
type Store interface {
	// Get decodes the document collection/id into out, or returns ErrNotFound.
	Get(ctx context.Context, collection, id string, out interface{}) error

	// Set writes the document. With merge, only the given top-level fields are
	// replaced; otherwise the whole document is. Creates the document if absent.
	Set(ctx context.Context, collection, id string, doc interface{}, merge bool) error

	// Delete removes the document. Deleting an absent document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// FindOne decodes the first document whose field equals value.
	FindOne(ctx context.Context, collection, field string, value interface{}, out interface{}) error

	// All decodes every document in the collection into out (a *[]T).
	All(ctx context.Context, collection string, out interface{}) error

	// SetFieldAll sets field to value on every document in the collection.
	SetFieldAll(ctx context.Context, collection, field string, value interface{}) error

	// Append adds value to the array field, creating the document if absent.
	Append(ctx context.Context, collection, id, field string, value interface{}) error

	// AppendBounded adds value to the array field only while the array holds
	// fewer than limit elements, as a single conditional write.
	AppendBounded(ctx context.Context, collection, id, field string, value interface{}, limit int) error

	// Remove deletes array elements matched by match. Removing an element that
	// is not present is not an error; a missing document is ErrNotFound.
	Remove(ctx context.Context, collection, id, field string, match Match) error

	// Count returns the number of elements in the array field; an absent
	// document counts as zero.
	Count(ctx context.Context, collection, id, field string) (int, error)

	Ping(ctx context.Context) error
}

// ItemLocation maps an item kind to the collection and array field holding it.
func ItemLocation(kind models.ItemKind) (collection, field string) {
	switch kind {
	case models.ItemKindGallery:
		return CollectionGalleries, "images"
	case models.ItemKindDoc:
		return CollectionDocuments, "docs"
	}
	return "", ""
}
