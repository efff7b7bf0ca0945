// Package docstore defines named, schema-less document collections and the
// backends that implement them.
package docstore

import "context"

// Document is an arbitrary field mapping. The "_id" field is reserved for
// the identifier.
type Document = map[string]any

// Filter is an exact-match conjunction over document fields.
type Filter = map[string]any

// Collection is one named collection of documents.
type Collection interface {
	// Insert stores doc, assigning a native identifier when doc has none,
	// and returns the stored document. An identifier already present in
	// the collection is models.ErrDuplicate.
	Insert(ctx context.Context, doc Document) (Document, error)

	// FindAll returns every document in the collection.
	FindAll(ctx context.Context) ([]Document, error)

	// Find returns every document matching filter.
	Find(ctx context.Context, filter Filter) ([]Document, error)

	// FindOne returns the first document matching filter, or nil.
	FindOne(ctx context.Context, filter Filter) (Document, error)

	// Save replaces the document with the same identifier, inserting it
	// when absent.
	Save(ctx context.Context, doc Document) (Document, error)

	// Delete removes every document matching filter and reports how many
	// were removed.
	Delete(ctx context.Context, filter Filter) (int64, error)
}

// Store resolves collections by their runtime name.
type Store interface {
	Collection(name string) Collection

	// Drop removes a collection and all of its documents.
	Drop(ctx context.Context, name string) error
}
