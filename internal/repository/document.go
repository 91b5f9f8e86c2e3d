package repository

import (
	"context"
	"errors"

	"wopihost/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("document not found")
	// ErrStaleRecord is returned by Update when the stored revision no longer
	// matches the caller's copy, i.e. another request wrote in between.
	ErrStaleRecord = errors.New("document record changed concurrently")
)

// DocumentRepository defines data access for document metadata using SQL queries only.
// No business logic here — strictly persistence operations.
type DocumentRepository interface {
	// Create inserts a new document record and returns the stored copy.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// ListByOwner returns a page of an owner's documents and the owner's total count.
	ListByOwner(ctx context.Context, owner string, pq PageQuery) (*PageResult[model.Document], error)

	// Update writes every mutable field of doc, conditioned on doc.Revision being
	// the stored revision. On success doc.Revision is advanced; otherwise
	// ErrStaleRecord (or ErrNotFound) is returned and nothing is written.
	Update(ctx context.Context, doc *model.Document) error

	// Delete removes a document by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
