// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres) inside this directory.
package repository

import (
	"context"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
)

// EntityRepository persists the entities of an entity set using SQL queries only.
// Entities are pointers to the Go type of the set's entity type. Lookups of a missing
// key return sql.ErrNoRows.
type EntityRepository interface {
	// List returns the entities matching the filter, order and paging of q. A nil q lists everything.
	// Total is the number of matching rows before paging when q.Count is set.
	List(ctx context.Context, set *edm.EntitySet, q *query.Options) (*PageResult[any], error)

	// FindByKey returns one entity by key.
	FindByKey(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) (any, error)

	// Create inserts the entity and returns the stored row.
	Create(ctx context.Context, set *edm.EntitySet, entity any) (any, error)

	// Update overwrites every non-key column of the row identified by key.
	Update(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, entity any) error

	// Patch writes only props of the row identified by key.
	Patch(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, props []*edm.Property, entity any) error

	// Delete removes the row identified by key.
	Delete(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) error
}

// RatingRepository records product ratings.
type RatingRepository interface {
	Create(ctx context.Context, productID, rating int) error
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
