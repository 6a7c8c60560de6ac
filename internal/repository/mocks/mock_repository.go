package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
	"odatasample/internal/repository"
)

type MockEntityRepository struct {
	mock.Mock
}

func (m *MockEntityRepository) List(ctx context.Context, set *edm.EntitySet, q *query.Options) (*repository.PageResult[any], error) {
	args := m.Called(ctx, set, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[any]), args.Error(1)
}

func (m *MockEntityRepository) FindByKey(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) (any, error) {
	args := m.Called(ctx, set, key)
	return args.Get(0), args.Error(1)
}

func (m *MockEntityRepository) Create(ctx context.Context, set *edm.EntitySet, entity any) (any, error) {
	args := m.Called(ctx, set, entity)
	return args.Get(0), args.Error(1)
}

func (m *MockEntityRepository) Update(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, entity any) error {
	args := m.Called(ctx, set, key, entity)
	return args.Error(0)
}

func (m *MockEntityRepository) Patch(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, props []*edm.Property, entity any) error {
	args := m.Called(ctx, set, key, props, entity)
	return args.Error(0)
}

func (m *MockEntityRepository) Delete(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) error {
	args := m.Called(ctx, set, key)
	return args.Error(0)
}

type MockRatingRepository struct {
	mock.Mock
}

func (m *MockRatingRepository) Create(ctx context.Context, productID, rating int) error {
	args := m.Called(ctx, productID, rating)
	return args.Error(0)
}
