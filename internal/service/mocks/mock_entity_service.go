package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
	"odatasample/internal/service"
)

type MockEntityService struct {
	mock.Mock
}

var _ service.EntityService = (*MockEntityService)(nil)

func (m *MockEntityService) List(ctx context.Context, set *edm.EntitySet, opts *query.Options) (*service.ListResult, error) {
	args := m.Called(ctx, set, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListResult), args.Error(1)
}

func (m *MockEntityService) Get(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) (any, error) {
	args := m.Called(ctx, set, key)
	return args.Get(0), args.Error(1)
}

func (m *MockEntityService) Related(ctx context.Context, model *edm.Model, set *edm.EntitySet, key []query.KeyValue, nav *edm.NavigationProperty, opts *query.Options) (*service.ListResult, error) {
	args := m.Called(ctx, model, set, key, nav, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListResult), args.Error(1)
}

func (m *MockEntityService) RelatedOne(ctx context.Context, model *edm.Model, set *edm.EntitySet, key []query.KeyValue, nav *edm.NavigationProperty) (any, error) {
	args := m.Called(ctx, model, set, key, nav)
	return args.Get(0), args.Error(1)
}

func (m *MockEntityService) Expand(ctx context.Context, model *edm.Model, set *edm.EntitySet, items []any, expand []string) error {
	args := m.Called(ctx, model, set, items, expand)
	return args.Error(0)
}

func (m *MockEntityService) Create(ctx context.Context, set *edm.EntitySet, entity any) (any, error) {
	args := m.Called(ctx, set, entity)
	return args.Get(0), args.Error(1)
}

func (m *MockEntityService) Replace(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, entity any) error {
	args := m.Called(ctx, set, key, entity)
	return args.Error(0)
}

func (m *MockEntityService) Patch(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, props []*edm.Property, delta any) (any, error) {
	args := m.Called(ctx, set, key, props, delta)
	return args.Get(0), args.Error(1)
}

func (m *MockEntityService) Delete(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) error {
	args := m.Called(ctx, set, key)
	return args.Error(0)
}

func (m *MockEntityService) Rate(ctx context.Context, productID, rating int) error {
	args := m.Called(ctx, productID, rating)
	return args.Error(0)
}

func (m *MockEntityService) PutMedia(ctx context.Context, set *edm.EntitySet, key []query.KeyValue, r io.Reader, contentType string, size int64) error {
	args := m.Called(ctx, set, key, r, contentType, size)
	return args.Error(0)
}

func (m *MockEntityService) GetMedia(ctx context.Context, set *edm.EntitySet, key []query.KeyValue) ([]byte, string, error) {
	args := m.Called(ctx, set, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}
