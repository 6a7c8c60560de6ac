package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"odatasample/internal/edm"
	"odatasample/internal/model"
	"odatasample/internal/odata/query"
	"odatasample/internal/repository"
	repoMocks "odatasample/internal/repository/mocks"
	"odatasample/internal/storage"
	storeMocks "odatasample/internal/storage/mocks"
)

type fixture struct {
	model     *edm.Model
	customers *edm.EntitySet
	orders    *edm.EntitySet
	products  *edm.EntitySet
	repo      *repoMocks.MockEntityRepository
	ratings   *repoMocks.MockRatingRepository
	store     *storeMocks.MockStorage
	svc       EntityService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := edm.NewBuilder("Default").EnableLowerCamelCase()
	b.EntitySet("Customers", reflect.TypeFor[model.Customer]())
	b.EntitySet("Orders", reflect.TypeFor[model.Order]())
	b.EntitySet("Products", reflect.TypeFor[model.Product]()).HasStream()
	m, err := b.Build()
	require.NoError(t, err)

	f := &fixture{
		model:   m,
		repo:    new(repoMocks.MockEntityRepository),
		ratings: new(repoMocks.MockRatingRepository),
		store:   new(storeMocks.MockStorage),
	}
	f.customers, _ = m.EntitySet("Customers")
	f.orders, _ = m.EntitySet("Orders")
	f.products, _ = m.EntitySet("Products")
	f.svc = NewEntityService(f.repo, f.ratings, f.store)
	return f
}

func key(set *edm.EntitySet, v int) []query.KeyValue {
	return []query.KeyValue{{Property: set.Type.Key[0], Value: v}}
}

// filtersOn matches a filter of the form <property> eq <value>, alone or as the left operand of and.
func filtersOn(property string, value any) any {
	return mock.MatchedBy(func(opts *query.Options) bool {
		e := opts.Filter
		if and, ok := e.(*query.BinaryExpr); ok && and.Op == "and" {
			e = and.Left
		}
		cmp, ok := e.(*query.BinaryExpr)
		if !ok || cmp.Op != "eq" {
			return false
		}
		p, ok := cmp.Left.(*query.PropertyExpr)
		v, ok2 := cmp.Right.(*query.ValueExpr)
		return ok && ok2 && p.Property.Name == property && v.Value == value
	})
}

func TestEntityService_Get(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		key     func(f *fixture) []query.KeyValue
		setup   func(f *fixture)
		want    any
		wantErr error
	}{
		{
			name: "found",
			key:  func(f *fixture) []query.KeyValue { return key(f.customers, 1) },
			setup: func(f *fixture) {
				f.repo.On("FindByKey", ctx, f.customers, key(f.customers, 1)).Return(&model.Customer{Id: 1, Name: "Ann"}, nil)
			},
			want: &model.Customer{Id: 1, Name: "Ann"},
		},
		{
			name: "not found",
			key:  func(f *fixture) []query.KeyValue { return key(f.customers, 2) },
			setup: func(f *fixture) {
				f.repo.On("FindByKey", ctx, f.customers, key(f.customers, 2)).Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name:    "missing key",
			key:     func(*fixture) []query.KeyValue { return nil },
			setup:   func(*fixture) {},
			wantErr: ErrKeyRequired,
		},
		{
			name: "repository failure",
			key:  func(f *fixture) []query.KeyValue { return key(f.customers, 3) },
			setup: func(f *fixture) {
				f.repo.On("FindByKey", ctx, f.customers, key(f.customers, 3)).Return(nil, errors.New("db down"))
			},
			wantErr: errors.New("db down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			got, err := f.svc.Get(ctx, f.customers, tt.key(f))

			if tt.wantErr != nil {
				if errors.Is(tt.wantErr, ErrNotFound) || errors.Is(tt.wantErr, ErrKeyRequired) {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.EqualError(t, err, tt.wantErr.Error())
				}
				assert.Nil(t, got)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			f.repo.AssertExpectations(t)
		})
	}
}

func TestEntityService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("validation error", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Create(ctx, f.customers, &model.Customer{Id: 1})

		assert.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "name is required")
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("nil entity", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, f.customers, nil)
		assert.ErrorIs(t, err, ErrEntityNil)
	})

	t.Run("stored", func(t *testing.T) {
		f := newFixture(t)
		c := &model.Customer{Id: 4, Name: "Dee"}
		f.repo.On("Create", ctx, f.customers, c).Return(c, nil)

		got, err := f.svc.Create(ctx, f.customers, c)

		assert.NoError(t, err)
		assert.Equal(t, c, got)
		f.repo.AssertExpectations(t)
	})
}

func TestEntityService_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("replace missing row", func(t *testing.T) {
		f := newFixture(t)
		c := &model.Customer{Id: 9, Name: "Zed"}
		f.repo.On("Update", ctx, f.customers, key(f.customers, 9), c).Return(sql.ErrNoRows)

		assert.ErrorIs(t, f.svc.Replace(ctx, f.customers, key(f.customers, 9), c), ErrNotFound)
	})

	t.Run("delete removes media of streamed entities", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Delete", ctx, f.products, key(f.products, 3)).Return(nil)
		f.store.On("Delete", ctx, "Products/3").Return(nil)

		assert.NoError(t, f.svc.Delete(ctx, f.products, key(f.products, 3)))
		f.store.AssertExpectations(t)
	})

	t.Run("delete without stream leaves storage alone", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Delete", ctx, f.orders, key(f.orders, 3)).Return(nil)

		assert.NoError(t, f.svc.Delete(ctx, f.orders, key(f.orders, 3)))
		f.store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestEntityService_Patch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	price, _ := f.products.Type.Property("price")
	id := f.products.Type.Key[0]

	f.repo.On("FindByKey", ctx, f.products, key(f.products, 3)).
		Return(&model.Product{Id: 3, Name: "Desk", Price: 100, EnumValue: model.ValueTwo}, nil)
	merged := &model.Product{Id: 3, Name: "Desk", Price: 80, EnumValue: model.ValueTwo}
	f.repo.On("Patch", ctx, f.products, key(f.products, 3), []*edm.Property{id, price}, merged).Return(nil)

	got, err := f.svc.Patch(ctx, f.products, key(f.products, 3), []*edm.Property{id, price}, &model.Product{Id: 99, Price: 80})

	require.NoError(t, err)
	assert.Equal(t, merged, got)
	f.repo.AssertExpectations(t)
}

func TestEntityService_Navigation(t *testing.T) {
	ctx := context.Background()

	t.Run("related orders", func(t *testing.T) {
		f := newFixture(t)
		nav, _ := f.customers.Type.NavigationProperty("orders")
		f.repo.On("FindByKey", ctx, f.customers, key(f.customers, 1)).Return(&model.Customer{Id: 1, Name: "Ann"}, nil)
		f.repo.On("List", ctx, f.orders, filtersOn("customerId", 1)).
			Return(&repository.PageResult[any]{Items: []any{&model.Order{OrderId: 10, CustomerId: 1}}, Total: 1}, nil)

		res, err := f.svc.Related(ctx, f.model, f.customers, key(f.customers, 1), nav, &query.Options{})

		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		assert.Equal(t, []any{&model.Order{OrderId: 10, CustomerId: 1}}, res.Items)
	})

	t.Run("related customer", func(t *testing.T) {
		f := newFixture(t)
		nav, _ := f.orders.Type.NavigationProperty("customer")
		f.repo.On("FindByKey", ctx, f.orders, key(f.orders, 10)).Return(&model.Order{OrderId: 10, CustomerId: 2}, nil)
		f.repo.On("FindByKey", ctx, f.customers, key(f.customers, 2)).Return(&model.Customer{Id: 2, Name: "Bob"}, nil)

		got, err := f.svc.RelatedOne(ctx, f.model, f.orders, key(f.orders, 10), nav)

		require.NoError(t, err)
		assert.Equal(t, &model.Customer{Id: 2, Name: "Bob"}, got)
	})

	t.Run("expand both directions", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("List", ctx, f.orders, filtersOn("customerId", 1)).
			Return(&repository.PageResult[any]{Items: []any{&model.Order{OrderId: 10, CustomerId: 1}}, Total: 1}, nil)
		f.repo.On("FindByKey", ctx, f.customers, key(f.customers, 1)).Return(&model.Customer{Id: 1, Name: "Ann"}, nil)

		c := &model.Customer{Id: 1, Name: "Ann"}
		require.NoError(t, f.svc.Expand(ctx, f.model, f.customers, []any{c}, []string{"orders"}))
		assert.Equal(t, []model.Order{{OrderId: 10, CustomerId: 1}}, c.Orders)

		o := &model.Order{OrderId: 10, CustomerId: 1}
		require.NoError(t, f.svc.Expand(ctx, f.model, f.orders, []any{o}, []string{"customer"}))
		assert.Equal(t, &model.Customer{Id: 1, Name: "Ann"}, o.Customer)
	})
}

func TestEntityService_Media(t *testing.T) {
	ctx := context.Background()

	t.Run("put", func(t *testing.T) {
		f := newFixture(t)
		r := strings.NewReader("png")
		f.repo.On("FindByKey", ctx, f.products, key(f.products, 3)).Return(&model.Product{Id: 3}, nil)
		f.store.On("Put", ctx, "Products/3", r, storage.PutObjectOptions{
			Size:        3,
			ContentType: "image/png",
			Metadata:    map[string]string{"entity-set": "Products"},
		}).Return(storage.ObjectInfo{Key: "Products/3"}, nil)

		assert.NoError(t, f.svc.PutMedia(ctx, f.products, key(f.products, 3), r, "image/png", 3))
		f.store.AssertExpectations(t)
	})

	t.Run("put without stream", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.PutMedia(ctx, f.orders, key(f.orders, 3), strings.NewReader("x"), "", 1)
		assert.ErrorIs(t, err, ErrNoMedia)
	})

	t.Run("get", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("FindByKey", ctx, f.products, key(f.products, 3)).Return(&model.Product{Id: 3}, nil)
		f.store.On("Get", ctx, "Products/3").
			Return(io.NopCloser(strings.NewReader("png")), storage.ObjectInfo{ContentType: "image/png"}, nil)

		body, ct, err := f.svc.GetMedia(ctx, f.products, key(f.products, 3))

		require.NoError(t, err)
		assert.Equal(t, []byte("png"), body)
		assert.Equal(t, "image/png", ct)
	})

	t.Run("get missing object", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("FindByKey", ctx, f.products, key(f.products, 4)).Return(&model.Product{Id: 4}, nil)
		f.store.On("Get", ctx, "Products/4").Return(nil, storage.ObjectInfo{}, storage.ErrNotFound)

		_, _, err := f.svc.GetMedia(ctx, f.products, key(f.products, 4))

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEntityService_Rate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.Rate(ctx, 1, 6), ErrInvalid)
	assert.ErrorIs(t, f.svc.Rate(ctx, 1, 0), ErrInvalid)

	f.ratings.On("Create", ctx, 1, 5).Return(nil)
	assert.NoError(t, f.svc.Rate(ctx, 1, 5))
	f.ratings.AssertExpectations(t)
}
