package postgres

import (
	"context"
	"database/sql"
	"net/url"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatasample/internal/edm"
	"odatasample/internal/model"
	"odatasample/internal/odata/query"
)

func sampleModel(t *testing.T) *edm.Model {
	t.Helper()
	b := edm.NewBuilder("Default").EnableLowerCamelCase()
	b.EntitySet("Customers", reflect.TypeFor[model.Customer]())
	b.EntitySet("Orders", reflect.TypeFor[model.Order]())
	b.EntitySet("Products", reflect.TypeFor[model.Product]())
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func set(t *testing.T, m *edm.Model, name string) *edm.EntitySet {
	t.Helper()
	s, ok := m.EntitySet(name)
	require.True(t, ok)
	return s
}

func productKey(s *edm.EntitySet, id int) []query.KeyValue {
	return []query.KeyValue{{Property: s.Type.Key[0], Value: id}}
}

func TestEntityPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	m := sampleModel(t)
	products := set(t, m, "Products")
	repo := NewEntityPostgres(db)
	ctx := context.Background()

	t.Run("filter order page and count", func(t *testing.T) {
		opts, err := query.Parse(ctx, url.Values{
			"$filter":  {"price gt 10 and contains(name,'ar')"},
			"$orderby": {"price desc"},
			"$top":     {"2"},
			"$skip":    {"1"},
			"$count":   {"true"},
		}, m, products.Type, query.AllowAll(), query.DefaultResolver{})
		require.NoError(t, err)

		where := ` WHERE ("price" > $1 AND strpos("name", $2) > 0)`
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "products"` + where)).
			WithArgs(10.0, "ar").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "price", "enum_value" FROM "products"` + where + ` ORDER BY "price" DESC, "id" LIMIT $3 OFFSET $4`)).
			WithArgs(10.0, "ar", 2, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "enum_value"}).
				AddRow(2, "Bar", 20.5, "ValueTwo").
				AddRow(3, "Car", 15.0, "ValueThree"))

		page, err := repo.List(ctx, products, opts)

		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Items, 2)
		assert.Equal(t, &model.Product{Id: 2, Name: "Bar", Price: 20.5, EnumValue: model.ValueTwo}, page.Items[0])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null and enum comparisons", func(t *testing.T) {
		opts, err := query.Parse(ctx, url.Values{
			"$filter": {"enumValue eq Default.MyEnum'ValueOne' or not (name ne null)"},
		}, m, products.Type, query.AllowAll(), query.DefaultResolver{})
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "price", "enum_value" FROM "products" WHERE ("enum_value" = $1::"my_enum" OR NOT ("name" IS NOT NULL)) ORDER BY "id"`)).
			WithArgs("ValueOne").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "enum_value"}))

		page, err := repo.List(ctx, products, opts)

		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, 0, page.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("enum ranges and ordering follow member values", func(t *testing.T) {
		opts, err := query.Parse(ctx, url.Values{
			"$filter":  {"enumValue gt Default.MyEnum'ValueOne'"},
			"$orderby": {"enumValue desc"},
		}, m, products.Type, query.AllowAll(), query.DefaultResolver{})
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "price", "enum_value" FROM "products" WHERE "enum_value" > $1::"my_enum" ORDER BY "enum_value" DESC, "id"`)).
			WithArgs("ValueOne").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "enum_value"}).
				AddRow(3, "Three", 4.5, "ValueThree").
				AddRow(2, "Two", 19.99, "ValueTwo"))

		page, err := repo.List(ctx, products, opts)
		require.NoError(t, err)

		stored := []*model.Product{
			{Id: 1, Name: "One", Price: 9.99, EnumValue: model.ValueOne},
			{Id: 2, Name: "Two", Price: 19.99, EnumValue: model.ValueTwo},
			{Id: 3, Name: "Three", Price: 4.5, EnumValue: model.ValueThree},
		}
		want, _, err := query.Apply(stored, opts)
		require.NoError(t, err)
		require.Len(t, page.Items, len(want))
		for i := range want {
			assert.Equal(t, want[i], page.Items[i])
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil options", func(t *testing.T) {
		customers := set(t, m, "Customers")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name" FROM "customers" ORDER BY "id"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Ann"))

		page, err := repo.List(ctx, customers, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		assert.Equal(t, &model.Customer{Id: 1, Name: "Ann"}, page.Items[0])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntityPostgres_FindByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	m := sampleModel(t)
	products := set(t, m, "Products")
	repo := NewEntityPostgres(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "price", "enum_value" FROM "products" WHERE "id" = $1`)).
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "enum_value"}).AddRow(7, "Lamp", 9.5, "ValueOne"))

		p, err := repo.FindByKey(ctx, products, productKey(products, 7))

		assert.NoError(t, err)
		assert.Equal(t, &model.Product{Id: 7, Name: "Lamp", Price: 9.5}, p)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM "products" WHERE "id" = \$1`).
			WithArgs(8).
			WillReturnError(sql.ErrNoRows)

		p, err := repo.FindByKey(ctx, products, productKey(products, 8))

		assert.ErrorIs(t, err, sql.ErrNoRows)
		assert.Nil(t, p)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	m := sampleModel(t)
	orders := set(t, m, "Orders")
	repo := NewEntityPostgres(db)

	order := &model.Order{OrderId: 5, OrderName: "first", UnitPrice: 2.5, CustomerId: 1}
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "orders" ("order_id", "order_name", "unit_price", "customer_id") VALUES ($1, $2, $3, $4) RETURNING "order_id", "order_name", "unit_price", "customer_id"`)).
		WithArgs(5, "first", 2.5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "order_name", "unit_price", "customer_id"}).AddRow(5, "first", 2.5, 1))

	stored, err := repo.Create(context.Background(), orders, order)

	assert.NoError(t, err)
	assert.Equal(t, order, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_CreateGeneratedKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	products := set(t, sampleModel(t), "Products")
	repo := NewEntityPostgres(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "products" ("name", "price", "enum_value") VALUES ($1, $2, $3) RETURNING "id", "name", "price", "enum_value"`)).
		WithArgs("Lamp", 9.5, "ValueTwo").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "enum_value"}).AddRow(11, "Lamp", 9.5, "ValueTwo"))

	stored, err := repo.Create(context.Background(), products, &model.Product{Name: "Lamp", Price: 9.5, EnumValue: model.ValueTwo})

	assert.NoError(t, err)
	assert.Equal(t, &model.Product{Id: 11, Name: "Lamp", Price: 9.5, EnumValue: model.ValueTwo}, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityPostgres_UpdatePatchDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	m := sampleModel(t)
	products := set(t, m, "Products")
	repo := NewEntityPostgres(db)
	ctx := context.Background()
	p := &model.Product{Id: 3, Name: "Desk", Price: 120, EnumValue: model.ValueThree}

	t.Run("update", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET "name" = $1, "price" = $2, "enum_value" = $3 WHERE "id" = $4`)).
			WithArgs("Desk", 120.0, "ValueThree", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Update(ctx, products, productKey(products, 3), p))
	})

	t.Run("update missing row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Update(ctx, products, productKey(products, 4), p), sql.ErrNoRows)
	})

	t.Run("patch skips key columns", func(t *testing.T) {
		price, _ := products.Type.Property("price")
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET "price" = $1 WHERE "id" = $2`)).
			WithArgs(120.0, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Patch(ctx, products, productKey(products, 3), []*edm.Property{products.Type.Key[0], price}, p))
	})

	t.Run("delete", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "products" WHERE "id" = $1`)).
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Delete(ctx, products, productKey(products, 3)))
	})

	t.Run("delete missing row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "products" WHERE "id" = $1`)).
			WithArgs(9).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Delete(ctx, products, productKey(products, 9)), sql.ErrNoRows)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRatingPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRatingPostgres(db)
	mock.ExpectExec("INSERT INTO product_ratings").
		WithArgs(4, 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, repo.Create(context.Background(), 4, 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}
