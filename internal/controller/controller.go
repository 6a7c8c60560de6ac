// Package controller holds the Web API style controllers dispatched by the OData routes.
package controller

import (
	"errors"
	"reflect"

	"odatasample/internal/odata"
	"odatasample/internal/odata/query"
	"odatasample/internal/service"
)

// Register adds every controller of the sample to registry.
func Register(registry *odata.ControllerRegistry, svc service.EntityService) error {
	controllers := []struct {
		name string
		ctrl odata.Controller
	}{
		{"Customers", NewCustomers(svc)},
		{"CustomersV1", NewCustomersV1(svc)},
		{"Orders", NewOrders(svc)},
		{"Products", NewProducts(svc)},
		{"ProductWithEnumKeys", NewProductWithEnumKeys()},
		{"ProductWithCompositeEnumIntKeys", NewProductWithCompositeEnumIntKeys()},
	}
	for _, c := range controllers {
		if err := registry.Register(c.name, c.ctrl); err != nil {
			return err
		}
	}
	return nil
}

// serviceError maps service failures onto protocol errors; anything else stays a 500.
func serviceError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return odata.NotFound("%v", err)
	case errors.Is(err, service.ErrInvalid),
		errors.Is(err, service.ErrKeyRequired),
		errors.Is(err, service.ErrEntityNil),
		errors.Is(err, service.ErrReaderNil),
		errors.Is(err, service.ErrNoMedia):
		return odata.BadRequest("%v", err)
	}
	return err
}

// withFilter narrows opts by filter without modifying opts.
func withFilter(opts *query.Options, filter query.Expr) *query.Options {
	out := query.Options{}
	if opts != nil {
		out = *opts
	}
	if out.Filter != nil {
		filter = &query.BinaryExpr{Op: "and", Left: filter, Right: out.Filter}
	}
	out.Filter = filter
	return &out
}

// applyKey copies the key of the addressed entity into entity.
func applyKey(c *odata.Context, entity any) {
	v := reflect.ValueOf(entity).Elem()
	for _, kv := range c.Path.Keys() {
		v.FieldByIndex(kv.Property.Index).Set(reflect.ValueOf(kv.Value))
	}
}

// entitySet implements the CRUD actions shared by the database-backed controllers.
type entitySet struct {
	svc service.EntityService
}

func (b entitySet) expand(c *odata.Context, items []any) error {
	if c.Query == nil || len(c.Query.Expand) == 0 {
		return nil
	}
	return serviceError(b.svc.Expand(c.Context(), c.Model(), c.Path.EntitySet(), items, c.Query.Expand))
}

func (b entitySet) list(c *odata.Context) (*odata.Result, error) {
	res, err := b.svc.List(c.Context(), c.Path.EntitySet(), c.Query)
	if err != nil {
		return nil, serviceError(err)
	}
	if err := b.expand(c, res.Items); err != nil {
		return nil, err
	}
	return odata.Page(res.Items, res.Total), nil
}

func (b entitySet) get(c *odata.Context) (*odata.Result, error) {
	e, err := b.svc.Get(c.Context(), c.Path.EntitySet(), c.Path.Keys())
	if err != nil {
		return nil, serviceError(err)
	}
	if err := b.expand(c, []any{e}); err != nil {
		return nil, err
	}
	return odata.OK(e), nil
}

func (b entitySet) delete(c *odata.Context) (*odata.Result, error) {
	if err := b.svc.Delete(c.Context(), c.Path.EntitySet(), c.Path.Keys()); err != nil {
		return nil, serviceError(err)
	}
	return odata.NoContent(), nil
}

func createAction[T any](svc service.EntityService) odata.Action {
	return func(c *odata.Context) (*odata.Result, error) {
		var e T
		if _, err := c.Bind(&e); err != nil {
			return nil, err
		}
		stored, err := svc.Create(c.Context(), c.Path.EntitySet(), &e)
		if err != nil {
			return nil, serviceError(err)
		}
		return odata.Created(stored), nil
	}
}

func replaceAction[T any](svc service.EntityService) odata.Action {
	return func(c *odata.Context) (*odata.Result, error) {
		var e T
		if _, err := c.Bind(&e); err != nil {
			return nil, err
		}
		applyKey(c, &e)
		if err := svc.Replace(c.Context(), c.Path.EntitySet(), c.Path.Keys(), &e); err != nil {
			return nil, serviceError(err)
		}
		return odata.NoContent(), nil
	}
}

func patchAction[T any](svc service.EntityService) odata.Action {
	return func(c *odata.Context) (*odata.Result, error) {
		var delta T
		props, err := c.Bind(&delta)
		if err != nil {
			return nil, err
		}
		updated, err := svc.Patch(c.Context(), c.Path.EntitySet(), c.Path.Keys(), props, &delta)
		if err != nil {
			return nil, serviceError(err)
		}
		return odata.OK(updated), nil
	}
}
