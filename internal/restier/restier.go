// Package restier publishes every entity set of a model through one generic controller backed
// by the entity service, without per-set controller code.
package restier

import (
	"errors"
	"net/http"
	"reflect"

	"odatasample/internal/edm"
	"odatasample/internal/odata"
	"odatasample/internal/odata/query"
	"odatasample/internal/service"
)

// MapRoute registers the generic controller under the route name and maps the route with
// batch support, every query option enabled and no $top limit. opts are applied last.
func MapRoute(server *odata.Server, registry *odata.ControllerRegistry, name, prefix string, model *edm.Model, svc service.EntityService, opts ...odata.RouteOption) (*odata.Route, error) {
	if err := registry.Register(name, NewController(svc)); err != nil {
		return nil, err
	}
	base := []odata.RouteOption{
		odata.WithConventions([]odata.RoutingConvention{Convention{Controller: name}}),
		odata.WithQuerySettings(query.AllowAll()),
		odata.WithBatch(),
	}
	return server.MapRoute(name, prefix, model, append(base, opts...)...)
}

// Convention sends every path that starts at an entity set to Controller.
type Convention struct {
	Controller string
}

func (cv Convention) SelectController(c *odata.Context) string {
	if c.Path.EntitySet() == nil {
		return ""
	}
	return cv.Controller
}

func (Convention) SelectAction(c *odata.Context, actions odata.ActionMap) string {
	switch c.Path.Template {
	case odata.TemplateEntitySet:
		switch c.Method {
		case http.MethodGet:
			return actions.Find("Query")
		case http.MethodPost:
			return actions.Find("Insert")
		}
	case odata.TemplateEntitySetCount, odata.TemplateNavigation, odata.TemplateNavigationCount:
		if c.Method == http.MethodGet {
			return actions.Find("Query")
		}
	case odata.TemplateEntity:
		switch c.Method {
		case http.MethodGet:
			return actions.Find("Query")
		case http.MethodPut:
			return actions.Find("Update")
		case http.MethodPatch, "MERGE":
			return actions.Find("Patch")
		case http.MethodDelete:
			return actions.Find("Delete")
		}
	}
	return ""
}

// Controller implements the RESTier verbs over any entity set.
type Controller struct {
	svc service.EntityService
}

func NewController(svc service.EntityService) *Controller {
	return &Controller{svc: svc}
}

func (ctl *Controller) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Query":  ctl.Query,
		"Insert": ctl.Insert,
		"Update": ctl.Update,
		"Patch":  ctl.Patch,
		"Delete": ctl.Delete,
	}
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return odata.NotFound("%v", err)
	case errors.Is(err, service.ErrInvalid), errors.Is(err, service.ErrKeyRequired), errors.Is(err, service.ErrEntityNil):
		return odata.BadRequest("%v", err)
	}
	return err
}

func (ctl *Controller) expand(c *odata.Context, set *edm.EntitySet, items []any) error {
	if c.Query == nil || len(c.Query.Expand) == 0 || len(items) == 0 {
		return nil
	}
	return serviceError(ctl.svc.Expand(c.Context(), c.Model(), set, items, c.Query.Expand))
}

// Query reads entity sets, single entities and navigation properties, including $count.
func (ctl *Controller) Query(c *odata.Context) (*odata.Result, error) {
	ctx, set, keys := c.Context(), c.Path.EntitySet(), c.Path.Keys()
	switch c.Path.Template {
	case odata.TemplateEntitySet, odata.TemplateEntitySetCount:
		res, err := ctl.svc.List(ctx, set, c.Query)
		if err != nil {
			return nil, serviceError(err)
		}
		if err := ctl.expand(c, set, res.Items); err != nil {
			return nil, err
		}
		return odata.Page(res.Items, res.Total), nil
	case odata.TemplateEntity:
		e, err := ctl.svc.Get(ctx, set, keys)
		if err != nil {
			return nil, serviceError(err)
		}
		if err := ctl.expand(c, set, []any{e}); err != nil {
			return nil, err
		}
		return odata.OK(e), nil
	}

	nav := c.Path.Navigation()
	target, _ := c.Model().EntitySetOf(nav.Target)
	if nav.Collection {
		res, err := ctl.svc.Related(ctx, c.Model(), set, keys, nav, c.Query)
		if err != nil {
			return nil, serviceError(err)
		}
		if target != nil {
			if err := ctl.expand(c, target, res.Items); err != nil {
				return nil, err
			}
		}
		return odata.Page(res.Items, res.Total), nil
	}
	e, err := ctl.svc.RelatedOne(ctx, c.Model(), set, keys, nav)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.OK(e), nil
}

func (ctl *Controller) Insert(c *odata.Context) (*odata.Result, error) {
	set := c.Path.EntitySet()
	e := set.Type.New()
	if _, err := c.Bind(e); err != nil {
		return nil, err
	}
	stored, err := ctl.svc.Create(c.Context(), set, e)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.Created(stored), nil
}

func (ctl *Controller) Update(c *odata.Context) (*odata.Result, error) {
	set := c.Path.EntitySet()
	e := set.Type.New()
	if _, err := c.Bind(e); err != nil {
		return nil, err
	}
	v := reflect.ValueOf(e).Elem()
	for _, kv := range c.Path.Keys() {
		v.FieldByIndex(kv.Property.Index).Set(reflect.ValueOf(kv.Value))
	}
	if err := ctl.svc.Replace(c.Context(), set, c.Path.Keys(), e); err != nil {
		return nil, serviceError(err)
	}
	return odata.NoContent(), nil
}

func (ctl *Controller) Patch(c *odata.Context) (*odata.Result, error) {
	set := c.Path.EntitySet()
	delta := set.Type.New()
	props, err := c.Bind(delta)
	if err != nil {
		return nil, err
	}
	updated, err := ctl.svc.Patch(c.Context(), set, c.Path.Keys(), props, delta)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.OK(updated), nil
}

func (ctl *Controller) Delete(c *odata.Context) (*odata.Result, error) {
	if err := ctl.svc.Delete(c.Context(), c.Path.EntitySet(), c.Path.Keys()); err != nil {
		return nil, serviceError(err)
	}
	return odata.NoContent(), nil
}
