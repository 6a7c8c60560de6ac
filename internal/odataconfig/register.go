// Package odataconfig registers the OData routes of the sample: model variants, prefixes,
// routing conventions, URI resolvers and the version-aware controller selector.
package odataconfig

import (
	"fmt"
	"net/http"
	"reflect"

	"go.uber.org/zap"

	"odatasample/internal/config"
	"odatasample/internal/edm"
	"odatasample/internal/model"
	"odatasample/internal/odata"
	"odatasample/internal/odata/query"
	"odatasample/internal/restier"
	"odatasample/internal/service"
	"odatasample/internal/swagger"
)

const ODataRoutePrefix = "odata"

// Route names.
const (
	V1Route               = "V1RouteVersioning"
	V2Route               = "odata/v2"
	CustomRoute           = "CustomODataRoute"
	FunctionsRoute        = "FunctionsODataRoute"
	DefaultRoute          = "DefaultODataRoute"
	EnumRoute             = "EnumODataRoute"
	EnumIntCompositeRoute = "EnumIntCompositeODataRoute"
	RestierRoute          = "RESTierRoute"
)

const (
	restierPrefix        = "restier"
	customOrdersTemplate = "/Customers({Id})/Orders"
)

// Deps are the collaborators of Register. Swagger may be nil.
type Deps struct {
	Config  config.ODataConfig
	Service service.EntityService
	Swagger *swagger.Generator
	Logger  *zap.Logger
}

// Registration describes what Register installed.
type Registration struct {
	Selector *odata.VersionControllerSelector
	Routes   []*odata.Route
}

// Register maps every route of the sample on server. The controllers of registry must be
// registered beforehand: attribute routes are collected while the enum routes are mapped.
// The first error aborts registration.
func Register(server *odata.Server, registry *odata.ControllerRegistry, deps Deps) (*Registration, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ns := deps.Config.Namespace
	settings := query.AllowAll()
	settings.MaxTop = deps.Config.MaxTop

	reg := &Registration{Selector: odata.NewVersionControllerSelector(server.ControllerSelector(), registry)}
	server.SetControllerSelector(reg.Selector)

	mapRoute := func(name, prefix string, build func(string) (*edm.Model, error), opts ...odata.RouteOption) (*odata.Route, error) {
		m, err := build(ns)
		if err != nil {
			return nil, fmt.Errorf("build model for %s: %w", name, err)
		}
		r, err := server.MapRoute(name, prefix, m, append([]odata.RouteOption{odata.WithQuerySettings(settings)}, opts...)...)
		if err != nil {
			return nil, err
		}
		reg.Routes = append(reg.Routes, r)
		return r, nil
	}

	// Versioned route.
	if _, err := mapRoute(V1Route, "odata/v1", VersionedModel); err != nil {
		return nil, err
	}
	if err := reg.Selector.MapRouteVersion(V1Route, "V1"); err != nil {
		return nil, err
	}

	// Versioned route that doesn't map to any controller.
	if _, err := mapRoute(V2Route, "odata/v2", FakeModel); err != nil {
		return nil, err
	}
	if err := reg.Selector.MapRouteVersion(V2Route, "V2"); err != nil {
		return nil, err
	}

	// Custom routing conventions.
	conventions := append([]odata.RoutingConvention{odata.CustomNavigationPropertyRoutingConvention{}}, odata.CreateDefault()...)
	custom, err := mapRoute(CustomRoute, ODataRoutePrefix, CustomRouteModel, odata.WithConventions(conventions))
	if err != nil {
		return nil, err
	}
	if deps.Swagger != nil {
		deps.Swagger.AddCustomRoute(custom, customOrdersTemplate).
			Operation(http.MethodPost).
			PathParameter("Id", reflect.TypeFor[int]()).
			BodyParameter("order", reflect.TypeFor[model.Order]())
	}

	if _, err := mapRoute(FunctionsRoute, ODataRoutePrefix, FunctionsModel); err != nil {
		return nil, err
	}

	// Default route, the catch-all of the odata prefix among the convention routes.
	if _, err := mapRoute(DefaultRoute, ODataRoutePrefix, DefaultModel); err != nil {
		return nil, err
	}

	var resolver query.Resolver = query.DefaultResolver{}
	if deps.Config.EnableEnumPrefixFree {
		resolver = query.StringAsEnumResolver{}
	}
	for _, r := range []struct {
		name  string
		build func(string) (*edm.Model, error)
	}{
		{EnumRoute, ProductWithEnumKeyModel},
		{EnumIntCompositeRoute, ProductWithCompositeEnumIntKeyModel},
	} {
		m, err := r.build(ns)
		if err != nil {
			return nil, fmt.Errorf("build model for %s: %w", r.name, err)
		}
		conventions, err := odata.CreateDefaultWithAttributeRouting(r.name, m, registry)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.name, err)
		}
		route, err := server.MapRoute(r.name, ODataRoutePrefix, m,
			odata.WithQuerySettings(settings),
			odata.WithConventions(conventions),
			odata.WithResolver(resolver),
		)
		if err != nil {
			return nil, err
		}
		reg.Routes = append(reg.Routes, route)
	}

	restierModel, err := RestierModel(ns)
	if err != nil {
		return nil, fmt.Errorf("build model for %s: %w", RestierRoute, err)
	}
	rr, err := restier.MapRoute(server, registry, RestierRoute, restierPrefix, restierModel, deps.Service)
	if err != nil {
		return nil, err
	}
	reg.Routes = append(reg.Routes, rr)

	logger.Info("odata routes registered",
		zap.Int("routes", len(reg.Routes)),
		zap.Bool("enum_prefix_free", deps.Config.EnableEnumPrefixFree),
	)
	return reg, nil
}
