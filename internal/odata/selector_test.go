package odata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSelector string

func (f fixedSelector) ControllerName(*Context) string { return string(f) }

type stubController struct {
	actions ActionMap
	routes  []AttributeRoute
}

func (s stubController) Actions() ActionMap { return s.actions }

type routedController struct{ stubController }

func (r routedController) AttributeRoutes() []AttributeRoute { return r.routes }

func TestVersionControllerSelector(t *testing.T) {
	registry := NewControllerRegistry()
	require.NoError(t, registry.Register("Customers", stubController{}))
	require.NoError(t, registry.Register("CustomersV1", stubController{}))
	require.NoError(t, registry.Register("Orders", stubController{}))

	tests := []struct {
		name  string
		base  string
		route string
		want  string
	}{
		{name: "mapped route with versioned controller", base: "Customers", route: "V1RouteVersioning", want: "CustomersV1"},
		{name: "mapped route without versioned controller", base: "Orders", route: "V1RouteVersioning", want: "Orders"},
		{name: "mapped route whose suffix has no controllers", base: "Customers", route: "odata/v2", want: "Customers"},
		{name: "unmapped route", base: "Customers", route: "DefaultODataRoute", want: "Customers"},
		{name: "empty route name", base: "Customers", route: "", want: "Customers"},
		{name: "empty base name", base: "", route: "V1RouteVersioning", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := NewVersionControllerSelector(fixedSelector(tt.base), registry)
			require.NoError(t, sel.MapRouteVersion("V1RouteVersioning", "V1"))
			require.NoError(t, sel.MapRouteVersion("odata/v2", "V2"))

			c := &Context{Route: &Route{Name: tt.route}}
			assert.Equal(t, tt.want, sel.ControllerName(c))
		})
	}

	t.Run("no route", func(t *testing.T) {
		sel := NewVersionControllerSelector(fixedSelector("Customers"), registry)
		require.NoError(t, sel.MapRouteVersion("V1RouteVersioning", "V1"))
		assert.Equal(t, "Customers", sel.ControllerName(&Context{}))
	})

	t.Run("versioned lookup ignores case", func(t *testing.T) {
		sel := NewVersionControllerSelector(fixedSelector("customers"), registry)
		require.NoError(t, sel.MapRouteVersion("V1RouteVersioning", "v1"))
		assert.Equal(t, "customersv1", sel.ControllerName(&Context{Route: &Route{Name: "V1RouteVersioning"}}))
	})
}

func TestVersionControllerSelector_MapRouteVersion(t *testing.T) {
	sel := NewVersionControllerSelector(nil, NewControllerRegistry())
	require.NoError(t, sel.MapRouteVersion("V1RouteVersioning", "V1"))
	assert.Error(t, sel.MapRouteVersion("V1RouteVersioning", "V2"))
	assert.Error(t, sel.MapRouteVersion("", "V3"))

	suffix, ok := sel.RouteVersion("V1RouteVersioning")
	assert.True(t, ok)
	assert.Equal(t, "V1", suffix)
}

func TestControllerRegistry(t *testing.T) {
	r := NewControllerRegistry()
	require.NoError(t, r.Register("Customers", stubController{}))
	assert.Error(t, r.Register("customers", stubController{}))
	assert.Error(t, r.Register("", stubController{}))
	assert.Error(t, r.Register("Nil", nil))

	_, name, ok := r.Lookup("CUSTOMERS")
	assert.True(t, ok)
	assert.Equal(t, "Customers", name)
	assert.Equal(t, []string{"Customers"}, r.Names())
}

func TestActionMap_Find(t *testing.T) {
	m := ActionMap{"GetOrders": nil, "Get": nil}
	assert.Equal(t, "GetOrders", m.Find("Getorders"))
	assert.Equal(t, "Get", m.Find("GetCustomers", "Get"))
	assert.Equal(t, "", m.Find("Post"))
}
