package swagger

import (
	"encoding/json"
	"net/http"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatasample/internal/edm"
	"odatasample/internal/model"
	"odatasample/internal/odata"
)

type actions odata.ActionMap

func (a actions) Actions() odata.ActionMap { return odata.ActionMap(a) }

func noop(*odata.Context) (*odata.Result, error) { return odata.NoContent(), nil }

func buildModel(t *testing.T, build func(b *edm.Builder)) *edm.Model {
	t.Helper()
	b := edm.NewBuilder("Default").EnableLowerCamelCase()
	build(b)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func newServer(t *testing.T) (*odata.Server, *odata.Route) {
	t.Helper()
	registry := odata.NewControllerRegistry()
	require.NoError(t, registry.Register("Customers", actions{"Get": noop, "GetByKey": noop, "Post": noop, "Delete": noop, "GetOrders": noop, "PostOrders": noop}))
	require.NoError(t, registry.Register("CustomersV1", actions{"Get": noop}))
	require.NoError(t, registry.Register("Products", actions{"Get": noop, "MostExpensive": noop, "GetPriceRank": noop, "Rate": noop, "GetValue": noop}))

	server := odata.NewServer(registry, nil)
	selector := odata.NewVersionControllerSelector(odata.DefaultControllerSelector{}, registry)
	server.SetControllerSelector(selector)

	customers := buildModel(t, func(b *edm.Builder) {
		b.EntitySet("Customers", reflect.TypeFor[model.Customer]())
		b.EntitySet("Orders", reflect.TypeFor[model.Order]())
	})
	fake := buildModel(t, func(b *edm.Builder) {
		b.EntitySet("FakeCustomers", reflect.TypeFor[model.Customer]())
	})
	products := buildModel(t, func(b *edm.Builder) {
		p := b.EntitySet("Products", reflect.TypeFor[model.Product]()).HasStream()
		p.Collection().Function("MostExpensive").Returns(reflect.TypeFor[float64]())
		p.Function("GetPriceRank").Returns(reflect.TypeFor[int]())
		p.Action("Rate").Parameter("Rating", reflect.TypeFor[int]())
	})

	_, err := server.MapRoute("V1RouteVersioning", "odata/v1", customers)
	require.NoError(t, err)
	require.NoError(t, selector.MapRouteVersion("V1RouteVersioning", "V1"))
	_, err = server.MapRoute("odata/v2", "odata/v2", fake)
	require.NoError(t, err)
	require.NoError(t, selector.MapRouteVersion("odata/v2", "V2"))
	custom, err := server.MapRoute("CustomODataRoute", "odata", customers,
		odata.WithConventions(append([]odata.RoutingConvention{odata.CustomNavigationPropertyRoutingConvention{}}, odata.CreateDefault()...)))
	require.NoError(t, err)
	_, err = server.MapRoute("FunctionsODataRoute", "odata", products)
	require.NoError(t, err)
	_, err = server.MapRoute("DefaultODataRoute", "odata", customers)
	require.NoError(t, err)
	return server, custom
}

func TestGenerate_DocumentsResolvableOperations(t *testing.T) {
	server, _ := newServer(t)
	doc, err := NewGenerator(Info{Title: "OData Sample API", Version: "v1"}).Generate(server)
	require.NoError(t, err)

	assert.Equal(t, "2.0", doc.Swagger)
	assert.Equal(t, "OData Sample API", doc.Info.Title)
	paths := doc.Paths.Paths

	t.Run("versioned route uses the suffixed controller", func(t *testing.T) {
		item, ok := paths["/odata/v1/Customers"]
		require.True(t, ok)
		require.NotNil(t, item.Get)
		assert.Equal(t, "CustomersV1_Get", item.Get.ID)
		assert.Nil(t, item.Post)
		_, ok = paths["/odata/v1/Customers({id})"]
		assert.False(t, ok)
	})

	t.Run("route without controllers documents nothing", func(t *testing.T) {
		for p := range paths {
			assert.NotContains(t, p, "/odata/v2/")
		}
	})

	t.Run("entity set operations", func(t *testing.T) {
		item := paths["/odata/Customers"]
		require.NotNil(t, item.Get)
		require.NotNil(t, item.Post)
		assert.Equal(t, []string{"Customers"}, item.Get.Tags)
		var names []string
		for _, p := range item.Get.Parameters {
			names = append(names, p.Name)
		}
		assert.Equal(t, []string{"$filter", "$expand", "$select", "$orderby", "$top", "$skip", "$count"}, names)

		key := paths["/odata/Customers({id})"]
		require.NotNil(t, key.Get)
		require.NotNil(t, key.Delete)
		assert.Nil(t, key.Put)
		require.NotEmpty(t, key.Get.Parameters)
		assert.Equal(t, "id", key.Get.Parameters[0].Name)
		assert.Equal(t, "path", key.Get.Parameters[0].In)
		assert.Equal(t, "integer", key.Get.Parameters[0].Type)
	})

	t.Run("navigation", func(t *testing.T) {
		nav := paths["/odata/Customers({id})/orders"]
		assert.NotNil(t, nav.Get)
		assert.NotNil(t, nav.Post)
	})

	t.Run("bound operations and media", func(t *testing.T) {
		assert.NotNil(t, paths["/odata/Products/Default.MostExpensive()"].Get)
		assert.NotNil(t, paths["/odata/Products({id})/Default.GetPriceRank()"].Get)
		rate := paths["/odata/Products({id})/Default.Rate"].Post
		require.NotNil(t, rate)
		var body bool
		for _, p := range rate.Parameters {
			if p.In == "body" {
				body = true
				assert.Contains(t, p.Schema.Properties, "Rating")
				assert.Equal(t, []string{"Rating"}, p.Schema.Required)
			}
		}
		assert.True(t, body)
		assert.NotNil(t, paths["/odata/Products({id})/$value"].Get)
		assert.Nil(t, paths["/odata/Products({id})/$value"].Put)
		_, ok := paths["/odata/Products({id})"]
		assert.False(t, ok)
	})

	t.Run("definitions", func(t *testing.T) {
		assert.Contains(t, doc.Definitions, "Default.Customer")
		assert.Contains(t, doc.Definitions, "Default.Product")
		assert.Contains(t, doc.Definitions, errorDefinition)
		enum, ok := doc.Definitions["Default.MyEnum"]
		require.True(t, ok)
		assert.Equal(t, []any{"ValueOne", "ValueTwo", "ValueThree"}, enum.Enum)
	})

	_, err = json.Marshal(doc)
	require.NoError(t, err)
}

func TestGenerate_CustomRoute(t *testing.T) {
	server, custom := newServer(t)
	g := NewGenerator(Info{Title: "t", Version: "1"})
	g.AddCustomRoute(custom, "/Customers({Id})/Orders").
		Operation(http.MethodPost).
		PathParameter("Id", reflect.TypeFor[int]()).
		BodyParameter("order", reflect.TypeFor[model.Order]())

	doc, err := g.Generate(server)
	require.NoError(t, err)

	item, ok := doc.Paths.Paths["/odata/Customers({Id})/Orders"]
	require.True(t, ok)
	require.NotNil(t, item.Post)
	require.Len(t, item.Post.Parameters, 2)
	assert.Equal(t, "Id", item.Post.Parameters[0].Name)
	assert.Equal(t, "integer", item.Post.Parameters[0].Type)
	assert.Equal(t, "order", item.Post.Parameters[1].Name)
	assert.Equal(t, "#/definitions/Default.Order", item.Post.Parameters[1].Schema.Ref.String())

	discovered := doc.Paths.Paths["/odata/Customers({id})/orders"]
	assert.Nil(t, discovered.Post)
	assert.NotNil(t, discovered.Get)
}

func TestGenerate_NilServer(t *testing.T) {
	_, err := NewGenerator(Info{}).Generate(nil)
	assert.Error(t, err)
}
