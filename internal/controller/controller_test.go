package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"odatasample/internal/config"
	"odatasample/internal/controller"
	"odatasample/internal/edm"
	"odatasample/internal/model"
	"odatasample/internal/odata"
	"odatasample/internal/odataconfig"
	"odatasample/internal/service"
	"odatasample/internal/service/mocks"
)

func newServer(t *testing.T) (*odata.Server, *mocks.MockEntityService) {
	t.Helper()
	svc := new(mocks.MockEntityService)
	registry := odata.NewControllerRegistry()
	require.NoError(t, controller.Register(registry, svc))
	server := odata.NewServer(registry, nil)
	_, err := odataconfig.Register(server, registry, odataconfig.Deps{
		Config:  config.ODataConfig{Namespace: "Default", EnableEnumPrefixFree: true},
		Service: svc,
	})
	require.NoError(t, err)
	return server, svc
}

func serve(t *testing.T, server *odata.Server, method, target, contentType, body string) (*odata.Response, map[string]any) {
	t.Helper()
	u, err := url.Parse("http://localhost" + target)
	require.NoError(t, err)
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	resp := server.Serve(context.Background(), &odata.Request{Method: method, URL: u, Header: h, Body: []byte(body), ID: "test"})
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && len(resp.Body) > 0 {
		require.NoError(t, json.Unmarshal(resp.Body, &out))
	}
	return resp, out
}

func setNamed(name string) any {
	return mock.MatchedBy(func(s *edm.EntitySet) bool { return s.Name == name })
}

func TestRegister_Duplicate(t *testing.T) {
	registry := odata.NewControllerRegistry()
	svc := new(mocks.MockEntityService)
	require.NoError(t, controller.Register(registry, svc))
	assert.Error(t, controller.Register(registry, svc))
	assert.True(t, registry.Has("customersv1"))
}

func TestCustomers(t *testing.T) {
	server, svc := newServer(t)

	t.Run("create", func(t *testing.T) {
		svc.On("Create", mock.Anything, setNamed("Customers"), mock.MatchedBy(func(c *model.Customer) bool { return c.Name == "Bob" })).
			Return(&model.Customer{Id: 3, Name: "Bob"}, nil).Once()
		resp, body := serve(t, server, http.MethodPost, "/odata/Customers", "application/json", `{"name":"Bob"}`)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Equal(t, float64(3), body["id"])
	})

	t.Run("replace takes the key from the path", func(t *testing.T) {
		svc.On("Replace", mock.Anything, setNamed("Customers"), mock.Anything, mock.MatchedBy(func(c *model.Customer) bool {
			return c.Id == 4 && c.Name == "Eve"
		})).Return(nil).Once()
		resp, _ := serve(t, server, http.MethodPut, "/odata/Customers(4)", "application/json", `{"id":9,"name":"Eve"}`)
		assert.Equal(t, http.StatusNoContent, resp.Status)
	})

	t.Run("patch", func(t *testing.T) {
		svc.On("Patch", mock.Anything, setNamed("Customers"), mock.Anything, mock.MatchedBy(func(props []*edm.Property) bool {
			return len(props) == 1 && props[0].Name == "name"
		}), mock.Anything).Return(&model.Customer{Id: 4, Name: "Zed"}, nil).Once()
		resp, body := serve(t, server, http.MethodPatch, "/odata/Customers(4)", "application/json", `{"name":"Zed"}`)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "Zed", body["name"])
	})

	t.Run("orders of a customer", func(t *testing.T) {
		svc.On("Related", mock.Anything, mock.Anything, setNamed("Customers"), mock.Anything, mock.Anything, mock.Anything).
			Return(&service.ListResult{Items: []any{&model.Order{OrderId: 1, OrderName: "Pen", CustomerId: 4}}, Total: 1}, nil).Once()
		resp, body := serve(t, server, http.MethodGet, "/odata/Customers(4)/orders", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Len(t, body["value"], 1)
	})

	t.Run("not found", func(t *testing.T) {
		svc.On("Get", mock.Anything, setNamed("Customers"), mock.Anything).Return(nil, service.ErrNotFound).Once()
		resp, body := serve(t, server, http.MethodGet, "/odata/Customers(99)", "", "")
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Equal(t, "test", body["request_id"])
	})

	t.Run("unexpected failure", func(t *testing.T) {
		svc.On("List", mock.Anything, setNamed("Customers"), mock.Anything).Return(nil, errors.New("connection reset")).Once()
		resp, _ := serve(t, server, http.MethodGet, "/odata/Customers", "", "")
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
	})

	svc.AssertExpectations(t)
}

func TestOrders(t *testing.T) {
	server, svc := newServer(t)

	svc.On("RelatedOne", mock.Anything, mock.Anything, setNamed("Orders"), mock.Anything, mock.MatchedBy(func(n *edm.NavigationProperty) bool {
		return n.Name == "customer"
	})).Return(&model.Customer{Id: 1, Name: "Ann"}, nil).Once()
	resp, body := serve(t, server, http.MethodGet, "/odata/Orders(2)/customer", "", "")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Ann", body["name"])

	svc.On("Create", mock.Anything, setNamed("Orders"), mock.Anything).Return(nil, service.ErrInvalid).Once()
	resp, _ = serve(t, server, http.MethodPost, "/odata/Orders", "application/json", `{"orderName":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	svc.AssertExpectations(t)
}

func TestProducts(t *testing.T) {
	server, svc := newServer(t)
	phone := &model.Product{Id: 1, Name: "Phone", Price: 200, EnumValue: model.ValueTwo}

	t.Run("GetByEnumValue", func(t *testing.T) {
		svc.On("List", mock.Anything, setNamed("Products"), mock.Anything).
			Return(&service.ListResult{Items: []any{phone}, Total: 1}, nil).Once()
		resp, body := serve(t, server, http.MethodGet, "/odata/Products/Default.GetByEnumValue(EnumValue=Default.MyEnum'ValueTwo')", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Len(t, body["value"], 1)
	})

	t.Run("IsEnumValueMatch", func(t *testing.T) {
		svc.On("Get", mock.Anything, setNamed("Products"), mock.Anything).Return(phone, nil).Once()
		resp, body := serve(t, server, http.MethodGet, "/odata/Products(1)/Default.IsEnumValueMatch(EnumValue=Default.MyEnum'ValueOne')", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, false, body["value"])
	})

	t.Run("ProductsWithIds", func(t *testing.T) {
		svc.On("List", mock.Anything, setNamed("Products"), mock.Anything).
			Return(&service.ListResult{Items: []any{phone}, Total: 1}, nil).Once()
		resp, _ := serve(t, server, http.MethodGet, "/odata/Products/Default.ProductsWithIds(Ids=@ids)?@ids=[1,2]", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
	})

	t.Run("Top10", func(t *testing.T) {
		svc.On("List", mock.Anything, setNamed("Products"), mock.Anything).
			Return(&service.ListResult{Items: []any{phone}, Total: 5}, nil).Once()
		resp, body := serve(t, server, http.MethodGet, "/odata/Products/Default.Top10()", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Len(t, body["value"], 1)
	})

	t.Run("unknown state has no tax", func(t *testing.T) {
		svc.On("Get", mock.Anything, setNamed("Products"), mock.Anything).Return(phone, nil).Once()
		resp, body := serve(t, server, http.MethodGet, "/odata/Products(1)/Default.CalculateGeneralSalesTax(state='ZZ')", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, float64(0), body["value"])
	})

	t.Run("PostArray returns the last product", func(t *testing.T) {
		svc.On("Create", mock.Anything, setNamed("Products"), mock.Anything).Return(&model.Product{Id: 5, Name: "A"}, nil).Once()
		svc.On("Create", mock.Anything, setNamed("Products"), mock.Anything).Return(&model.Product{Id: 6, Name: "B"}, nil).Once()
		resp, body := serve(t, server, http.MethodPost, "/odata/Products/Default.PostArray", "application/json",
			`{"products":[{"name":"A","price":1,"enumValue":"ValueOne"},{"name":"B","price":2,"enumValue":"ValueTwo"}]}`)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, float64(6), body["id"])
	})

	t.Run("PostArray validates every product first", func(t *testing.T) {
		resp, _ := serve(t, server, http.MethodPost, "/odata/Products/Default.PostArray", "application/json",
			`{"products":[{"name":"A","price":1},{"name":"","price":-1}]}`)
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("Rate out of range", func(t *testing.T) {
		svc.On("Get", mock.Anything, setNamed("Products"), mock.Anything).Return(phone, nil).Once()
		svc.On("Rate", mock.Anything, 1, 9).Return(service.ErrInvalid).Once()
		resp, _ := serve(t, server, http.MethodPost, "/odata/Products(1)/Default.Rate", "application/json", `{"Rating":9}`)
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("media stream", func(t *testing.T) {
		svc.On("PutMedia", mock.Anything, setNamed("Products"), mock.Anything, mock.MatchedBy(func(r io.Reader) bool { return r != nil }), "image/png", int64(4)).
			Return(nil).Once()
		resp, _ := serve(t, server, http.MethodPut, "/odata/Products(1)/$value", "image/png", "\x89PNG")
		assert.Equal(t, http.StatusNoContent, resp.Status)

		svc.On("GetMedia", mock.Anything, setNamed("Products"), mock.Anything).Return([]byte("\x89PNG"), "image/png", nil).Once()
		resp, _ = serve(t, server, http.MethodGet, "/odata/Products(1)/$value", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, []byte("\x89PNG"), resp.Body)

		svc.On("GetMedia", mock.Anything, setNamed("Products"), mock.Anything).Return(nil, "", service.ErrNotFound).Once()
		resp, _ = serve(t, server, http.MethodGet, "/odata/Products(2)/$value", "", "")
		assert.Equal(t, http.StatusNotFound, resp.Status)
	})

	svc.AssertExpectations(t)
}

func TestEnumKeyControllers(t *testing.T) {
	server, _ := newServer(t)

	t.Run("filter by enum", func(t *testing.T) {
		resp, body := serve(t, server, http.MethodGet, "/odata/ProductWithEnumKeys?$filter=enumValue%20eq%20Default.MyEnum'ValueOne'", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		items := body["value"].([]any)
		require.Len(t, items, 1)
		assert.Equal(t, "ValueOneName", items[0].(map[string]any)["name"])
	})

	t.Run("count", func(t *testing.T) {
		resp, body := serve(t, server, http.MethodGet, "/odata/ProductWithCompositeEnumIntKeys?$count=true&$top=1", "", "")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, float64(4), body["@odata.count"])
		assert.Len(t, body["value"], 1)
	})

	t.Run("missing composite key", func(t *testing.T) {
		resp, _ := serve(t, server, http.MethodGet, "/odata/ProductWithCompositeEnumIntKeys(enumValue='ValueThree',id=1)", "", "")
		assert.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("unknown member", func(t *testing.T) {
		resp, _ := serve(t, server, http.MethodGet, "/odata/ProductWithEnumKeys('ValueFour')", "", "")
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})
}
