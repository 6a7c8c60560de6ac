package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-openapi/spec"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatasample/docs"
	"odatasample/internal/edm"
	"odatasample/internal/http/middleware"
	"odatasample/internal/model"
	"odatasample/internal/odata"
)

type customersController struct{}

func (customersController) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get": func(c *odata.Context) (*odata.Result, error) {
			return odata.OK([]model.Customer{{Id: 1, Name: "Ann"}}), nil
		},
	}
}

func newODataServer(t *testing.T) *odata.Server {
	t.Helper()
	registry := odata.NewControllerRegistry()
	require.NoError(t, registry.Register("Customers", customersController{}))
	b := edm.NewBuilder("Default").EnableLowerCamelCase()
	b.EntitySet("Customers", reflect.TypeFor[model.Customer]())
	m, err := b.Build()
	require.NoError(t, err)
	server := odata.NewServer(registry, nil)
	_, err = server.MapRoute("DefaultODataRoute", "odata", m)
	require.NoError(t, err)
	return server
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})

	t.Run("no database", func(t *testing.T) {
		app := fiber.New()
		app.Get("/health", HealthCheck(nil))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "odata_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	app := fiber.New()
	app.Get("/metrics", Metrics(reg))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "odata_test_total 1")
}

func TestOpenAPIDocument(t *testing.T) {
	app := fiber.New()
	app.Get("/openapi.json", OpenAPIDocument())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "2.0", doc["swagger"])
}

func TestOpenAPIDocument_PerRequestHost(t *testing.T) {
	require.NoError(t, docs.Register(&spec.Swagger{SwaggerProps: spec.SwaggerProps{
		Swagger: "2.0",
		Info:    &spec.Info{InfoProps: spec.InfoProps{Title: "OData Sample API", Version: "1.0"}},
		Paths:   &spec.Paths{Paths: map[string]spec.PathItem{}},
	}}))
	app := fiber.New()
	app.Get("/openapi.json", OpenAPIDocument())
	app.Get("/swagger/*", SwaggerUI())
	before := docs.SwaggerInfo.Host

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host := fmt.Sprintf("api-%d.example.com", i)
			req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
			req.Host = host
			if i%2 == 0 {
				req.Header.Set("X-Forwarded-Proto", "https")
			}
			resp, err := app.Test(req)
			if !assert.NoError(t, err) {
				return
			}
			var doc struct {
				Host    string   `json:"host"`
				Schemes []string `json:"schemes"`
			}
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
			assert.Equal(t, host, doc.Host)
			if i%2 == 0 {
				assert.Equal(t, []string{"https"}, doc.Schemes)
			} else {
				assert.Equal(t, []string{"http"}, doc.Schemes)
			}
		}()
	}
	wg.Wait()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, before, docs.SwaggerInfo.Host)
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})
	app.Use(middleware.RequestID())

	// Register all routes
	RegisterRoutes(app, nil, newODataServer(t), prometheus.NewRegistry())

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
		assert.NotEmpty(t, res.RequestID)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		// Fiber returns 405 by default if route exists but method doesn't match
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "METHOD_NOT_ALLOWED", res.Error.Code)
	})

	t.Run("odata entity set", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/odata/Customers", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Value []map[string]any `json:"value"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Value, 1)
		assert.Equal(t, "Ann", body.Value[0]["name"])
	})

	t.Run("odata error envelope carries request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/odata/Nope", nil)
		req.Header.Set(middleware.RequestIDHeader, "rid-1")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "rid-1", res.RequestID)
	})
}
