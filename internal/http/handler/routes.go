package handler

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"odatasample/docs"
	"odatasample/internal/odata"
)

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>OData Sample API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.json',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// The OData routes are mounted last so that the fixed endpoints win.
func RegisterRoutes(app *fiber.App, db *sql.DB, server *odata.Server, gatherer prometheus.Gatherer) {
	app.Get("/openapi.json", OpenAPIDocument())
	app.Get("/docs", func(c *fiber.Ctx) error {
		return c.Type("html").SendString(docsPage)
	})
	app.Get("/swagger/*", SwaggerUI())

	app.Get("/health", HealthCheck(db))
	// Backward-compatible simple liveness probe
	app.Get("/healthz", LivenessProbe())

	if gatherer != nil {
		app.Get("/metrics", Metrics(gatherer))
	}
	if server != nil {
		server.Mount(app)
	}
}

// HealthCheck checks DB connectivity only.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db == nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// Metrics exposes the gathered prometheus metrics.
func Metrics(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// OpenAPIDocument serves the registered Swagger document with the host and scheme the
// request arrived on. The document is rendered from a copy of docs.SwaggerInfo.
func OpenAPIDocument() fiber.Handler {
	return func(c *fiber.Ctx) error {
		info := *docs.SwaggerInfo
		if host := c.Get("Host"); host != "" {
			info.Host = host
		}
		info.Schemes = []string{requestScheme(c)}
		c.Type("json")
		return c.SendString(info.ReadDoc())
	}
}

// SwaggerUI serves the Swagger UI pointed at /openapi.json.
func SwaggerUI() fiber.Handler {
	return swagger.New(swagger.Config{URL: "/openapi.json"})
}

func requestScheme(c *fiber.Ctx) string {
	if proto := c.Get("X-Forwarded-Proto"); proto != "" {
		return strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return c.Protocol()
}
