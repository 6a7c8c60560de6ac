// Package odata serves OData routes: it parses resource paths against each route's model,
// selects a controller and action through routing conventions, and renders the results.
package odata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"odatasample/internal/edm"
	"odatasample/internal/http/middleware"
	"odatasample/internal/odata/query"
)

// Route is a model published under a URL prefix.
type Route struct {
	Name        string
	Prefix      string
	Model       *edm.Model
	Conventions []RoutingConvention
	Resolver    query.Resolver
	Settings    query.Settings
	Batch       bool
}

// RouteOption customizes a route.
type RouteOption func(*Route)

// WithConventions replaces the default routing conventions.
func WithConventions(conventions []RoutingConvention) RouteOption {
	return func(r *Route) { r.Conventions = conventions }
}

// WithResolver sets the URI literal resolver.
func WithResolver(resolver query.Resolver) RouteOption {
	return func(r *Route) { r.Resolver = resolver }
}

// WithQuerySettings sets the query options the route accepts.
func WithQuerySettings(settings query.Settings) RouteOption {
	return func(r *Route) { r.Settings = settings }
}

// WithBatch enables $batch on the route.
func WithBatch() RouteOption {
	return func(r *Route) { r.Batch = true }
}

// Request is a transport independent OData request. URL is absolute.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
	ID     string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Server dispatches requests to the controllers of a registry.
type Server struct {
	routes   []*Route
	registry *ControllerRegistry
	selector ControllerSelector
	logger   *zap.Logger
	maxBatch int
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithMaxBatchRequests limits the requests of one $batch; 0 means unlimited.
func WithMaxBatchRequests(n int) ServerOption {
	return func(s *Server) { s.maxBatch = n }
}

func NewServer(registry *ControllerRegistry, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		selector: DefaultControllerSelector{},
		logger:   logger,
		maxBatch: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MapRoute publishes model under prefix. Route names are unique.
func (s *Server) MapRoute(name, prefix string, model *edm.Model, opts ...RouteOption) (*Route, error) {
	if name == "" {
		return nil, fmt.Errorf("route name is required")
	}
	if model == nil {
		return nil, fmt.Errorf("route %s: model is nil", name)
	}
	for _, r := range s.routes {
		if r.Name == name {
			return nil, fmt.Errorf("duplicate route name %s", name)
		}
	}
	r := &Route{
		Name:     name,
		Prefix:   strings.Trim(prefix, "/"),
		Model:    model,
		Resolver: query.DefaultResolver{},
		Settings: query.AllowAll(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Conventions == nil {
		r.Conventions = CreateDefault()
	}
	s.routes = append(s.routes, r)
	s.logger.Info("odata route registered",
		zap.String("route", r.Name),
		zap.String("prefix", "/"+r.Prefix),
		zap.Int("entity_sets", len(model.EntitySets())),
		zap.Bool("batch", r.Batch),
	)
	return r, nil
}

// SetControllerSelector replaces the controller selection strategy.
func (s *Server) SetControllerSelector(sel ControllerSelector) { s.selector = sel }

func (s *Server) ControllerSelector() ControllerSelector { return s.selector }

func (s *Server) Registry() *ControllerRegistry { return s.registry }

// Routes returns the routes in registration order.
func (s *Server) Routes() []*Route { return s.routes }

// Route finds a route by name.
func (s *Server) Route(name string) (*Route, bool) {
	for _, r := range s.routes {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// candidates orders the routes whose prefix matches the path, longest prefix first and in
// registration order among equal prefixes, and returns each with the remaining path.
func (s *Server) candidates(escapedPath string) ([]*Route, []string) {
	p := "/" + strings.Trim(escapedPath, "/")
	var (
		routes []*Route
		rests  []string
	)
	for _, r := range s.routes {
		base := "/" + r.Prefix
		switch {
		case r.Prefix == "":
			routes, rests = append(routes, r), append(rests, p)
		case p == base:
			routes, rests = append(routes, r), append(rests, "")
		case strings.HasPrefix(p, base+"/"):
			routes, rests = append(routes, r), append(rests, p[len(base):])
		}
	}
	idx := make([]int, len(routes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return len(routes[idx[a]].Prefix) > len(routes[idx[b]].Prefix) })
	outRoutes, outRests := make([]*Route, len(idx)), make([]string, len(idx))
	for i, j := range idx {
		outRoutes[i], outRests[i] = routes[j], rests[j]
	}
	return outRoutes, outRests
}

// match finds the first route whose model parses the request path.
func (s *Server) match(u *url.URL) (*Route, *Path, error) {
	routes, rests := s.candidates(u.EscapedPath())
	values := u.Query()
	for i, r := range routes {
		path, err := ParsePath(r.Model, r.Resolver, rests[i], values)
		if errors.Is(err, ErrPathNotMatched) {
			continue
		}
		if err != nil {
			return r, nil, err
		}
		return r, path, nil
	}
	return nil, nil, NotFound("no resource matches %s", u.Path)
}

var tracer = otel.Tracer("odatasample/internal/odata")

// Serve handles one request.
func (s *Server) Serve(ctx context.Context, req *Request) *Response {
	ctx, span := tracer.Start(ctx, "odata "+req.Method, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	resp, err := s.serve(ctx, req, false)
	if err != nil {
		e, known := asError(err)
		span.SetAttributes(attribute.String("odata.error_code", e.Code))
		if !known {
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("odata request failed",
				zap.String("request_id", req.ID),
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.Error(err),
			)
		}
		return errorResponse(req.ID, e)
	}
	return resp
}

func (s *Server) serve(ctx context.Context, req *Request, inBatch bool) (*Response, error) {
	route, path, err := s.match(req.URL)
	if err != nil {
		return nil, err
	}

	switch path.Template {
	case TemplateServiceRoot:
		if req.Method != http.MethodGet {
			return nil, methodNotAllowed(req.Method)
		}
		return serviceDocument(serviceRoot(req, route), route.Model)
	case TemplateMetadata:
		if req.Method != http.MethodGet {
			return nil, methodNotAllowed(req.Method)
		}
		return metadataResponse(route.Model)
	case TemplateBatch:
		if !route.Batch {
			return nil, NotFound("route %s does not support $batch", route.Name)
		}
		if req.Method != http.MethodPost {
			return nil, methodNotAllowed(req.Method)
		}
		if inBatch {
			return nil, BadRequest("nested $batch requests are not supported")
		}
		return s.batch(ctx, req, route)
	}

	c := &Context{
		ctx:       ctx,
		Method:    req.Method,
		Route:     route,
		Path:      path,
		Header:    req.Header,
		Body:      req.Body,
		RequestID: req.ID,
	}
	if err := s.bind(c, req.URL.Query()); err != nil {
		return nil, err
	}

	action, err := s.Resolve(c)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("odata.route", route.Name),
		attribute.String("odata.path_template", path.Template),
		attribute.String("odata.controller", c.ControllerName),
		attribute.String("odata.action", c.ActionName),
	)
	res, err := action(c)
	if err != nil {
		return nil, err
	}
	return writeResult(c, req, res)
}

// bind parses query options and operation parameters into c.
func (s *Server) bind(c *Context, values url.Values) error {
	if et := c.Path.EntityType(); et != nil {
		opts, err := query.Parse(c.Context(), values, c.Route.Model, et, c.Route.Settings, c.Route.Resolver)
		if err != nil {
			return err
		}
		if c.Path.IsCount() {
			opts.Count, opts.Top, opts.Skip = true, nil, nil
		}
		c.Query = opts
	}
	if op := c.Path.Operation(); op != nil {
		if op.Kind == edm.ActionKind {
			return c.bindParameters(op)
		}
		last, _ := c.Path.Last()
		c.Parameters = last.Parameters
	}
	return nil
}

// Resolve selects the controller and action for c and records the controller name in c.
func (s *Server) Resolve(c *Context) (Action, error) {
	name := s.selector.ControllerName(c)
	if name == "" {
		return nil, NotFound("no controller was selected to handle %s", c.Path.String())
	}
	ctrl, registered, ok := s.registry.Lookup(name)
	if !ok {
		return nil, NotFound("no controller named %q was found", name)
	}
	c.ControllerName = registered
	actions := ctrl.Actions()
	for _, conv := range c.Route.Conventions {
		if a := conv.SelectAction(c, actions); a != "" {
			c.ActionName = a
			return actions[a], nil
		}
	}
	return nil, NotFound("no action on controller %q matches %s %s", registered, c.Method, c.Path.String())
}

func methodNotAllowed(method string) *Error {
	return &Error{Status: http.StatusMethodNotAllowed, Code: "METHOD_NOT_ALLOWED", Message: method + " is not allowed"}
}

// Mount registers the routes on a fiber router, longest prefix first.
func (s *Server) Mount(router fiber.Router) {
	seen := make(map[string]bool)
	var prefixes []string
	for _, r := range s.routes {
		if !seen[r.Prefix] {
			seen[r.Prefix] = true
			prefixes = append(prefixes, r.Prefix)
		}
	}
	sort.SliceStable(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		router.All("/"+p, s.handle)
		router.All("/"+p+"/*", s.handle)
	}
}

func (s *Server) handle(c *fiber.Ctx) error {
	u, err := url.Parse(c.BaseURL() + c.OriginalURL())
	if err != nil {
		return fiber.ErrBadRequest
	}
	header := http.Header{}
	for k, vs := range c.GetReqHeaders() {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	id, _ := c.Locals(middleware.RequestIDLocalKey).(string)
	resp := s.Serve(c.UserContext(), &Request{
		Method: c.Method(),
		URL:    u,
		Header: header,
		Body:   bytes.Clone(c.Body()),
		ID:     id,
	})
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Set(k, v)
		}
	}
	return c.Status(resp.Status).Send(resp.Body)
}
