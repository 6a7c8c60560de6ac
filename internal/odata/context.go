package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"reflect"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
)

// Context carries one request through controller selection and action execution.
type Context struct {
	ctx context.Context

	Method string
	Route  *Route
	Path   *Path
	// Query holds the bound system query options when the path yields entities.
	Query *query.Options
	// Parameters holds the arguments of the invoked function or action.
	Parameters map[string]any
	Header     http.Header
	Body       []byte
	RequestID  string
	// ControllerName is the registered name of the selected controller, set before action selection.
	ControllerName string
	// ActionName is the name of the selected action.
	ActionName string
}

// NewContext creates a context for resolving a path without a transport request.
func NewContext(ctx context.Context, method string, route *Route, path *Path) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{ctx: ctx, Method: method, Route: route, Path: path, Header: http.Header{}}
}

func (c *Context) Context() context.Context { return c.ctx }

// Model returns the model of the route serving the request.
func (c *Context) Model() *edm.Model { return c.Route.Model }

// Bind decodes the JSON body into target, a pointer to an entity struct of the route's model.
// It returns the structural properties present in the body.
func (c *Context) Bind(target any) ([]*edm.Property, error) {
	et, ok := c.Route.Model.EntityTypeOf(reflect.TypeOf(target))
	if !ok {
		return nil, BadRequest("%T is not an entity type of route %s", target, c.Route.Name)
	}
	obj, err := c.bodyObject()
	if err != nil {
		return nil, err
	}
	props, err := edm.DecodeEntity(et, obj, target)
	if err != nil {
		return nil, BadRequest("invalid %s payload: %v", et.Name, err)
	}
	return props, nil
}

func (c *Context) bodyObject() (map[string]any, error) {
	if len(bytes.TrimSpace(c.Body)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(c.Body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, BadRequest("request body must be a JSON object: %v", err)
	}
	return obj, nil
}

// bindParameters decodes the action parameters of the body.
func (c *Context) bindParameters(op *edm.Operation) error {
	obj, err := c.bodyObject()
	if err != nil {
		return err
	}
	params := make(map[string]any, len(op.Parameters))
	for name, raw := range obj {
		prm, ok := op.Parameter(name)
		if !ok {
			return BadRequest("action %s has no parameter %q", op.Name, name)
		}
		v, err := edm.DecodeValue(prm.Type, raw)
		if err != nil {
			return BadRequest("parameter %s: %v", name, err)
		}
		params[name] = v
	}
	for _, prm := range op.Parameters {
		if _, ok := params[prm.Name]; !ok && !prm.Optional {
			return BadRequest("action %s requires parameter %q", op.Name, prm.Name)
		}
	}
	c.Parameters = params
	return nil
}

// Key returns the value of the named key property of the addressed entity.
func Key[T any](c *Context, name string) (T, bool) {
	var zero T
	for _, kv := range c.Path.Keys() {
		if kv.Property.Name == name {
			v, ok := kv.Value.(T)
			return v, ok
		}
	}
	return zero, false
}

// Param returns a function or action argument converted to T.
func Param[T any](c *Context, name string) (T, bool) {
	var zero T
	raw, ok := c.Parameters[name]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Result is what an action returns. The server renders Value according to the request path.
type Result struct {
	Status int
	Value  any
	// Count is the number of matching entities before paging, reported for $count.
	Count       *int
	ContentType string
	// Body is sent verbatim when set.
	Body []byte
}

func OK(v any) *Result { return &Result{Status: http.StatusOK, Value: v} }

// Page returns a page of entities together with the total before paging.
func Page(items any, count int) *Result {
	return &Result{Status: http.StatusOK, Value: items, Count: &count}
}

// Created returns a newly created entity; the server adds its Location.
func Created(entity any) *Result { return &Result{Status: http.StatusCreated, Value: entity} }

func NoContent() *Result { return &Result{Status: http.StatusNoContent} }

// Stream returns raw media content.
func Stream(contentType string, body []byte) *Result {
	if body == nil {
		body = []byte{}
	}
	return &Result{Status: http.StatusOK, ContentType: contentType, Body: body}
}
