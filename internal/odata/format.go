package odata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
)

const (
	contentTypeJSON = "application/json; odata.metadata=minimal"
	headerVersion   = "OData-Version"
)

// FormatLiteral renders a value as a URI literal of the referenced type.
func FormatLiteral(ref edm.TypeRef, v any) string {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "null"
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "null"
	}
	if ref.Kind == edm.KindEnum && !ref.Collection {
		if m, ok := ref.Enum.MemberByValue(rv.Int()); ok {
			return ref.Enum.FullName() + "'" + m.Name + "'"
		}
	}
	switch x := rv.Interface().(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.String:
		return "'" + strings.ReplaceAll(rv.String(), "'", "''") + "'"
	}
	return fmt.Sprint(rv.Interface())
}

// FormatKey renders the key of an entity as it appears between parentheses in a URL.
func FormatKey(et *edm.EntityType, entity any) string {
	values := et.KeyOf(entity)
	kvs := make([]query.KeyValue, len(values))
	for i, v := range values {
		kvs[i] = query.KeyValue{Property: et.Key[i], Value: v}
	}
	return formatKeyValues(kvs)
}

func formatKeyValues(kvs []query.KeyValue) string {
	if len(kvs) == 1 {
		return FormatLiteral(kvs[0].Property.Type, kvs[0].Value)
	}
	parts := make([]string, len(kvs))
	for i, kv := range kvs {
		parts[i] = kv.Property.Name + "=" + FormatLiteral(kv.Property.Type, kv.Value)
	}
	return strings.Join(parts, ",")
}

// serviceRoot is the absolute URL of a route, without a trailing slash.
func serviceRoot(req *Request, route *Route) string {
	u := *req.URL
	u.RawQuery, u.Fragment = "", ""
	u.Path, u.RawPath = "/"+route.Prefix, ""
	return strings.TrimSuffix(u.String(), "/")
}

func contextURL(root, fragment string) string {
	return root + "/$metadata#" + fragment
}

func selectSuffix(opts *query.Options) string {
	if opts == nil || len(opts.Select) == 0 {
		return ""
	}
	return "(" + strings.Join(opts.Select, ",") + ")"
}

func jsonResponse(status int, body any) (*Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", contentTypeJSON)
	h.Set(headerVersion, "4.0")
	return &Response{Status: status, Header: h, Body: b}, nil
}

func rawResponse(status int, contentType string, body []byte) *Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set(headerVersion, "4.0")
	return &Response{Status: status, Header: h, Body: body}
}

type errorBody struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResponse(requestID string, e *Error) *Response {
	b, _ := json.Marshal(errorBody{RequestID: requestID, Error: errorEnvelope{Code: e.Code, Message: e.Message}})
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(headerVersion, "4.0")
	return &Response{Status: e.Status, Header: h, Body: b}
}

// serviceDocument lists the entity sets of a route.
func serviceDocument(root string, model *edm.Model) (*Response, error) {
	sets := make([]*edm.Object, 0, len(model.EntitySets()))
	for _, s := range model.EntitySets() {
		o := edm.NewObject()
		o.Set("name", s.Name)
		o.Set("kind", "EntitySet")
		o.Set("url", s.Name)
		sets = append(sets, o)
	}
	doc := edm.NewObject()
	doc.Set("@odata.context", root+"/$metadata")
	doc.Set("value", sets)
	return jsonResponse(http.StatusOK, doc)
}

// writeResult renders an action result according to the request path.
func writeResult(c *Context, req *Request, res *Result) (*Response, error) {
	if res == nil {
		res = NoContent()
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent {
		return rawResponse(status, "", nil), nil
	}
	if res.Body != nil {
		return rawResponse(status, res.ContentType, res.Body), nil
	}

	v := reflect.ValueOf(res.Value)
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && !v.IsNil() && v.Elem().Kind() != reflect.Struct {
		v = v.Elem()
	}

	if c.Path.IsCount() {
		n := 0
		switch {
		case res.Count != nil:
			n = *res.Count
		case v.IsValid() && v.Kind() == reflect.Slice:
			n = v.Len()
		}
		return rawResponse(status, "text/plain", []byte(strconv.Itoa(n))), nil
	}

	root := serviceRoot(req, c.Route)
	model := c.Route.Model

	et, collection, ok := entityShape(model, v)
	if !ok && v.IsValid() && v.Kind() == reflect.Slice && c.Path.Type != nil && c.Path.Type.Kind == edm.KindEntity {
		et, collection, ok = c.Path.Type.Entity, true, true
	}
	if ok {
		set := c.Path.NavigationSource
		if set == nil || set.Type != et {
			set, _ = model.EntitySetOf(et)
		}
		setName := et.FullName()
		if set != nil {
			setName = set.Name
		}
		proj := c.Query.Projection()

		if collection {
			items := make([]any, 0, v.Len())
			for i := 0; i < v.Len(); i++ {
				items = append(items, edm.EncodeEntity(et, v.Index(i).Interface(), proj))
			}
			body := edm.NewObject()
			body.Set("@odata.context", contextURL(root, setName+selectSuffix(c.Query)))
			if c.Query != nil && c.Query.Count {
				n := len(items)
				if res.Count != nil {
					n = *res.Count
				}
				body.Set("@odata.count", n)
			}
			body.Set("value", items)
			return jsonResponse(status, body)
		}

		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, NotFound("resource not found")
		}
		body := edm.NewObject()
		body.Set("@odata.context", contextURL(root, setName+selectSuffix(c.Query)+"/$entity"))
		obj := edm.EncodeEntity(et, v.Interface(), proj)
		for _, k := range obj.Keys() {
			val, _ := obj.Get(k)
			body.Set(k, val)
		}
		resp, err := jsonResponse(status, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusCreated && set != nil {
			resp.Header.Set("Location", root+"/"+set.Name+"("+FormatKey(et, v.Interface())+")")
		}
		return resp, nil
	}

	// Primitive, enum and complex values, usually function results.
	body := edm.NewObject()
	if ref := c.Path.Type; ref != nil {
		body.Set("@odata.context", contextURL(root, ref.Name()))
		body.Set("value", edm.EncodeValue(*ref, res.Value))
	} else {
		body.Set("value", res.Value)
	}
	return jsonResponse(status, body)
}

// entityShape reports whether v holds an entity or a slice of entities of model.
func entityShape(model *edm.Model, v reflect.Value) (*edm.EntityType, bool, bool) {
	if !v.IsValid() {
		return nil, false, false
	}
	t := v.Type()
	collection := false
	if t.Kind() == reflect.Slice {
		collection = true
		t = t.Elem()
		if t.Kind() == reflect.Interface && v.Len() > 0 {
			t = reflect.Indirect(v.Index(0).Elem()).Type()
		}
	}
	et, ok := model.EntityTypeOf(t)
	return et, collection, ok
}
