// Package swagger builds a Swagger 2.0 document from the routes of an OData server.
package swagger

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/spec"

	"odatasample/internal/edm"
	"odatasample/internal/odata"
	"odatasample/internal/odata/query"
)

const errorDefinition = "ODataError"

// Info describes the documented API.
type Info struct {
	Title       string
	Description string
	Version     string
}

// Generator documents the operations an OData server can actually dispatch.
type Generator struct {
	info   Info
	custom []*CustomRoute
}

func NewGenerator(info Info) *Generator {
	return &Generator{info: info}
}

// CustomRoute documents a path that the generator cannot discover from the model,
// usually one served by a custom routing convention.
type CustomRoute struct {
	route      *odata.Route
	template   string
	operations []*CustomOperation
}

// CustomOperation is one HTTP method of a custom route.
type CustomOperation struct {
	route  *CustomRoute
	method string
	params []customParam
}

type customParam struct {
	name string
	in   string
	typ  reflect.Type
}

// AddCustomRoute registers template, relative to the route prefix, e.g. /Customers({Id})/Orders.
func (g *Generator) AddCustomRoute(route *odata.Route, template string) *CustomRoute {
	cr := &CustomRoute{route: route, template: "/" + strings.TrimLeft(template, "/")}
	g.custom = append(g.custom, cr)
	return cr
}

func (r *CustomRoute) Operation(method string) *CustomOperation {
	op := &CustomOperation{route: r, method: strings.ToUpper(method)}
	r.operations = append(r.operations, op)
	return op
}

func (o *CustomOperation) PathParameter(name string, t reflect.Type) *CustomOperation {
	o.params = append(o.params, customParam{name: name, in: "path", typ: t})
	return o
}

func (o *CustomOperation) BodyParameter(name string, t reflect.Type) *CustomOperation {
	o.params = append(o.params, customParam{name: name, in: "body", typ: t})
	return o
}

// candidate is an operation the generator tries to resolve against the server.
type candidate struct {
	method   string
	path     string
	segments []odata.Segment
	build    func(op *spec.Operation, route *odata.Route)
}

type document struct {
	sw   *spec.Swagger
	ids  map[string]int
	tags map[string]bool
}

// Generate walks every route of server and documents each entity set, key, navigation,
// bound operation and media path whose request would reach a controller action.
func (g *Generator) Generate(server *odata.Server) (*spec.Swagger, error) {
	if server == nil {
		return nil, fmt.Errorf("swagger: server is nil")
	}
	d := &document{
		sw: &spec.Swagger{SwaggerProps: spec.SwaggerProps{
			Swagger:     "2.0",
			Info:        &spec.Info{InfoProps: spec.InfoProps{Title: g.info.Title, Description: g.info.Description, Version: g.info.Version}},
			BasePath:    "/",
			Consumes:    []string{"application/json"},
			Produces:    []string{"application/json"},
			Paths:       &spec.Paths{Paths: map[string]spec.PathItem{}},
			Definitions: spec.Definitions{errorDefinition: errorSchema()},
		}},
		ids:  map[string]int{},
		tags: map[string]bool{},
	}

	owners := map[string]string{}
	for _, route := range server.Routes() {
		base := "/" + route.Prefix
		if route.Prefix == "" {
			base = ""
		}
		documented := false
		for _, set := range route.Model.EntitySets() {
			owner := base + "/" + set.Name
			if name, taken := owners[owner]; taken && name != route.Name {
				continue
			}
			owners[owner] = route.Name
			for _, cand := range candidates(route, set) {
				c := odata.NewContext(context.Background(), cand.method, route, odata.NewPath(cand.segments...))
				if _, err := server.Resolve(c); err != nil {
					continue
				}
				op := spec.NewOperation(d.operationID(c)).
					WithTags(set.Name).
					WithSummary(fmt.Sprintf("%s.%s", c.ControllerName, c.ActionName))
				cand.build(op, route)
				op.WithDefaultResponse(spec.NewResponse().WithDescription("Error").WithSchema(definitionRef(errorDefinition)))
				d.add(base+cand.path, cand.method, op)
				d.tags[set.Name] = true
				documented = true
			}
		}
		if documented {
			d.definitions(route.Model)
		}
	}

	for _, cr := range g.custom {
		if err := d.addCustom(cr); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(d.tags))
	for name := range d.tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d.sw.Tags = append(d.sw.Tags, spec.NewTag(name, "", nil))
	}
	return d.sw, nil
}

func (d *document) operationID(c *odata.Context) string {
	id := c.ControllerName + "_" + c.ActionName
	d.ids[id]++
	if n := d.ids[id]; n > 1 {
		id = fmt.Sprintf("%s_%d", id, n)
	}
	return id
}

func (d *document) add(path, method string, op *spec.Operation) {
	item := d.sw.Paths.Paths[path]
	switch method {
	case http.MethodGet:
		item.Get = op
	case http.MethodPost:
		item.Post = op
	case http.MethodPut:
		item.Put = op
	case http.MethodPatch:
		item.Patch = op
	case http.MethodDelete:
		item.Delete = op
	}
	d.sw.Paths.Paths[path] = item
}

func (d *document) remove(path, method string) {
	item, ok := d.sw.Paths.Paths[path]
	if !ok {
		return
	}
	switch method {
	case http.MethodGet:
		item.Get = nil
	case http.MethodPost:
		item.Post = nil
	case http.MethodPut:
		item.Put = nil
	case http.MethodPatch:
		item.Patch = nil
	case http.MethodDelete:
		item.Delete = nil
	}
	if item.Get == nil && item.Post == nil && item.Put == nil && item.Patch == nil && item.Delete == nil {
		delete(d.sw.Paths.Paths, path)
		return
	}
	d.sw.Paths.Paths[path] = item
}

// addCustom documents a custom route, replacing a discovered operation on the same path.
func (d *document) addCustom(cr *CustomRoute) error {
	if cr.route == nil {
		return fmt.Errorf("swagger: custom route %s has no odata route", cr.template)
	}
	path := cr.template
	if cr.route.Prefix != "" {
		path = "/" + cr.route.Prefix + path
	}
	d.definitions(cr.route.Model)
	tag := strings.TrimLeft(path[len(cr.route.Prefix)+1:], "/")
	if i := strings.IndexAny(tag, "(/"); i >= 0 {
		tag = tag[:i]
	}
	for _, co := range cr.operations {
		for existing := range d.sw.Paths.Paths {
			if strings.EqualFold(existing, path) {
				d.remove(existing, co.method)
			}
		}
		id := fmt.Sprintf("%s_%s_%s", cr.route.Name, tag, strings.ToLower(co.method))
		op := spec.NewOperation(id).WithTags(tag)
		for _, p := range co.params {
			switch p.in {
			case "path":
				param := spec.PathParam(p.name).AsRequired()
				simpleParam(param, goSchema(cr.route.Model, p.typ))
				op.AddParam(param)
			case "body":
				op.AddParam(spec.BodyParam(p.name, goSchema(cr.route.Model, p.typ)).AsRequired())
			}
		}
		switch co.method {
		case http.MethodPost:
			op.RespondsWith(http.StatusCreated, spec.NewResponse().WithDescription("Created"))
		case http.MethodDelete, http.MethodPut:
			op.RespondsWith(http.StatusNoContent, spec.NewResponse().WithDescription("No Content"))
		default:
			op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK"))
		}
		op.WithDefaultResponse(spec.NewResponse().WithDescription("Error").WithSchema(definitionRef(errorDefinition)))
		d.add(path, co.method, op)
		d.tags[tag] = true
	}
	return nil
}

// candidates lists every operation a route could serve for set.
func candidates(route *odata.Route, set *edm.EntitySet) []candidate {
	et := set.Type
	setSeg := odata.Segment{Kind: odata.EntitySetSegment, EntitySet: set}
	keySeg := odata.Segment{Kind: odata.KeySegment, EntitySet: set}
	setPath := "/" + set.Name
	keyPath := setPath + "(" + keyTemplate(et) + ")"
	ref := definitionRef(et.FullName())

	addKeys := func(op *spec.Operation) {
		for _, k := range et.Key {
			op.AddParam(pathParam(k.Name, k.Type))
		}
	}

	out := []candidate{
		{method: http.MethodGet, path: setPath, segments: []odata.Segment{setSeg}, build: func(op *spec.Operation, r *odata.Route) {
			collectionQuery(op, r.Settings)
			op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(collectionSchema(ref, r.Settings.Count)))
		}},
		{method: http.MethodPost, path: setPath, segments: []odata.Segment{setSeg}, build: func(op *spec.Operation, _ *odata.Route) {
			op.AddParam(spec.BodyParam(bodyName(et), ref).AsRequired())
			op.RespondsWith(http.StatusCreated, spec.NewResponse().WithDescription("Created").WithSchema(ref))
		}},
		{method: http.MethodGet, path: setPath + "/$count", segments: []odata.Segment{setSeg, {Kind: odata.CountSegment}}, build: func(op *spec.Operation, r *odata.Route) {
			if r.Settings.Filter {
				op.AddParam(queryParam("$filter", "string", "Filter the counted entities"))
			}
			op.WithProduces("text/plain")
			op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(spec.Int64Property()))
		}},
		{method: http.MethodGet, path: keyPath, segments: []odata.Segment{setSeg, keySeg}, build: func(op *spec.Operation, r *odata.Route) {
			addKeys(op)
			entityQuery(op, r.Settings)
			op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(ref))
		}},
		{method: http.MethodPut, path: keyPath, segments: []odata.Segment{setSeg, keySeg}, build: func(op *spec.Operation, _ *odata.Route) {
			addKeys(op)
			op.AddParam(spec.BodyParam(bodyName(et), ref).AsRequired())
			op.RespondsWith(http.StatusNoContent, spec.NewResponse().WithDescription("No Content"))
		}},
		{method: http.MethodPatch, path: keyPath, segments: []odata.Segment{setSeg, keySeg}, build: func(op *spec.Operation, _ *odata.Route) {
			addKeys(op)
			op.AddParam(spec.BodyParam(bodyName(et), ref).AsRequired().WithDescription("Changed properties only"))
			op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(ref))
		}},
		{method: http.MethodDelete, path: keyPath, segments: []odata.Segment{setSeg, keySeg}, build: func(op *spec.Operation, _ *odata.Route) {
			addKeys(op)
			op.RespondsWith(http.StatusNoContent, spec.NewResponse().WithDescription("No Content"))
		}},
	}

	model := route.Model
	for _, nav := range et.Navigation {
		target, _ := model.EntitySetOf(nav.Target)
		navSeg := odata.Segment{Kind: odata.NavigationSegment, EntitySet: target, Navigation: nav}
		navPath := keyPath + "/" + nav.Name
		navRef := definitionRef(nav.Target.FullName())
		out = append(out,
			candidate{method: http.MethodGet, path: navPath, segments: []odata.Segment{setSeg, keySeg, navSeg}, build: func(op *spec.Operation, r *odata.Route) {
				addKeys(op)
				if nav.Collection {
					collectionQuery(op, r.Settings)
					op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(collectionSchema(navRef, r.Settings.Count)))
					return
				}
				entityQuery(op, r.Settings)
				op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(navRef))
			}},
			candidate{method: http.MethodPost, path: navPath, segments: []odata.Segment{setSeg, keySeg, navSeg}, build: func(op *spec.Operation, _ *odata.Route) {
				addKeys(op)
				op.AddParam(spec.BodyParam(bodyName(nav.Target), navRef).AsRequired())
				op.RespondsWith(http.StatusCreated, spec.NewResponse().WithDescription("Created").WithSchema(navRef))
			}},
		)
		if nav.Collection {
			out = append(out, candidate{method: http.MethodGet, path: navPath + "/$count", segments: []odata.Segment{setSeg, keySeg, navSeg, {Kind: odata.CountSegment}}, build: func(op *spec.Operation, _ *odata.Route) {
				addKeys(op)
				op.WithProduces("text/plain")
				op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(spec.Int64Property()))
			}})
		}
	}

	for _, collection := range []bool{true, false} {
		for _, operation := range model.BoundOperations(et, collection) {
			segs := []odata.Segment{setSeg}
			path := setPath
			if !collection {
				segs = append(segs, keySeg)
				path = keyPath
			}
			target := set
			if operation.ReturnEntitySet != "" {
				if s, ok := model.EntitySet(operation.ReturnEntitySet); ok {
					target = s
				}
			}
			segs = append(segs, odata.Segment{Kind: odata.OperationSegment, EntitySet: target, Operation: operation})
			method := http.MethodPost
			path += "/" + operation.FullName()
			if operation.Kind == edm.FunctionKind {
				method = http.MethodGet
				path += "(" + functionTemplate(operation) + ")"
			}
			out = append(out, candidate{method: method, path: path, segments: segs, build: func(op *spec.Operation, r *odata.Route) {
				if !collection {
					addKeys(op)
				}
				if operation.Kind == edm.FunctionKind {
					for _, p := range operation.Parameters {
						param := pathParam(p.Name, p.Type)
						if p.Type.Collection {
							param.WithDescription("JSON array literal, e.g. [1,2]")
						}
						op.AddParam(param)
					}
				} else if len(operation.Parameters) > 0 {
					op.AddParam(spec.BodyParam("parameters", parametersSchema(operation)).AsRequired())
				}
				if ret := operation.ReturnType; ret != nil && ret.Kind == edm.KindEntity && ret.Collection {
					collectionQuery(op, r.Settings)
				}
				respond(op, operation)
			}})
		}
	}

	if et.HasStream {
		out = append(out,
			candidate{method: http.MethodGet, path: keyPath + "/$value", segments: []odata.Segment{setSeg, keySeg, {Kind: odata.ValueSegment}}, build: func(op *spec.Operation, _ *odata.Route) {
				addKeys(op)
				op.WithProduces("application/octet-stream")
				op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("Media stream").WithSchema(new(spec.Schema).Typed("file", "")))
			}},
			candidate{method: http.MethodPut, path: keyPath + "/$value", segments: []odata.Segment{setSeg, keySeg, {Kind: odata.ValueSegment}}, build: func(op *spec.Operation, _ *odata.Route) {
				addKeys(op)
				op.WithConsumes("application/octet-stream")
				op.AddParam(spec.BodyParam("value", spec.StrFmtProperty("binary")).AsRequired())
				op.RespondsWith(http.StatusNoContent, spec.NewResponse().WithDescription("No Content"))
			}},
		)
	}
	return out
}

func respond(op *spec.Operation, operation *edm.Operation) {
	ret := operation.ReturnType
	if ret == nil {
		op.RespondsWith(http.StatusNoContent, spec.NewResponse().WithDescription("No Content"))
		return
	}
	if ret.Kind == edm.KindEntity {
		ref := definitionRef(ret.Entity.FullName())
		if ret.Collection {
			op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(collectionSchema(ref, false)))
			return
		}
		op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(ref))
		return
	}
	body := new(spec.Schema).Typed("object", "")
	body.SetProperty("@odata.context", *spec.StringProperty())
	body.SetProperty("value", *typeSchema(*ret))
	op.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription("OK").WithSchema(body))
}

func keyTemplate(et *edm.EntityType) string {
	if len(et.Key) == 1 {
		return "{" + et.Key[0].Name + "}"
	}
	parts := make([]string, len(et.Key))
	for i, k := range et.Key {
		parts[i] = k.Name + "={" + k.Name + "}"
	}
	return strings.Join(parts, ",")
}

func functionTemplate(op *edm.Operation) string {
	parts := make([]string, len(op.Parameters))
	for i, p := range op.Parameters {
		parts[i] = p.Name + "={" + p.Name + "}"
	}
	return strings.Join(parts, ",")
}

func bodyName(et *edm.EntityType) string {
	return strings.ToLower(et.Name[:1]) + et.Name[1:]
}

func collectionQuery(op *spec.Operation, s query.Settings) {
	if s.Filter {
		op.AddParam(queryParam("$filter", "string", "Filter the results"))
	}
	if s.Expand {
		op.AddParam(queryParam("$expand", "string", "Expand navigation properties"))
	}
	if s.Select {
		op.AddParam(queryParam("$select", "string", "Select structural properties"))
	}
	if s.OrderBy {
		op.AddParam(queryParam("$orderby", "string", "Order the results"))
	}
	top := queryParam("$top", "integer", "Maximum number of results")
	if s.MaxTop > 0 {
		top.WithMaximum(float64(s.MaxTop), false)
	}
	op.AddParam(top)
	op.AddParam(queryParam("$skip", "integer", "Number of results to skip"))
	if s.Count {
		op.AddParam(queryParam("$count", "boolean", "Include the total count"))
	}
}

func entityQuery(op *spec.Operation, s query.Settings) {
	if s.Expand {
		op.AddParam(queryParam("$expand", "string", "Expand navigation properties"))
	}
	if s.Select {
		op.AddParam(queryParam("$select", "string", "Select structural properties"))
	}
}

func queryParam(name, typ, description string) *spec.Parameter {
	format := ""
	if typ == "integer" {
		format = "int32"
	}
	return spec.QueryParam(name).Typed(typ, format).WithDescription(description)
}

func pathParam(name string, ref edm.TypeRef) *spec.Parameter {
	p := spec.PathParam(name).AsRequired()
	if ref.Collection {
		return p.Typed("string", "")
	}
	simpleParam(p, typeSchema(ref))
	return p
}

// simpleParam copies a primitive or enum schema onto a non-body parameter.
func simpleParam(p *spec.Parameter, s *spec.Schema) {
	if len(s.Type) == 0 || s.Type[0] == "object" || s.Type[0] == "array" {
		p.Typed("string", "")
		return
	}
	p.Typed(s.Type[0], s.Format)
	if len(s.Enum) > 0 {
		p.WithEnum(s.Enum...)
	}
}

func collectionSchema(item *spec.Schema, count bool) *spec.Schema {
	s := new(spec.Schema).Typed("object", "")
	s.SetProperty("@odata.context", *spec.StringProperty())
	if count {
		s.SetProperty("@odata.count", *spec.Int64Property())
	}
	s.SetProperty("value", *spec.ArrayProperty(item))
	return s
}

func parametersSchema(op *edm.Operation) *spec.Schema {
	s := new(spec.Schema).Typed("object", "")
	var required []string
	for _, p := range op.Parameters {
		s.SetProperty(p.Name, *typeSchema(p.Type))
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	if len(required) > 0 {
		s.WithRequired(required...)
	}
	return s
}

func definitionRef(name string) *spec.Schema {
	return spec.RefSchema("#/definitions/" + name)
}

// typeSchema renders an EDM type reference.
func typeSchema(ref edm.TypeRef) *spec.Schema {
	var s *spec.Schema
	switch ref.Kind {
	case edm.KindPrimitive:
		s = primitiveSchema(ref.Primitive)
	case edm.KindEnum:
		s = enumSchema(ref.Enum)
	case edm.KindComplex:
		s = definitionRef(ref.Complex.FullName())
	case edm.KindEntity:
		s = definitionRef(ref.Entity.FullName())
	default:
		s = new(spec.Schema)
	}
	if ref.Collection {
		return spec.ArrayProperty(s)
	}
	return s
}

func primitiveSchema(k edm.PrimitiveKind) *spec.Schema {
	switch k {
	case edm.Boolean:
		return spec.BoolProperty()
	case edm.Byte:
		return spec.Int8Property().WithMinimum(0, false).WithMaximum(255, false)
	case edm.Int16:
		return spec.Int16Property()
	case edm.Int32:
		return spec.Int32Property()
	case edm.Int64:
		return spec.Int64Property()
	case edm.Single:
		return spec.Float32Property()
	case edm.Double:
		return spec.Float64Property()
	case edm.DateTimeOffset:
		return spec.DateTimeProperty()
	}
	return spec.StringProperty()
}

func enumSchema(e *edm.EnumType) *spec.Schema {
	s := spec.StringProperty()
	for _, m := range e.Members {
		s.Enum = append(s.Enum, m.Name)
	}
	return s
}

// goSchema renders a Go type used by a custom route, preferring the model's definitions.
func goSchema(model *edm.Model, t reflect.Type) *spec.Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if model != nil {
		if et, ok := model.EntityTypeOf(t); ok {
			return definitionRef(et.FullName())
		}
	}
	if t == reflect.TypeFor[time.Time]() {
		return spec.DateTimeProperty()
	}
	switch t.Kind() {
	case reflect.Bool:
		return spec.BoolProperty()
	case reflect.Int8, reflect.Uint8:
		return spec.Int8Property()
	case reflect.Int16, reflect.Uint16:
		return spec.Int16Property()
	case reflect.Int32, reflect.Uint32:
		return spec.Int32Property()
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		return spec.Int64Property()
	case reflect.Float32:
		return spec.Float32Property()
	case reflect.Float64:
		return spec.Float64Property()
	case reflect.String:
		return spec.StringProperty()
	case reflect.Slice, reflect.Array:
		return spec.ArrayProperty(goSchema(model, t.Elem()))
	}
	return new(spec.Schema).Typed("object", "")
}

// definitions adds the structured and enum types of model.
func (d *document) definitions(model *edm.Model) {
	defs := d.sw.Definitions
	for _, et := range model.EntityTypes() {
		if _, ok := defs[et.FullName()]; ok {
			continue
		}
		s := new(spec.Schema).Typed("object", "")
		var required []string
		for _, p := range et.Properties {
			s.SetProperty(p.Name, *typeSchema(p.Type))
			if et.IsKey(p) {
				required = append(required, p.Name)
			}
		}
		for _, nav := range et.Navigation {
			ref := definitionRef(nav.Target.FullName())
			if nav.Collection {
				ref = spec.ArrayProperty(ref)
			}
			s.SetProperty(nav.Name, *ref)
		}
		if len(required) > 0 {
			s.WithRequired(required...)
		}
		defs[et.FullName()] = *s
	}
	for _, ct := range model.ComplexTypes() {
		if _, ok := defs[ct.FullName()]; ok {
			continue
		}
		s := new(spec.Schema).Typed("object", "")
		for _, p := range ct.Properties {
			s.SetProperty(p.Name, *typeSchema(p.Type))
		}
		defs[ct.FullName()] = *s
	}
	for _, e := range model.EnumTypes() {
		if _, ok := defs[e.FullName()]; !ok {
			defs[e.FullName()] = *enumSchema(e)
		}
	}
}

func errorSchema() spec.Schema {
	inner := new(spec.Schema).Typed("object", "")
	inner.SetProperty("code", *spec.StringProperty())
	inner.SetProperty("message", *spec.StringProperty())
	s := new(spec.Schema).Typed("object", "")
	s.SetProperty("request_id", *spec.StringProperty())
	s.SetProperty("error", *inner)
	return *s
}
