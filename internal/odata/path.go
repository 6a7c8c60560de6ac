package odata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
)

// SegmentKind identifies the kind of an OData path segment.
type SegmentKind int

const (
	EntitySetSegment SegmentKind = iota + 1
	KeySegment
	NavigationSegment
	OperationSegment
	CountSegment
	ValueSegment
	MetadataSegment
	BatchSegment
)

// Segment is one parsed segment of an OData path.
type Segment struct {
	Kind SegmentKind
	// EntitySet is the navigation source reached after the segment: the set itself, the target
	// set of a navigation property, or the set an operation returns entities from.
	EntitySet  *edm.EntitySet
	Keys       []query.KeyValue
	Navigation *edm.NavigationProperty
	Operation  *edm.Operation
	// Parameters holds the arguments of a function call. Action arguments arrive in the body.
	Parameters map[string]any
}

func (s Segment) templateName() string {
	switch s.Kind {
	case EntitySetSegment:
		return "entityset"
	case KeySegment:
		return "key"
	case NavigationSegment:
		return "navigation"
	case OperationSegment:
		if s.Operation.Kind == edm.ActionKind {
			return "action"
		}
		return "function"
	case CountSegment:
		return "$count"
	case ValueSegment:
		return "$value"
	case MetadataSegment:
		return "$metadata"
	case BatchSegment:
		return "$batch"
	}
	return ""
}

// Path is a parsed OData resource path, relative to a route prefix.
type Path struct {
	Segments []Segment
	// Template is the shape of the path, e.g. ~/entityset/key/navigation.
	Template string
	// NavigationSource is the entity set whose entities the path yields, nil when it yields none.
	NavigationSource *edm.EntitySet
	// Type is the type of the addressed resource. It is nil for the service root, $metadata,
	// $batch, media values and actions without a return type.
	Type *edm.TypeRef
}

// Path templates.
const (
	TemplateServiceRoot        = "~"
	TemplateMetadata           = "~/$metadata"
	TemplateBatch              = "~/$batch"
	TemplateEntitySet          = "~/entityset"
	TemplateEntitySetCount     = "~/entityset/$count"
	TemplateEntity             = "~/entityset/key"
	TemplateNavigation         = "~/entityset/key/navigation"
	TemplateNavigationCount    = "~/entityset/key/navigation/$count"
	TemplateCollectionFunction = "~/entityset/function"
	TemplateCollectionAction   = "~/entityset/action"
	TemplateEntityFunction     = "~/entityset/key/function"
	TemplateEntityAction       = "~/entityset/key/action"
	TemplateMediaValue         = "~/entityset/key/$value"
)

// NewPath assembles a path from already resolved segments.
func NewPath(segments ...Segment) *Path {
	p := &Path{Segments: segments, Template: TemplateServiceRoot}
	for _, s := range segments {
		p.Template += "/" + s.templateName()
		switch s.Kind {
		case EntitySetSegment:
			p.NavigationSource = s.EntitySet
			p.Type = &edm.TypeRef{Kind: edm.KindEntity, Entity: s.EntitySet.Type, Collection: true, GoType: s.EntitySet.Type.GoType}
		case KeySegment:
			if p.Type != nil {
				ref := p.Type.Elem()
				p.Type = &ref
			}
		case NavigationSegment:
			p.NavigationSource = s.EntitySet
			n := s.Navigation
			p.Type = &edm.TypeRef{Kind: edm.KindEntity, Entity: n.Target, Collection: n.Collection, GoType: n.Target.GoType}
		case OperationSegment:
			p.NavigationSource = s.EntitySet
			p.Type = s.Operation.ReturnType
		case CountSegment:
			p.Type = &edm.TypeRef{Kind: edm.KindPrimitive, Primitive: edm.Int64}
		default:
			p.Type = nil
		}
	}
	return p
}

// Last returns the final segment; ok is false for the service root.
func (p *Path) Last() (Segment, bool) {
	if len(p.Segments) == 0 {
		return Segment{}, false
	}
	return p.Segments[len(p.Segments)-1], true
}

// EntitySet returns the entity set the path starts from.
func (p *Path) EntitySet() *edm.EntitySet {
	if len(p.Segments) == 0 || p.Segments[0].Kind != EntitySetSegment {
		return nil
	}
	return p.Segments[0].EntitySet
}

// Keys returns the key of the first addressed entity, e.g. 1 in Customers(1)/orders.
func (p *Path) Keys() []query.KeyValue {
	for _, s := range p.Segments {
		if s.Kind == KeySegment {
			return s.Keys
		}
	}
	return nil
}

// Navigation returns the last navigation property traversed.
func (p *Path) Navigation() *edm.NavigationProperty {
	for i := len(p.Segments) - 1; i >= 0; i-- {
		if p.Segments[i].Kind == NavigationSegment {
			return p.Segments[i].Navigation
		}
	}
	return nil
}

// Operation returns the bound operation the path invokes, if any.
func (p *Path) Operation() *edm.Operation {
	if last, ok := p.Last(); ok && last.Kind == OperationSegment {
		return last.Operation
	}
	return nil
}

// IsCount reports whether the path ends in $count.
func (p *Path) IsCount() bool {
	last, ok := p.Last()
	return ok && last.Kind == CountSegment
}

// EntityType returns the entity type the path yields, looking through a trailing $count.
func (p *Path) EntityType() *edm.EntityType {
	ref := p.Type
	if p.IsCount() {
		ref = NewPath(p.Segments[:len(p.Segments)-1]...).Type
	}
	if ref == nil || ref.Kind != edm.KindEntity {
		return nil
	}
	return ref.Entity
}

// String renders the path in URL form, e.g. Customers(1)/orders.
func (p *Path) String() string {
	var b strings.Builder
	for i, s := range p.Segments {
		switch s.Kind {
		case KeySegment:
			b.WriteString("(" + formatKeyValues(s.Keys) + ")")
			continue
		case EntitySetSegment:
			b.WriteString(s.EntitySet.Name)
			continue
		}
		if i > 0 {
			b.WriteByte('/')
		}
		switch s.Kind {
		case NavigationSegment:
			b.WriteString(s.Navigation.Name)
		case OperationSegment:
			b.WriteString(s.Operation.FullName())
			if s.Operation.Kind == edm.FunctionKind {
				var args []string
				for _, prm := range s.Operation.Parameters {
					if v, ok := s.Parameters[prm.Name]; ok {
						args = append(args, prm.Name+"="+FormatLiteral(prm.Type, v))
					}
				}
				b.WriteString("(" + strings.Join(args, ",") + ")")
			}
		default:
			b.WriteString(s.templateName())
		}
	}
	return b.String()
}

// pattern identifies the addressed resource independently of key and argument values.
// Attribute routes are matched on it.
func (p *Path) pattern() string {
	parts := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		switch s.Kind {
		case EntitySetSegment:
			parts = append(parts, s.EntitySet.Name)
		case KeySegment:
			parts = append(parts, "{key}")
		case NavigationSegment:
			parts = append(parts, s.Navigation.Name)
		case OperationSegment:
			parts = append(parts, s.Operation.FullName())
		default:
			parts = append(parts, s.templateName())
		}
	}
	return strings.Join(parts, "/")
}

// ParsePath parses an escaped resource path against model. It returns ErrPathNotMatched when
// the model has no resource of that name, and a 400 *Error or a query error when a resource
// matches but its keys or arguments are malformed.
func ParsePath(model *edm.Model, r query.Resolver, raw string, values url.Values) (*Path, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return NewPath(), nil
	}
	var parts []string
	for _, part := range strings.Split(raw, "/") {
		u, err := url.PathUnescape(part)
		if err != nil {
			return nil, BadRequest("invalid path segment %q", part)
		}
		parts = append(parts, u)
	}

	switch parts[0] {
	case "$metadata":
		if len(parts) > 1 {
			return nil, ErrPathNotMatched
		}
		return NewPath(Segment{Kind: MetadataSegment}), nil
	case "$batch":
		if len(parts) > 1 {
			return nil, ErrPathNotMatched
		}
		return NewPath(Segment{Kind: BatchSegment}), nil
	}

	var (
		segs       []Segment
		et         *edm.EntityType
		collection bool
		done       bool
	)
	for i, part := range parts {
		if done {
			return nil, ErrPathNotMatched
		}
		name, args, hasArgs := splitCall(part)

		if i == 0 {
			set, ok := model.EntitySet(name)
			if !ok {
				return nil, ErrPathNotMatched
			}
			segs = append(segs, Segment{Kind: EntitySetSegment, EntitySet: set})
			et, collection = set.Type, true
			if hasArgs {
				keys, err := query.ParseKey(args, et, r)
				if err != nil {
					return nil, err
				}
				segs = append(segs, Segment{Kind: KeySegment, Keys: keys})
				collection = false
			}
			continue
		}

		switch {
		case name == "$count" && !hasArgs:
			if !collection {
				return nil, ErrPathNotMatched
			}
			segs = append(segs, Segment{Kind: CountSegment})
			done = true
			continue
		case name == "$value" && !hasArgs:
			if collection || !et.HasStream {
				return nil, ErrPathNotMatched
			}
			segs = append(segs, Segment{Kind: ValueSegment})
			done = true
			continue
		}

		if !collection {
			if nav, ok := et.NavigationProperty(name); ok {
				seg := Segment{Kind: NavigationSegment, Navigation: nav}
				seg.EntitySet, _ = model.EntitySetOf(nav.Target)
				segs = append(segs, seg)
				et, collection = nav.Target, nav.Collection
				if hasArgs {
					if !collection {
						return nil, ErrPathNotMatched
					}
					keys, err := query.ParseKey(args, et, r)
					if err != nil {
						return nil, err
					}
					segs = append(segs, Segment{Kind: KeySegment, Keys: keys})
					collection = false
				}
				continue
			}
		}

		op, ok := model.FindBoundOperation(et, collection, name)
		if !ok {
			return nil, ErrPathNotMatched
		}
		seg := Segment{Kind: OperationSegment, Operation: op}
		if op.ReturnEntitySet != "" {
			seg.EntitySet, _ = model.EntitySet(op.ReturnEntitySet)
		}
		switch op.Kind {
		case edm.ActionKind:
			if hasArgs {
				return nil, ErrPathNotMatched
			}
		case edm.FunctionKind:
			if !hasArgs {
				return nil, ErrPathNotMatched
			}
			params, err := parseFunctionArgs(op, args, values, r)
			if err != nil {
				return nil, err
			}
			seg.Parameters = params
		}
		segs = append(segs, seg)
		done = true
	}
	return NewPath(segs...), nil
}

// splitCall splits Name(args) into its name and argument text.
func splitCall(part string) (name, args string, hasArgs bool) {
	i := strings.IndexByte(part, '(')
	if i < 0 || !strings.HasSuffix(part, ")") {
		return part, "", false
	}
	return part[:i], part[i+1 : len(part)-1], true
}

func parseFunctionArgs(op *edm.Operation, raw string, values url.Values, r query.Resolver) (map[string]any, error) {
	args, err := query.SplitArgs(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		if a.Name == "" {
			return nil, BadRequest("function %s requires named parameters", op.Name)
		}
		prm, ok := op.Parameter(a.Name)
		if !ok {
			return nil, BadRequest("function %s has no parameter %q", op.Name, a.Name)
		}
		if _, dup := out[a.Name]; dup {
			return nil, BadRequest("parameter %q is specified more than once", a.Name)
		}
		value := a.Value
		if strings.HasPrefix(value, "@") {
			if !values.Has(value) {
				return nil, BadRequest("parameter alias %s is not defined", value)
			}
			value = values.Get(value)
		}
		v, err := parseArgument(prm, value, r)
		if err != nil {
			return nil, err
		}
		out[a.Name] = v
	}
	for _, prm := range op.Parameters {
		if _, ok := out[prm.Name]; !ok && !prm.Optional {
			return nil, BadRequest("function %s requires parameter %q", op.Name, prm.Name)
		}
	}
	return out, nil
}

func parseArgument(prm edm.Parameter, raw string, r query.Resolver) (any, error) {
	if prm.Type.Collection {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		var items any
		if err := dec.Decode(&items); err != nil {
			return nil, BadRequest("parameter %s must be a JSON array: %v", prm.Name, err)
		}
		v, err := edm.DecodeValue(prm.Type, items)
		if err != nil {
			return nil, BadRequest("parameter %s: %v", prm.Name, err)
		}
		return v, nil
	}
	lit, err := query.ParseLiteral(raw)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", prm.Name, err)
	}
	v, err := r.Convert(lit, prm.Type)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", prm.Name, err)
	}
	return v, nil
}
