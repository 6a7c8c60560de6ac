package edm

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Enumerated is implemented by Go integer types exposed as enum types.
// Member values are the positions of the returned names.
type Enumerated interface {
	EnumNames() []string
}

var (
	enumeratedType = reflect.TypeFor[Enumerated]()
	timeType       = reflect.TypeFor[time.Time]()
)

// Builder builds a Model from Go struct types by convention.
//
// Keys are the fields tagged `odata:"key"`, or else a field named ID, Id or <Type>Id.
// Struct fields whose type has a key become navigation properties, other struct fields become
// complex properties and integer types implementing Enumerated become enum properties.
// `odata:"fk:Field"` declares the dependent property of a navigation and `odata:"-"` skips a
// field. Columns default to the snake_case field name and can be overridden with a db tag.
type Builder struct {
	namespace  string
	lowerCamel bool
	sets       []setConfig
	types      []*EntityTypeConfig
	errs       []error
}

type setConfig struct {
	name string
	cfg  *EntityTypeConfig
}

// NewBuilder creates a builder whose types and operations live in namespace.
func NewBuilder(namespace string) *Builder {
	if namespace == "" {
		namespace = "Default"
	}
	return &Builder{namespace: namespace}
}

// EnableLowerCamelCase names structural and navigation properties in lowerCamelCase.
func (b *Builder) EnableLowerCamelCase() *Builder {
	b.lowerCamel = true
	return b
}

// EntitySet adds an entity set of the given struct type.
func (b *Builder) EntitySet(name string, t reflect.Type) *EntityTypeConfig {
	cfg := b.EntityType(t)
	b.sets = append(b.sets, setConfig{name: name, cfg: cfg})
	return cfg
}

// EntityType returns the configuration of an entity type, adding it when missing.
func (b *Builder) EntityType(t reflect.Type) *EntityTypeConfig {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for _, c := range b.types {
		if c.t == t {
			return c
		}
	}
	if t.Kind() != reflect.Struct {
		b.errs = append(b.errs, fmt.Errorf("entity type %s must be a struct", t))
	}
	c := &EntityTypeConfig{b: b, t: t}
	b.types = append(b.types, c)
	return c
}

// EntityTypeConfig configures an entity type and the operations bound to it.
type EntityTypeConfig struct {
	b         *Builder
	t         reflect.Type
	hasStream bool
	ops       []*OperationConfig
}

// HasStream marks the type as a media entity whose content is addressed with $value.
func (c *EntityTypeConfig) HasStream() *EntityTypeConfig {
	c.hasStream = true
	return c
}

// Function binds a function to a single entity.
func (c *EntityTypeConfig) Function(name string) *OperationConfig {
	return c.operation(FunctionKind, name, false)
}

// Action binds an action to a single entity.
func (c *EntityTypeConfig) Action(name string) *OperationConfig {
	return c.operation(ActionKind, name, false)
}

// Collection addresses operations bound to a collection of the entity type.
func (c *EntityTypeConfig) Collection() *CollectionConfig {
	return &CollectionConfig{et: c}
}

func (c *EntityTypeConfig) operation(kind OperationKind, name string, collection bool) *OperationConfig {
	op := &OperationConfig{kind: kind, name: name, collection: collection}
	c.ops = append(c.ops, op)
	return op
}

// CollectionConfig binds operations to a collection of entities.
type CollectionConfig struct {
	et *EntityTypeConfig
}

func (c *CollectionConfig) Function(name string) *OperationConfig {
	return c.et.operation(FunctionKind, name, true)
}

func (c *CollectionConfig) Action(name string) *OperationConfig {
	return c.et.operation(ActionKind, name, true)
}

type paramConfig struct {
	name       string
	t          reflect.Type
	collection bool
	optional   bool
}

// OperationConfig configures the parameters and return type of a function or action.
type OperationConfig struct {
	kind              OperationKind
	name              string
	collection        bool
	params            []paramConfig
	returns           reflect.Type
	returnsCollection bool
	returnSet         string
}

// Parameter adds a required parameter.
func (o *OperationConfig) Parameter(name string, t reflect.Type) *OperationConfig {
	o.params = append(o.params, paramConfig{name: name, t: t})
	return o
}

// OptionalParameter adds a parameter callers may omit.
func (o *OperationConfig) OptionalParameter(name string, t reflect.Type) *OperationConfig {
	o.params = append(o.params, paramConfig{name: name, t: t, optional: true})
	return o
}

// CollectionParameter adds a required parameter holding a collection of elem.
func (o *OperationConfig) CollectionParameter(name string, elem reflect.Type) *OperationConfig {
	o.params = append(o.params, paramConfig{name: name, t: elem, collection: true})
	return o
}

// Returns declares a single-valued return type.
func (o *OperationConfig) Returns(t reflect.Type) *OperationConfig {
	o.returns, o.returnsCollection = t, false
	return o
}

// ReturnsCollection declares a collection-valued return type.
func (o *OperationConfig) ReturnsCollection(elem reflect.Type) *OperationConfig {
	o.returns, o.returnsCollection = elem, true
	return o
}

// ReturnsFromEntitySet declares that the operation returns a single entity of set.
func (o *OperationConfig) ReturnsFromEntitySet(set string) *OperationConfig {
	o.returnSet, o.returnsCollection = set, false
	return o
}

// ReturnsCollectionFromEntitySet declares that the operation returns entities of set.
func (o *OperationConfig) ReturnsCollectionFromEntitySet(set string) *OperationConfig {
	o.returnSet, o.returnsCollection = set, true
	return o
}

type pendingFK struct {
	source *EntityType
	nav    *NavigationProperty
	field  string
}

type buildState struct {
	b         *Builder
	m         *Model
	entities  map[reflect.Type]*EntityType
	complexes map[reflect.Type]*ComplexType
	enums     map[reflect.Type]*EnumType
	pending   []pendingFK
}

// Build validates the configuration and produces the model.
func (b *Builder) Build() (*Model, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	s := &buildState{
		b: b,
		m: &Model{
			Namespace: b.namespace,
			Container: "Container",
			byGoType:  make(map[reflect.Type]*EntityType),
		},
		entities:  make(map[reflect.Type]*EntityType),
		complexes: make(map[reflect.Type]*ComplexType),
		enums:     make(map[reflect.Type]*EnumType),
	}

	for _, c := range b.types {
		et, err := s.entity(c.t)
		if err != nil {
			return nil, err
		}
		et.HasStream = c.hasStream
	}

	seen := make(map[string]bool)
	for _, sc := range b.sets {
		if sc.name == "" {
			return nil, fmt.Errorf("entity set of type %s has no name", sc.cfg.t.Name())
		}
		if seen[sc.name] {
			return nil, fmt.Errorf("duplicate entity set %q", sc.name)
		}
		seen[sc.name] = true
		s.m.sets = append(s.m.sets, &EntitySet{
			Name:  sc.name,
			Type:  s.entities[sc.cfg.t],
			Table: snakeCase(sc.name),
		})
	}

	for _, c := range b.types {
		for _, oc := range c.ops {
			op, err := s.operation(s.entities[c.t], oc)
			if err != nil {
				return nil, err
			}
			if _, dup := s.m.FindBoundOperation(op.Binding, op.BoundToCollection, op.Name); dup {
				return nil, fmt.Errorf("duplicate operation %s bound to %s", op.Name, op.Binding.Name)
			}
			s.m.operations = append(s.m.operations, op)
		}
	}

	for _, p := range s.pending {
		owner := p.source
		if p.nav.Collection {
			owner = p.nav.Target
		}
		prop, ok := owner.PropertyByField(p.field)
		if !ok {
			return nil, fmt.Errorf("navigation %s.%s: foreign key %s not found on %s",
				p.source.Name, p.nav.Name, p.field, owner.Name)
		}
		p.nav.ForeignKey = prop
	}

	return s.m, nil
}

func (s *buildState) propertyName(field string) string {
	if s.b.lowerCamel {
		return lowerCamelCase(field)
	}
	return field
}

func (s *buildState) entity(t reflect.Type) (*EntityType, error) {
	if et, ok := s.entities[t]; ok {
		return et, nil
	}
	et := &EntityType{Namespace: s.b.namespace, Name: t.Name(), GoType: t}
	s.entities[t] = et
	s.m.byGoType[t] = et
	s.m.entityTypes = append(s.m.entityTypes, et)

	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		tag := parseTag(f.Tag.Get("odata"))
		if tag.skip {
			continue
		}
		ref, err := s.typeRef(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), f.Name, err)
		}
		if ref.Kind == KindEntity {
			nav := &NavigationProperty{
				Name:       s.propertyName(f.Name),
				FieldName:  f.Name,
				Index:      f.Index,
				Target:     ref.Entity,
				Collection: ref.Collection,
			}
			et.Navigation = append(et.Navigation, nav)
			if tag.fk != "" {
				s.pending = append(s.pending, pendingFK{source: et, nav: nav, field: tag.fk})
			}
			continue
		}
		p := &Property{
			Name:      s.propertyName(f.Name),
			FieldName: f.Name,
			Index:     f.Index,
			Column:    columnName(f),
			Type:      ref,
		}
		et.Properties = append(et.Properties, p)
		if tag.key {
			et.Key = append(et.Key, p)
		}
	}

	if len(et.Key) == 0 {
		for _, name := range conventionalKeys(t) {
			if p, ok := et.PropertyByField(name); ok {
				et.Key = append(et.Key, p)
				break
			}
		}
	}
	if len(et.Key) == 0 {
		return nil, fmt.Errorf("entity type %s has no key", t.Name())
	}
	for _, k := range et.Key {
		if k.Type.Collection || (k.Type.Kind != KindPrimitive && k.Type.Kind != KindEnum) {
			return nil, fmt.Errorf("key property %s.%s must be a primitive or enum", t.Name(), k.FieldName)
		}
	}
	return et, nil
}

func (s *buildState) complex(t reflect.Type) (*ComplexType, error) {
	if ct, ok := s.complexes[t]; ok {
		return ct, nil
	}
	ct := &ComplexType{Namespace: s.b.namespace, Name: t.Name(), GoType: t}
	s.complexes[t] = ct
	s.m.complexTypes = append(s.m.complexTypes, ct)

	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		if parseTag(f.Tag.Get("odata")).skip {
			continue
		}
		ref, err := s.typeRef(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), f.Name, err)
		}
		if ref.Kind == KindEntity {
			return nil, fmt.Errorf("complex type %s cannot reference entity type %s", t.Name(), ref.Entity.Name)
		}
		ct.Properties = append(ct.Properties, &Property{
			Name:      s.propertyName(f.Name),
			FieldName: f.Name,
			Index:     f.Index,
			Column:    columnName(f),
			Type:      ref,
		})
	}
	return ct, nil
}

func (s *buildState) enum(t reflect.Type) (*EnumType, error) {
	if e, ok := s.enums[t]; ok {
		return e, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return nil, fmt.Errorf("enum type %s must have an integer underlying type", t.Name())
	}
	names := reflect.Zero(t).Interface().(Enumerated).EnumNames()
	e := &EnumType{Namespace: s.b.namespace, Name: t.Name(), GoType: t, DBType: snakeCase(t.Name())}
	for i, n := range names {
		e.Members = append(e.Members, EnumMember{Name: n, Value: int64(i)})
	}
	s.enums[t] = e
	s.m.enumTypes = append(s.m.enumTypes, e)
	return e, nil
}

func (s *buildState) typeRef(t reflect.Type) (TypeRef, error) {
	var ref TypeRef
	if t.Kind() == reflect.Pointer {
		ref.Nullable = true
		t = t.Elem()
	}
	if t.Kind() == reflect.Slice && t.Elem().Kind() != reflect.Uint8 {
		ref.Collection = true
		t = t.Elem()
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
	}
	ref.GoType = t

	if t.Implements(enumeratedType) {
		e, err := s.enum(t)
		if err != nil {
			return ref, err
		}
		ref.Kind, ref.Enum = KindEnum, e
		return ref, nil
	}
	if t == timeType {
		ref.Kind, ref.Primitive = KindPrimitive, DateTimeOffset
		return ref, nil
	}

	ref.Kind = KindPrimitive
	switch t.Kind() {
	case reflect.Bool:
		ref.Primitive = Boolean
	case reflect.Uint8:
		ref.Primitive = Byte
	case reflect.Int16:
		ref.Primitive = Int16
	case reflect.Int, reflect.Int32:
		ref.Primitive = Int32
	case reflect.Int64:
		ref.Primitive = Int64
	case reflect.Float32:
		ref.Primitive = Single
	case reflect.Float64:
		ref.Primitive = Double
	case reflect.String:
		ref.Primitive = String
	case reflect.Struct:
		if hasKey(t) {
			et, err := s.entity(t)
			if err != nil {
				return ref, err
			}
			ref.Kind, ref.Entity = KindEntity, et
			return ref, nil
		}
		ct, err := s.complex(t)
		if err != nil {
			return ref, err
		}
		ref.Kind, ref.Complex = KindComplex, ct
	default:
		return ref, fmt.Errorf("unsupported type %s", t)
	}
	return ref, nil
}

func (s *buildState) operation(binding *EntityType, oc *OperationConfig) (*Operation, error) {
	if oc.name == "" {
		return nil, fmt.Errorf("operation bound to %s has no name", binding.Name)
	}
	op := &Operation{
		Kind:              oc.kind,
		Namespace:         s.b.namespace,
		Name:              oc.name,
		Binding:           binding,
		BoundToCollection: oc.collection,
	}
	for _, pc := range oc.params {
		if _, dup := op.Parameter(pc.name); dup || pc.name == "" {
			return nil, fmt.Errorf("operation %s: invalid or duplicate parameter %q", oc.name, pc.name)
		}
		ref, err := s.typeRef(pc.t)
		if err != nil {
			return nil, fmt.Errorf("operation %s parameter %s: %w", oc.name, pc.name, err)
		}
		if pc.collection {
			ref.Collection = true
		}
		op.Parameters = append(op.Parameters, Parameter{Name: pc.name, Type: ref, Optional: pc.optional})
	}

	switch {
	case oc.returnSet != "":
		set, ok := s.m.EntitySet(oc.returnSet)
		if !ok {
			return nil, fmt.Errorf("operation %s returns from unknown entity set %q", oc.name, oc.returnSet)
		}
		op.ReturnType = &TypeRef{
			Kind:       KindEntity,
			Entity:     set.Type,
			Collection: oc.returnsCollection,
			GoType:     set.Type.GoType,
		}
		op.ReturnEntitySet = set.Name
	case oc.returns != nil:
		ref, err := s.typeRef(oc.returns)
		if err != nil {
			return nil, fmt.Errorf("operation %s return type: %w", oc.name, err)
		}
		if oc.returnsCollection {
			ref.Collection = true
		}
		op.ReturnType = &ref
	}
	if op.Kind == FunctionKind && op.ReturnType == nil {
		return nil, fmt.Errorf("function %s must declare a return type", oc.name)
	}
	return op, nil
}

type fieldTag struct {
	key  bool
	skip bool
	fk   string
}

func parseTag(tag string) fieldTag {
	var ft fieldTag
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "-":
			ft.skip = true
		case part == "key":
			ft.key = true
		case strings.HasPrefix(part, "fk:"):
			ft.fk = strings.TrimPrefix(part, "fk:")
		}
	}
	return ft
}

func columnName(f reflect.StructField) string {
	if db, _, _ := strings.Cut(f.Tag.Get("db"), ","); db != "" && db != "-" {
		return db
	}
	return snakeCase(f.Name)
}

func conventionalKeys(t reflect.Type) []string {
	return []string{"ID", "Id", t.Name() + "Id", t.Name() + "ID"}
}

func hasKey(t reflect.Type) bool {
	candidates := conventionalKeys(t)
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		tag := parseTag(f.Tag.Get("odata"))
		if tag.skip {
			continue
		}
		if tag.key {
			return true
		}
		for _, c := range candidates {
			if f.Name == c {
				return true
			}
		}
	}
	return false
}
