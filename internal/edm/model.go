// Package edm describes the Entity Data Model exposed by an OData route: entity sets, the entity,
// complex and enum types behind them, and the functions and actions bound to those types.
// Models are immutable once built and safe for concurrent use.
package edm

import (
	"reflect"
	"strings"
)

// PrimitiveKind identifies an Edm primitive type.
type PrimitiveKind int

const (
	Boolean PrimitiveKind = iota + 1
	Byte
	Int16
	Int32
	Int64
	Single
	Double
	String
	DateTimeOffset
)

var primitiveNames = map[PrimitiveKind]string{
	Boolean:        "Edm.Boolean",
	Byte:           "Edm.Byte",
	Int16:          "Edm.Int16",
	Int32:          "Edm.Int32",
	Int64:          "Edm.Int64",
	Single:         "Edm.Single",
	Double:         "Edm.Double",
	String:         "Edm.String",
	DateTimeOffset: "Edm.DateTimeOffset",
}

func (k PrimitiveKind) String() string { return primitiveNames[k] }

// IsIntegral reports whether values of the kind are whole numbers.
func (k PrimitiveKind) IsIntegral() bool {
	return k == Byte || k == Int16 || k == Int32 || k == Int64
}

// IsNumeric reports whether values of the kind are numbers.
func (k PrimitiveKind) IsNumeric() bool {
	return k.IsIntegral() || k == Single || k == Double
}

// TypeKind tells which of the TypeRef fields is populated.
type TypeKind int

const (
	KindPrimitive TypeKind = iota + 1
	KindEnum
	KindComplex
	KindEntity
)

// TypeRef references a type of the model, optionally as a collection.
type TypeRef struct {
	Kind       TypeKind
	Primitive  PrimitiveKind
	Enum       *EnumType
	Complex    *ComplexType
	Entity     *EntityType
	Collection bool
	Nullable   bool
	// GoType is the element Go type backing the reference.
	GoType reflect.Type
}

// ElementName returns the qualified name of the referenced type, ignoring the collection flag.
func (t TypeRef) ElementName() string {
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive.String()
	case KindEnum:
		return t.Enum.FullName()
	case KindComplex:
		return t.Complex.FullName()
	case KindEntity:
		return t.Entity.FullName()
	}
	return ""
}

// Name returns the qualified name of the type, e.g. Collection(Default.Product).
func (t TypeRef) Name() string {
	if t.Collection {
		return "Collection(" + t.ElementName() + ")"
	}
	return t.ElementName()
}

// Elem returns the element reference of a collection.
func (t TypeRef) Elem() TypeRef {
	t.Collection = false
	return t
}

// EnumMember is a named value of an enum type.
type EnumMember struct {
	Name  string
	Value int64
}

// EnumType is an enumeration backed by a Go integer type implementing Enumerated.
type EnumType struct {
	Namespace string
	Name      string
	Members   []EnumMember
	GoType    reflect.Type

	// DBType names the database enum type whose labels are declared in member order.
	DBType string
}

func (e *EnumType) FullName() string { return e.Namespace + "." + e.Name }

// Member finds a member by name.
func (e *EnumType) Member(name string) (EnumMember, bool) {
	for _, m := range e.Members {
		if m.Name == name {
			return m, true
		}
	}
	return EnumMember{}, false
}

// MemberByValue finds a member by value.
func (e *EnumType) MemberByValue(v int64) (EnumMember, bool) {
	for _, m := range e.Members {
		if m.Value == v {
			return m, true
		}
	}
	return EnumMember{}, false
}

// Value returns the Go value of the named member.
func (e *EnumType) Value(name string) (reflect.Value, bool) {
	m, ok := e.Member(name)
	if !ok {
		return reflect.Value{}, false
	}
	v := reflect.New(e.GoType).Elem()
	v.SetInt(m.Value)
	return v, true
}

// Property is a structural property of an entity or complex type.
type Property struct {
	Name      string
	FieldName string
	Index     []int
	Column    string
	Type      TypeRef
}

// NavigationProperty relates an entity type to another entity type.
type NavigationProperty struct {
	Name       string
	FieldName  string
	Index      []int
	Target     *EntityType
	Collection bool
	// ForeignKey is the dependent property: on the source type for single-valued navigation,
	// on the target type for collection-valued navigation. Nil when not declared.
	ForeignKey *Property
}

// ComplexType is a structured type without a key.
type ComplexType struct {
	Namespace  string
	Name       string
	Properties []*Property
	GoType     reflect.Type
}

func (c *ComplexType) FullName() string { return c.Namespace + "." + c.Name }

// Property finds a structural property by name.
func (c *ComplexType) Property(name string) (*Property, bool) {
	return findProperty(c.Properties, name)
}

// EntityType is a structured type with a key.
type EntityType struct {
	Namespace  string
	Name       string
	Key        []*Property
	Properties []*Property
	Navigation []*NavigationProperty
	HasStream  bool
	GoType     reflect.Type
}

func (e *EntityType) FullName() string { return e.Namespace + "." + e.Name }

// Property finds a structural property by name.
func (e *EntityType) Property(name string) (*Property, bool) {
	return findProperty(e.Properties, name)
}

// PropertyByField finds a structural property by its Go field name.
func (e *EntityType) PropertyByField(field string) (*Property, bool) {
	for _, p := range e.Properties {
		if p.FieldName == field {
			return p, true
		}
	}
	return nil, false
}

// NavigationProperty finds a navigation property by name.
func (e *EntityType) NavigationProperty(name string) (*NavigationProperty, bool) {
	for _, n := range e.Navigation {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// IsKey reports whether p is part of the key.
func (e *EntityType) IsKey(p *Property) bool {
	for _, k := range e.Key {
		if k == p {
			return true
		}
	}
	return false
}

// New allocates a zero entity and returns a pointer to it.
func (e *EntityType) New() any {
	return reflect.New(e.GoType).Interface()
}

// KeyOf extracts the key values of an entity, in key order.
func (e *EntityType) KeyOf(entity any) []any {
	v := reflect.Indirect(reflect.ValueOf(entity))
	out := make([]any, len(e.Key))
	for i, k := range e.Key {
		out[i] = v.FieldByIndex(k.Index).Interface()
	}
	return out
}

func findProperty(props []*Property, name string) (*Property, bool) {
	for _, p := range props {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// EntitySet is a named, addressable collection of entities.
type EntitySet struct {
	Name  string
	Type  *EntityType
	Table string
}

// OperationKind distinguishes functions from actions.
type OperationKind int

const (
	FunctionKind OperationKind = iota + 1
	ActionKind
)

func (k OperationKind) String() string {
	if k == ActionKind {
		return "Action"
	}
	return "Function"
}

// Parameter is a non-binding parameter of an operation.
type Parameter struct {
	Name     string
	Type     TypeRef
	Optional bool
}

// Operation is a function or action bound to an entity type or a collection of it.
type Operation struct {
	Kind              OperationKind
	Namespace         string
	Name              string
	Binding           *EntityType
	BoundToCollection bool
	Parameters        []Parameter
	ReturnType        *TypeRef
	ReturnEntitySet   string
}

func (o *Operation) FullName() string { return o.Namespace + "." + o.Name }

// Parameter finds a parameter by name.
func (o *Operation) Parameter(name string) (Parameter, bool) {
	for _, p := range o.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Model is a built entity data model.
type Model struct {
	Namespace string
	Container string

	sets         []*EntitySet
	entityTypes  []*EntityType
	complexTypes []*ComplexType
	enumTypes    []*EnumType
	operations   []*Operation

	byGoType map[reflect.Type]*EntityType
}

// EntitySet looks up an entity set by name.
func (m *Model) EntitySet(name string) (*EntitySet, bool) {
	for _, s := range m.sets {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// EntitySets returns the entity sets in registration order.
func (m *Model) EntitySets() []*EntitySet { return m.sets }

func (m *Model) EntityTypes() []*EntityType { return m.entityTypes }

func (m *Model) ComplexTypes() []*ComplexType { return m.complexTypes }

func (m *Model) EnumTypes() []*EnumType { return m.enumTypes }

func (m *Model) Operations() []*Operation { return m.operations }

// EntityTypeOf returns the entity type backed by a Go type (pointer types are dereferenced).
func (m *Model) EntityTypeOf(t reflect.Type) (*EntityType, bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	et, ok := m.byGoType[t]
	return et, ok
}

// EnumType looks up an enum type by qualified name.
func (m *Model) EnumType(fullName string) (*EnumType, bool) {
	for _, e := range m.enumTypes {
		if e.FullName() == fullName {
			return e, true
		}
	}
	return nil, false
}

// BoundOperations lists operations bound to et (or to a collection of et).
func (m *Model) BoundOperations(et *EntityType, collection bool) []*Operation {
	var out []*Operation
	for _, op := range m.operations {
		if op.Binding == et && op.BoundToCollection == collection {
			out = append(out, op)
		}
	}
	return out
}

// FindBoundOperation resolves a possibly namespace-qualified operation name bound to et.
func (m *Model) FindBoundOperation(et *EntityType, collection bool, name string) (*Operation, bool) {
	for _, op := range m.BoundOperations(et, collection) {
		if op.Name == name || op.FullName() == name {
			return op, true
		}
	}
	return nil, false
}

// EntitySetOf finds the first entity set whose type is et.
func (m *Model) EntitySetOf(et *EntityType) (*EntitySet, bool) {
	for _, s := range m.sets {
		if s.Type == et {
			return s, true
		}
	}
	return nil, false
}

// SplitQualified splits "Namespace.Name" at the last dot.
func SplitQualified(name string) (namespace, local string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
