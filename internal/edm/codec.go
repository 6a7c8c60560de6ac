package edm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Object is a JSON object that keeps member insertion order.
type Object struct {
	keys   []string
	values map[string]any
}

func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set adds or replaces a member.
func (o *Object) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Keys() []string { return o.keys }

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Projection restricts the members of an encoded entity.
type Projection struct {
	// Select lists structural properties to keep; empty keeps all of them.
	Select []string
	// Expand lists navigation properties to inline.
	Expand []string
}

// EncodeEntity converts an entity (struct or pointer to struct) to its wire form.
func EncodeEntity(et *EntityType, entity any, proj Projection) *Object {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return encodeEntity(et, v, proj)
}

func encodeEntity(et *EntityType, v reflect.Value, proj Projection) *Object {
	obj := NewObject()
	for _, p := range et.Properties {
		if len(proj.Select) > 0 && !slices.Contains(proj.Select, p.Name) {
			continue
		}
		obj.Set(p.Name, encodeValue(p.Type, v.FieldByIndex(p.Index)))
	}
	for _, n := range et.Navigation {
		if !slices.Contains(proj.Expand, n.Name) {
			continue
		}
		fv := v.FieldByIndex(n.Index)
		if n.Collection {
			items := make([]any, 0, fv.Len())
			for i := 0; i < fv.Len(); i++ {
				ev := reflect.Indirect(fv.Index(i))
				items = append(items, encodeEntity(n.Target, ev, Projection{}))
			}
			obj.Set(n.Name, items)
			continue
		}
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				obj.Set(n.Name, nil)
				continue
			}
			fv = fv.Elem()
		}
		obj.Set(n.Name, encodeEntity(n.Target, fv, Projection{}))
	}
	return obj
}

// EncodeValue converts a value of the referenced type to its wire form.
func EncodeValue(ref TypeRef, value any) any {
	return encodeValue(ref, reflect.ValueOf(value))
}

func encodeValue(ref TypeRef, v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if ref.Collection {
		if v.Kind() != reflect.Slice {
			return nil
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = encodeValue(ref.Elem(), v.Index(i))
		}
		return out
	}
	switch ref.Kind {
	case KindEnum:
		if m, ok := ref.Enum.MemberByValue(v.Int()); ok {
			return m.Name
		}
		return v.Int()
	case KindComplex:
		obj := NewObject()
		for _, p := range ref.Complex.Properties {
			obj.Set(p.Name, encodeValue(p.Type, v.FieldByIndex(p.Index)))
		}
		return obj
	case KindEntity:
		return encodeEntity(ref.Entity, v, Projection{})
	}
	return v.Interface()
}

// DecodeEntity assigns the members of obj to the entity target points to, by property name.
// Annotations are ignored and unknown members are rejected. It returns the structural
// properties that were assigned, in declaration order.
func DecodeEntity(et *EntityType, obj map[string]any, target any) ([]*Property, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Type() != et.GoType {
		return nil, fmt.Errorf("decode target must be *%s", et.GoType.Name())
	}
	v = v.Elem()

	var assigned []*Property
	for name, raw := range obj {
		if strings.Contains(name, "@") {
			continue
		}
		if p, ok := et.Property(name); ok {
			f := v.FieldByIndex(p.Index)
			fv, err := decodeValue(p.Type, raw, f.Type())
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			f.Set(fv)
			assigned = append(assigned, p)
			continue
		}
		if n, ok := et.NavigationProperty(name); ok {
			f := v.FieldByIndex(n.Index)
			ref := TypeRef{Kind: KindEntity, Entity: n.Target, Collection: n.Collection, GoType: n.Target.GoType}
			fv, err := decodeValue(ref, raw, f.Type())
			if err != nil {
				return nil, fmt.Errorf("navigation property %s: %w", name, err)
			}
			f.Set(fv)
			continue
		}
		return nil, fmt.Errorf("property %q does not exist on type %s", name, et.FullName())
	}

	slices.SortFunc(assigned, func(a, b *Property) int {
		return slices.Index(et.Properties, a) - slices.Index(et.Properties, b)
	})
	return assigned, nil
}

// DecodeValue converts a decoded JSON value (or a parsed URI literal) to the Go type of ref.
func DecodeValue(ref TypeRef, raw any) (any, error) {
	t := ref.GoType
	if ref.Collection {
		t = reflect.SliceOf(t)
	}
	v, err := decodeValue(ref, raw, t)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func decodeValue(ref TypeRef, raw any, t reflect.Type) (reflect.Value, error) {
	if raw == nil {
		return reflect.Zero(t), nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := decodeValue(ref, raw, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if ref.Collection {
		items, ok := raw.([]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected a collection of %s", ref.ElementName())
		}
		out := reflect.MakeSlice(t, 0, len(items))
		for _, item := range items {
			ev, err := decodeValue(ref.Elem(), item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, ev)
		}
		return out, nil
	}

	switch ref.Kind {
	case KindEnum:
		return decodeEnum(ref.Enum, raw, t)
	case KindComplex:
		m, ok := raw.(map[string]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected an object of type %s", ref.Complex.FullName())
		}
		nv := reflect.New(t).Elem()
		for name, member := range m {
			if strings.Contains(name, "@") {
				continue
			}
			p, ok := ref.Complex.Property(name)
			if !ok {
				return reflect.Value{}, fmt.Errorf("property %q does not exist on type %s", name, ref.Complex.FullName())
			}
			f := nv.FieldByIndex(p.Index)
			fv, err := decodeValue(p.Type, member, f.Type())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("property %s: %w", name, err)
			}
			f.Set(fv)
		}
		return nv, nil
	case KindEntity:
		m, ok := raw.(map[string]any)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected an object of type %s", ref.Entity.FullName())
		}
		nv := reflect.New(t)
		if _, err := DecodeEntity(ref.Entity, m, nv.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return nv.Elem(), nil
	}
	return decodePrimitive(ref.Primitive, raw, t)
}

func decodeEnum(e *EnumType, raw any, t reflect.Type) (reflect.Value, error) {
	if s, ok := raw.(string); ok {
		v, ok := e.Value(s)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%q is not a member of %s", s, e.FullName())
		}
		return v.Convert(t), nil
	}
	i, err := asInt64(raw)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("expected a member of %s", e.FullName())
	}
	if _, ok := e.MemberByValue(i); !ok {
		return reflect.Value{}, fmt.Errorf("%d is not a member of %s", i, e.FullName())
	}
	v := reflect.New(t).Elem()
	v.SetInt(i)
	return v, nil
}

func decodePrimitive(k PrimitiveKind, raw any, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	switch {
	case k == Boolean:
		b, ok := raw.(bool)
		if !ok {
			return v, fmt.Errorf("expected %s", k)
		}
		v.SetBool(b)
	case k == String:
		s, ok := raw.(string)
		if !ok {
			return v, fmt.Errorf("expected %s", k)
		}
		v.SetString(s)
	case k == DateTimeOffset:
		s, ok := raw.(string)
		if !ok {
			return v, fmt.Errorf("expected %s", k)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return v, fmt.Errorf("expected %s: %w", k, err)
		}
		v.Set(reflect.ValueOf(ts))
	case k.IsIntegral():
		i, err := asInt64(raw)
		if err != nil {
			return v, fmt.Errorf("expected %s", k)
		}
		if k == Byte {
			if i < 0 || v.OverflowUint(uint64(i)) {
				return v, fmt.Errorf("%d overflows %s", i, k)
			}
			v.SetUint(uint64(i))
			break
		}
		if v.OverflowInt(i) || (k == Int32 && (i > math.MaxInt32 || i < math.MinInt32)) {
			return v, fmt.Errorf("%d overflows %s", i, k)
		}
		v.SetInt(i)
	case k.IsNumeric():
		f, err := asFloat64(raw)
		if err != nil {
			return v, fmt.Errorf("expected %s", k)
		}
		v.SetFloat(f)
	default:
		return v, fmt.Errorf("unsupported primitive %s", k)
	}
	return v, nil
}

func asInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("%v is not a number", raw)
}

func asFloat64(raw any) (float64, error) {
	switch n := raw.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%v is not a number", raw)
}
