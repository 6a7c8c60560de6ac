package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"odatasample/internal/edm"
)

// LiteralKind classifies a URI literal before it is bound to a type.
type LiteralKind int

const (
	NullLiteral LiteralKind = iota + 1
	BoolLiteral
	IntLiteral
	FloatLiteral
	StringLiteral
	EnumLiteral
)

// Literal is a lexical URI literal, e.g. 42, 'abc' or Default.MyEnum'ValueOne'.
type Literal struct {
	Kind LiteralKind
	// Value holds nil, bool, int64, float64 or string (the member name for enum literals).
	Value any
	// TypeName is the qualified enum type of an enum literal.
	TypeName string
}

// ParseLiteral parses a single literal token.
func ParseLiteral(raw string) (Literal, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return Literal{}, fmt.Errorf("%w: empty literal", ErrInvalidLiteral)
	case "null":
		return Literal{Kind: NullLiteral}, nil
	case "true":
		return Literal{Kind: BoolLiteral, Value: true}, nil
	case "false":
		return Literal{Kind: BoolLiteral, Value: false}, nil
	}

	if raw[0] == '\'' {
		s, rest, err := unquote(raw)
		if err != nil {
			return Literal{}, err
		}
		if rest != "" {
			return Literal{}, fmt.Errorf("%w: unexpected %q after string literal", ErrInvalidLiteral, rest)
		}
		return Literal{Kind: StringLiteral, Value: s}, nil
	}

	if i := strings.IndexByte(raw, '\''); i > 0 {
		member, rest, err := unquote(raw[i:])
		if err != nil {
			return Literal{}, err
		}
		if rest != "" {
			return Literal{}, fmt.Errorf("%w: unexpected %q after enum literal", ErrInvalidLiteral, rest)
		}
		return Literal{Kind: EnumLiteral, Value: member, TypeName: raw[:i]}, nil
	}

	return parseNumber(raw)
}

func parseNumber(raw string) (Literal, error) {
	num := strings.TrimRight(raw, "mMdDfFlL")
	if i, err := strconv.ParseInt(num, 10, 64); err == nil {
		return Literal{Kind: IntLiteral, Value: i}, nil
	}
	if f, err := strconv.ParseFloat(num, 64); err == nil {
		return Literal{Kind: FloatLiteral, Value: f}, nil
	}
	return Literal{}, fmt.Errorf("%w %q", ErrInvalidLiteral, raw)
}

// unquote reads a single-quoted string ('' escapes a quote) and returns what follows it.
func unquote(s string) (string, string, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return b.String(), s[i+1:], nil
	}
	return "", "", fmt.Errorf("%w: unterminated string literal", ErrInvalidLiteral)
}

// Resolver binds URI literals to model types.
type Resolver interface {
	Convert(lit Literal, ref edm.TypeRef) (any, error)
}

// DefaultResolver requires enum values to carry their type, as in Default.MyEnum'ValueOne'.
type DefaultResolver struct{}

func (DefaultResolver) Convert(lit Literal, ref edm.TypeRef) (any, error) {
	return convert(lit, ref, false)
}

// StringAsEnumResolver also accepts plain strings such as 'ValueOne' wherever an enum is expected.
type StringAsEnumResolver struct{}

func (StringAsEnumResolver) Convert(lit Literal, ref edm.TypeRef) (any, error) {
	return convert(lit, ref, true)
}

func convert(lit Literal, ref edm.TypeRef, stringAsEnum bool) (any, error) {
	if lit.Kind == NullLiteral {
		return nil, nil
	}
	if ref.Collection {
		return nil, fmt.Errorf("%w: %s cannot be written as a single literal", ErrInvalidLiteral, ref.Name())
	}
	switch ref.Kind {
	case edm.KindEnum:
		switch {
		case lit.Kind == EnumLiteral:
			if lit.TypeName != ref.Enum.FullName() {
				return nil, fmt.Errorf("%w: expected a %s literal, got %s", ErrInvalidLiteral, ref.Enum.FullName(), lit.TypeName)
			}
		case lit.Kind == StringLiteral && stringAsEnum:
		case lit.Kind == StringLiteral:
			return nil, fmt.Errorf("%w: enum literal requires a type prefix, e.g. %s'%s'",
				ErrInvalidLiteral, ref.Enum.FullName(), lit.Value)
		default:
			return nil, fmt.Errorf("%w: expected a %s literal", ErrInvalidLiteral, ref.Enum.FullName())
		}
		v, ok := ref.Enum.Value(lit.Value.(string))
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a member of %s", ErrInvalidLiteral, lit.Value, ref.Enum.FullName())
		}
		return v.Interface(), nil
	case edm.KindPrimitive:
		if lit.Kind == EnumLiteral {
			return nil, fmt.Errorf("%w: expected %s, got an enum literal", ErrInvalidLiteral, ref.Primitive)
		}
		v, err := edm.DecodeValue(ref, lit.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLiteral, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s cannot be written as a literal", ErrInvalidLiteral, ref.Name())
}

// natural converts a literal that has no type context.
func natural(lit Literal, model *edm.Model) (any, error) {
	if lit.Kind != EnumLiteral {
		return lit.Value, nil
	}
	e, ok := model.EnumType(lit.TypeName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown enum type %s", ErrInvalidLiteral, lit.TypeName)
	}
	v, ok := e.Value(lit.Value.(string))
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a member of %s", ErrInvalidLiteral, lit.Value, lit.TypeName)
	}
	return v.Interface(), nil
}

// KeyValue is one resolved key property of an addressed entity.
type KeyValue struct {
	Property *edm.Property
	Value    any
}

// Arg is a raw name=value pair of a key or parameter list. Name is empty for positional values.
type Arg struct {
	Name  string
	Value string
}

// SplitArgs splits the content of a parenthesized key or parameter list at top-level commas.
func SplitArgs(s string) ([]Arg, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args  []Arg
		depth int
		quote bool
		start int
	)
	flush := func(end int) {
		part := strings.TrimSpace(s[start:end])
		a := Arg{Value: part}
		if i := strings.IndexByte(part, '='); i > 0 && !strings.ContainsAny(part[:i], "'([") {
			a.Name = strings.TrimSpace(part[:i])
			a.Value = strings.TrimSpace(part[i+1:])
		}
		args = append(args, a)
		start = end + 1
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			quote = !quote
		case quote:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			flush(i)
		}
	}
	if quote || depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced %q", ErrInvalidLiteral, s)
	}
	flush(len(s))
	return args, nil
}

// ParseKey resolves the content of a key segment, e.g. 1 or EnumValue=Default.MyEnum'ValueOne',Id=2.
func ParseKey(raw string, et *edm.EntityType, r Resolver) ([]KeyValue, error) {
	kvs, err := parseKey(raw, et, r)
	if err != nil {
		return nil, fmt.Errorf("%w of %s: %w", ErrInvalidKey, et.Name, err)
	}
	return kvs, nil
}

func parseKey(raw string, et *edm.EntityType, r Resolver) ([]KeyValue, error) {
	args, err := SplitArgs(raw)
	if err != nil {
		return nil, err
	}
	if len(args) != len(et.Key) {
		return nil, fmt.Errorf("%d key properties expected, got %d", len(et.Key), len(args))
	}
	out := make([]KeyValue, len(et.Key))
	if len(args) == 1 && args[0].Name == "" {
		v, err := keyValue(args[0].Value, et.Key[0], r)
		if err != nil {
			return nil, err
		}
		out[0] = KeyValue{Property: et.Key[0], Value: v}
		return out, nil
	}
	for _, a := range args {
		if a.Name == "" {
			return nil, errors.New("composite keys must name their properties")
		}
		idx := -1
		for i, k := range et.Key {
			if k.Name == a.Name {
				idx = i
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s is not a key property", a.Name)
		}
		if out[idx].Property != nil {
			return nil, fmt.Errorf("duplicate key property %s", a.Name)
		}
		v, err := keyValue(a.Value, et.Key[idx], r)
		if err != nil {
			return nil, err
		}
		out[idx] = KeyValue{Property: et.Key[idx], Value: v}
	}
	return out, nil
}

func keyValue(raw string, p *edm.Property, r Resolver) (any, error) {
	lit, err := ParseLiteral(raw)
	if err != nil {
		return nil, err
	}
	if lit.Kind == NullLiteral {
		return nil, fmt.Errorf("key property %s cannot be null", p.Name)
	}
	return r.Convert(lit, p.Type)
}
