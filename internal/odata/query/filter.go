package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/CiscoM31/godata"

	"odatasample/internal/edm"
)

// Expr is a bound $filter expression.
type Expr interface {
	isExpr()
}

// BinaryExpr is a comparison (eq ne gt ge lt le) or a logical operation (and or).
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

// PropertyExpr reads a structural property of the current entity.
type PropertyExpr struct {
	Property *edm.Property
}

// ValueExpr is a constant already converted to its Go value; nil means null.
type ValueExpr struct {
	Value any
}

// CallExpr invokes a canonical function: contains, startswith, endswith, tolower or toupper.
type CallExpr struct {
	Name string
	Args []Expr
}

// literalExpr is a literal waiting for a type context.
type literalExpr struct {
	lit Literal
}

func (*BinaryExpr) isExpr()   {}
func (*NotExpr) isExpr()      {}
func (*PropertyExpr) isExpr() {}
func (*ValueExpr) isExpr()    {}
func (*CallExpr) isExpr()     {}
func (*literalExpr) isExpr()  {}

var comparisonOps = map[string]bool{"eq": true, "ne": true, "gt": true, "ge": true, "lt": true, "le": true}

var canonicalFuncs = map[string]int{
	"contains":   2,
	"startswith": 2,
	"endswith":   2,
	"tolower":    1,
	"toupper":    1,
}

// IsComparison reports whether op compares two operands.
func IsComparison(op string) bool { return comparisonOps[op] }

// enumMarker opens the placeholder string that stands in for a qualified enum literal while
// the expression goes through the grammar parser, which has no enum literal token.
const enumMarker = "\x00enum:"

// extractEnumLiterals replaces every Namespace.Type'Member' literal outside string literals
// with a placeholder string and returns the literals in order of appearance.
func extractEnumLiterals(s string) (string, []Literal, error) {
	var (
		b     strings.Builder
		enums []Literal
	)
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'':
			_, rest, err := unquote(s[i:])
			if err != nil {
				return "", nil, err
			}
			lit := s[i : len(s)-len(rest)]
			if strings.Contains(lit, "\x00") {
				return "", nil, fmt.Errorf("%w: control character in string literal", ErrInvalidQuery)
			}
			b.WriteString(lit)
			i = len(s) - len(rest)
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i + 1
			for j < len(s) && (s[j] == '_' || s[j] == '.' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			word := s[i:j]
			if j < len(s) && s[j] == '\'' && strings.Contains(word, ".") {
				member, rest, err := unquote(s[j:])
				if err != nil {
					return "", nil, err
				}
				b.WriteString("'" + enumMarker + strconv.Itoa(len(enums)) + "'")
				enums = append(enums, Literal{Kind: EnumLiteral, Value: member, TypeName: word})
				i = len(s) - len(rest)
				continue
			}
			b.WriteString(word)
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), enums, nil
}

type binder struct {
	et       *edm.EntityType
	model    *edm.Model
	resolver Resolver
	enums    []Literal
}

// ParseFilter parses and binds a $filter expression against et.
func ParseFilter(ctx context.Context, s string, model *edm.Model, et *edm.EntityType, r Resolver) (Expr, error) {
	e, err := parseFilter(ctx, s, model, et, r)
	if err != nil && !errors.Is(err, ErrInvalidQuery) {
		err = fmt.Errorf("%w: $filter: %w", ErrInvalidQuery, err)
	}
	return e, err
}

func parseFilter(ctx context.Context, s string, model *edm.Model, et *edm.EntityType, r Resolver) (Expr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty $filter", ErrInvalidQuery)
	}
	text, enums, err := extractEnumLiterals(s)
	if err != nil {
		return nil, err
	}
	tree, err := godata.ParseFilterString(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: $filter: %v", ErrInvalidQuery, err)
	}
	b := &binder{et: et, model: model, resolver: r, enums: enums}
	e, err := b.bind(tree.Tree)
	if err != nil {
		return nil, err
	}
	if e, err = b.finalize(e); err != nil {
		return nil, err
	}
	if !isBoolean(e) {
		return nil, fmt.Errorf("%w: $filter must be a boolean expression", ErrInvalidQuery)
	}
	return e, nil
}

func (b *binder) bind(n *godata.ParseNode) (Expr, error) {
	if n == nil || n.Token == nil {
		return nil, fmt.Errorf("%w: malformed $filter", ErrInvalidQuery)
	}
	value := strings.TrimSpace(n.Token.Value)
	switch n.Token.Type {
	case godata.ExpressionTokenLogical, godata.ExpressionTokenOp, godata.ExpressionTokenFunc:
		return b.operator(strings.ToLower(strings.TrimRight(value, "( ")), n.Children)
	case godata.ExpressionTokenLiteral:
		prop, ok := b.et.Property(value)
		if !ok {
			return nil, fmt.Errorf("%w: property %q does not exist on type %s", ErrInvalidQuery, value, b.et.FullName())
		}
		return &PropertyExpr{Property: prop}, nil
	case godata.ExpressionTokenString:
		str := value
		if len(str) >= 2 && str[0] == '\'' {
			unq, rest, err := unquote(str)
			if err != nil || rest != "" {
				return nil, fmt.Errorf("%w: malformed string literal %s", ErrInvalidQuery, str)
			}
			str = unq
		}
		if idx, ok := strings.CutPrefix(str, enumMarker); ok {
			i, err := strconv.Atoi(idx)
			if err != nil || i >= len(b.enums) {
				return nil, fmt.Errorf("%w: malformed enum literal", ErrInvalidQuery)
			}
			return &literalExpr{lit: b.enums[i]}, nil
		}
		return &literalExpr{lit: Literal{Kind: StringLiteral, Value: str}}, nil
	case godata.ExpressionTokenInteger, godata.ExpressionTokenFloat:
		lit, err := parseNumber(value)
		if err != nil {
			return nil, err
		}
		return &literalExpr{lit: lit}, nil
	case godata.ExpressionTokenBoolean:
		return &literalExpr{lit: Literal{Kind: BoolLiteral, Value: strings.EqualFold(value, "true")}}, nil
	case godata.ExpressionTokenNull:
		return &literalExpr{lit: Literal{Kind: NullLiteral}}, nil
	case godata.ExpressionTokenDateTime, godata.ExpressionTokenDate, godata.ExpressionTokenGuid:
		return &literalExpr{lit: Literal{Kind: StringLiteral, Value: value}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported expression %q", ErrInvalidQuery, value)
}

func (b *binder) operator(op string, children []*godata.ParseNode) (Expr, error) {
	if arity, ok := canonicalFuncs[op]; ok {
		return b.call(op, arity, children)
	}
	switch {
	case op == "not" && len(children) == 1:
		operand, err := b.bindBoolean(children[0])
		if err != nil {
			return nil, err
		}
		return &NotExpr{Operand: operand}, nil
	case (op == "and" || op == "or") && len(children) == 2:
		left, err := b.bindBoolean(children[0])
		if err != nil {
			return nil, err
		}
		right, err := b.bindBoolean(children[1])
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	case IsComparison(op) && len(children) == 2:
		left, err := b.bind(children[0])
		if err != nil {
			return nil, err
		}
		right, err := b.bind(children[1])
		if err != nil {
			return nil, err
		}
		if left, right, err = b.bindPair(left, right); err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return nil, fmt.Errorf("%w: unsupported operator %s", ErrInvalidQuery, op)
}

func (b *binder) bindBoolean(n *godata.ParseNode) (Expr, error) {
	e, err := b.bind(n)
	if err != nil {
		return nil, err
	}
	if e, err = b.finalize(e); err != nil {
		return nil, err
	}
	if !isBoolean(e) {
		return nil, fmt.Errorf("%w: operands of logical operators must be boolean", ErrInvalidQuery)
	}
	return e, nil
}

func (b *binder) call(name string, arity int, children []*godata.ParseNode) (Expr, error) {
	if len(children) != arity {
		return nil, fmt.Errorf("%w: %s takes %d arguments", ErrInvalidQuery, name, arity)
	}
	args := make([]Expr, len(children))
	for i, child := range children {
		arg, err := b.bind(child)
		if err != nil {
			return nil, err
		}
		if args[i], err = b.bindString(arg); err != nil {
			return nil, err
		}
	}
	return &CallExpr{Name: name, Args: args}, nil
}

var stringRef = edm.TypeRef{Kind: edm.KindPrimitive, Primitive: edm.String, GoType: reflect.TypeFor[string]()}

func (b *binder) bindString(e Expr) (Expr, error) {
	switch x := e.(type) {
	case *literalExpr:
		v, err := b.resolver.Convert(x.lit, stringRef)
		if err != nil {
			return nil, err
		}
		return &ValueExpr{Value: v}, nil
	case *PropertyExpr:
		if x.Property.Type.Kind != edm.KindPrimitive || x.Property.Type.Primitive != edm.String {
			return nil, fmt.Errorf("%w: %s is not a string property", ErrInvalidQuery, x.Property.Name)
		}
	case *CallExpr:
		if x.Name != "tolower" && x.Name != "toupper" {
			return nil, fmt.Errorf("%w: %s does not return a string", ErrInvalidQuery, x.Name)
		}
	default:
		return nil, fmt.Errorf("%w: expected a string operand", ErrInvalidQuery)
	}
	return e, nil
}

// bindPair converts literals compared with a property to the property's type.
func (b *binder) bindPair(left, right Expr) (Expr, Expr, error) {
	if prop, ok := left.(*PropertyExpr); ok {
		if lit, ok := right.(*literalExpr); ok {
			v, err := b.resolver.Convert(lit.lit, prop.Property.Type)
			if err != nil {
				return nil, nil, err
			}
			return left, &ValueExpr{Value: v}, nil
		}
	}
	if prop, ok := right.(*PropertyExpr); ok {
		if lit, ok := left.(*literalExpr); ok {
			v, err := b.resolver.Convert(lit.lit, prop.Property.Type)
			if err != nil {
				return nil, nil, err
			}
			return &ValueExpr{Value: v}, right, nil
		}
	}
	var err error
	if left, err = b.finalize(left); err != nil {
		return nil, nil, err
	}
	if right, err = b.finalize(right); err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (b *binder) finalize(e Expr) (Expr, error) {
	lit, ok := e.(*literalExpr)
	if !ok {
		return e, nil
	}
	v, err := natural(lit.lit, b.model)
	if err != nil {
		return nil, err
	}
	return &ValueExpr{Value: v}, nil
}

func isBoolean(e Expr) bool {
	switch x := e.(type) {
	case *BinaryExpr, *NotExpr:
		return true
	case *CallExpr:
		return x.Name == "contains" || x.Name == "startswith" || x.Name == "endswith"
	case *PropertyExpr:
		return x.Property.Type.Kind == edm.KindPrimitive && x.Property.Type.Primitive == edm.Boolean
	case *ValueExpr:
		_, ok := x.Value.(bool)
		return ok
	}
	return false
}
