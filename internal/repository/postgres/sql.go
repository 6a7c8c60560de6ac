package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"odatasample/internal/edm"
	"odatasample/internal/odata/query"
)

var comparisonSQL = map[string]string{
	"eq": "=",
	"ne": "<>",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// sqlBuilder collects positional arguments while a statement is assembled.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// typedArg casts enum arguments to the column's enum type so comparisons and ordering
// follow member values rather than label text.
func (b *sqlBuilder) typedArg(ref edm.TypeRef, v any) string {
	ph := b.arg(v)
	if ref.Kind == edm.KindEnum && ref.Enum.DBType != "" {
		ph += "::" + quote(ref.Enum.DBType)
	}
	return ph
}

func columnList(props []*edm.Property) string {
	cols := make([]string, len(props))
	for i, p := range props {
		cols[i] = quote(p.Column)
	}
	return strings.Join(cols, ", ")
}

func (b *sqlBuilder) keyCondition(key []query.KeyValue) string {
	conds := make([]string, len(key))
	for i, kv := range key {
		conds[i] = quote(kv.Property.Column) + " = " + b.typedArg(kv.Property.Type, kv.Value)
	}
	return strings.Join(conds, " AND ")
}

// where translates a bound $filter expression.
func (b *sqlBuilder) where(e query.Expr) (string, error) {
	switch n := e.(type) {
	case *query.BinaryExpr:
		if n.Op == "and" || n.Op == "or" {
			l, err := b.where(n.Left)
			if err != nil {
				return "", err
			}
			r, err := b.where(n.Right)
			if err != nil {
				return "", err
			}
			return "(" + l + " " + strings.ToUpper(n.Op) + " " + r + ")", nil
		}
		return b.comparison(n)
	case *query.NotExpr:
		s, err := b.where(n.Operand)
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil
	case *query.PropertyExpr:
		return quote(n.Property.Column), nil
	case *query.ValueExpr:
		return b.arg(n.Value), nil
	case *query.CallExpr:
		return b.call(n)
	}
	return "", fmt.Errorf("unsupported filter expression %T", e)
}

func isNull(e query.Expr) bool {
	v, ok := e.(*query.ValueExpr)
	return ok && v.Value == nil
}

// comparison keeps null semantics of in-memory evaluation: null eq null holds and
// ne matches rows where the column is null.
func (b *sqlBuilder) comparison(n *query.BinaryExpr) (string, error) {
	op, ok := comparisonSQL[n.Op]
	if !ok {
		return "", fmt.Errorf("unsupported operator %q", n.Op)
	}
	left, right := n.Left, n.Right
	if isNull(left) {
		left, right = right, left
	}
	l, err := b.operand(left, right)
	if err != nil {
		return "", err
	}
	if isNull(right) {
		switch n.Op {
		case "eq":
			return l + " IS NULL", nil
		case "ne":
			return l + " IS NOT NULL", nil
		}
		return "FALSE", nil
	}
	r, err := b.operand(right, left)
	if err != nil {
		return "", err
	}
	if n.Op == "ne" {
		return l + " IS DISTINCT FROM " + r, nil
	}
	return l + " " + op + " " + r, nil
}

// operand renders e, typing a constant after the property it is compared with.
func (b *sqlBuilder) operand(e, other query.Expr) (string, error) {
	v, isValue := e.(*query.ValueExpr)
	p, isProp := other.(*query.PropertyExpr)
	if isValue && isProp {
		return b.typedArg(p.Property.Type, v.Value), nil
	}
	return b.where(e)
}

func (b *sqlBuilder) call(n *query.CallExpr) (string, error) {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		s, err := b.where(a)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	switch n.Name {
	case "contains":
		return "strpos(" + args[0] + ", " + args[1] + ") > 0", nil
	case "startswith":
		return "starts_with(" + args[0] + ", " + args[1] + ")", nil
	case "endswith":
		return "right(" + args[0] + ", length(" + args[1] + ")) = " + args[1], nil
	case "tolower":
		return "lower(" + args[0] + ")", nil
	case "toupper":
		return "upper(" + args[0] + ")", nil
	}
	return "", fmt.Errorf("unsupported function %q", n.Name)
}

// orderBy lists the requested order followed by the remaining key columns.
func orderBy(et *edm.EntityType, order []query.OrderBy) string {
	var parts []string
	seen := make(map[*edm.Property]bool)
	for _, o := range order {
		s := quote(o.Property.Column)
		if o.Descending {
			s += " DESC"
		}
		parts = append(parts, s)
		seen[o.Property] = true
	}
	for _, k := range et.Key {
		if !seen[k] {
			parts = append(parts, quote(k.Column))
		}
	}
	return strings.Join(parts, ", ")
}
