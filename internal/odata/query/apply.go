package query

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Apply evaluates filter, ordering and paging over items. The returned count is the number of
// items matching the filter before $skip and $top are applied.
func Apply[T any](items []T, opts *Options) ([]T, int, error) {
	if opts == nil {
		return items, len(items), nil
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if opts.Filter != nil {
			ok, err := Match(opts.Filter, item)
			if err != nil {
				return nil, 0, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, item)
	}
	count := len(out)

	if len(opts.OrderBy) > 0 {
		slices.SortStableFunc(out, func(a, b T) int {
			va, vb := reflect.Indirect(reflect.ValueOf(a)), reflect.Indirect(reflect.ValueOf(b))
			for _, ob := range opts.OrderBy {
				c := compareValues(normalize(va.FieldByIndex(ob.Property.Index)), normalize(vb.FieldByIndex(ob.Property.Index)))
				if ob.Descending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if opts.Skip != nil {
		out = out[min(*opts.Skip, len(out)):]
	}
	if opts.Top != nil && *opts.Top < len(out) {
		out = out[:*opts.Top]
	}
	return out, count, nil
}

// Match evaluates a boolean filter expression against one entity.
func Match(e Expr, entity any) (bool, error) {
	v, err := eval(e, reflect.Indirect(reflect.ValueOf(entity)))
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	return ok && b, nil
}

func eval(e Expr, entity reflect.Value) (any, error) {
	switch x := e.(type) {
	case *ValueExpr:
		return normalize(reflect.ValueOf(x.Value)), nil
	case *PropertyExpr:
		return normalize(entity.FieldByIndex(x.Property.Index)), nil
	case *NotExpr:
		v, err := eval(x.Operand, entity)
		if err != nil {
			return nil, err
		}
		b, _ := v.(bool)
		return !b, nil
	case *BinaryExpr:
		l, err := eval(x.Left, entity)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case "and":
			if b, _ := l.(bool); !b {
				return false, nil
			}
			r, err := eval(x.Right, entity)
			if err != nil {
				return nil, err
			}
			b, _ := r.(bool)
			return b, nil
		case "or":
			if b, _ := l.(bool); b {
				return true, nil
			}
			r, err := eval(x.Right, entity)
			if err != nil {
				return nil, err
			}
			b, _ := r.(bool)
			return b, nil
		}
		r, err := eval(x.Right, entity)
		if err != nil {
			return nil, err
		}
		return compareOp(x.Op, l, r), nil
	case *CallExpr:
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			v, err := eval(a, entity)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects string arguments", ErrInvalidQuery, x.Name)
			}
			args[i] = s
		}
		switch x.Name {
		case "contains":
			return strings.Contains(args[0], args[1]), nil
		case "startswith":
			return strings.HasPrefix(args[0], args[1]), nil
		case "endswith":
			return strings.HasSuffix(args[0], args[1]), nil
		case "tolower":
			return strings.ToLower(args[0]), nil
		case "toupper":
			return strings.ToUpper(args[0]), nil
		}
		return nil, fmt.Errorf("%w: unsupported function %s", ErrInvalidQuery, x.Name)
	}
	return nil, fmt.Errorf("%w: cannot evaluate %T", ErrInvalidQuery, e)
}

// normalize reduces a value to nil, bool, int64, float64, string or time.Time.
func normalize(v reflect.Value) any {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t
	}
	return v.Interface()
}

func compareOp(op string, l, r any) bool {
	if l == nil || r == nil {
		switch op {
		case "eq":
			return l == nil && r == nil
		case "ne":
			return (l == nil) != (r == nil)
		}
		return false
	}
	c := compareValues(l, r)
	switch op {
	case "eq":
		return c == 0
	case "ne":
		return c != 0
	case "gt":
		return c > 0
	case "ge":
		return c >= 0
	case "lt":
		return c < 0
	case "le":
		return c <= 0
	}
	return false
}

// compareValues orders normalized values; nil sorts first.
func compareValues(l, r any) int {
	switch {
	case l == nil && r == nil:
		return 0
	case l == nil:
		return -1
	case r == nil:
		return 1
	}
	switch a := l.(type) {
	case int64:
		switch b := r.(type) {
		case int64:
			return cmp.Compare(a, b)
		case float64:
			return cmp.Compare(float64(a), b)
		}
	case float64:
		switch b := r.(type) {
		case int64:
			return cmp.Compare(a, float64(b))
		case float64:
			return cmp.Compare(a, b)
		}
	case string:
		if b, ok := r.(string); ok {
			return strings.Compare(a, b)
		}
	case bool:
		if b, ok := r.(bool); ok {
			switch {
			case a == b:
				return 0
			case !a:
				return -1
			}
			return 1
		}
	case time.Time:
		if b, ok := r.(time.Time); ok {
			return a.Compare(b)
		}
	}
	return strings.Compare(fmt.Sprint(l), fmt.Sprint(r))
}
