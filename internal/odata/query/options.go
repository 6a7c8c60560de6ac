// Package query binds OData system query options and URI literals to an entity data model,
// and evaluates them over in-memory collections. The option grammar is parsed by godata.
package query

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/CiscoM31/godata"

	"odatasample/internal/edm"
)

var (
	ErrInvalidQuery   = errors.New("invalid query option")
	ErrNotAllowed     = errors.New("query option not allowed")
	ErrInvalidLiteral = errors.New("invalid literal")
	ErrInvalidKey     = errors.New("invalid key")
)

// Settings enables query options for a route. MaxTop of 0 means unlimited.
type Settings struct {
	Filter  bool
	Expand  bool
	Select  bool
	OrderBy bool
	Count   bool
	MaxTop  int
}

// AllowAll enables every option without a $top limit.
func AllowAll() Settings {
	return Settings{Filter: true, Expand: true, Select: true, OrderBy: true, Count: true}
}

type OrderBy struct {
	Property   *edm.Property
	Descending bool
}

// Options is the bound form of a request's system query options.
type Options struct {
	Filter  Expr
	Select  []string
	Expand  []string
	OrderBy []OrderBy
	Top     *int
	Skip    *int
	Count   bool
}

// Projection returns the $select/$expand shape used when encoding results.
func (o *Options) Projection() edm.Projection {
	if o == nil {
		return edm.Projection{}
	}
	return edm.Projection{Select: o.Select, Expand: o.Expand}
}

// Parse binds the system query options in values to et. Parameters without a $ prefix
// (function parameter aliases, custom options) are left to the caller.
func Parse(ctx context.Context, values url.Values, model *edm.Model, et *edm.EntityType, settings Settings, r Resolver) (*Options, error) {
	opts := &Options{}
	for name, vals := range values {
		if !strings.HasPrefix(name, "$") {
			continue
		}
		if len(vals) != 1 {
			return nil, fmt.Errorf("%w: %s specified more than once", ErrInvalidQuery, name)
		}
		raw := strings.TrimSpace(vals[0])
		var err error
		switch name {
		case "$format":
		case "$filter":
			if !settings.Filter {
				return nil, fmt.Errorf("%w: $filter", ErrNotAllowed)
			}
			opts.Filter, err = ParseFilter(ctx, raw, model, et, r)
		case "$select":
			if !settings.Select {
				return nil, fmt.Errorf("%w: $select", ErrNotAllowed)
			}
			opts.Select, err = parseSelect(ctx, raw, et)
		case "$expand":
			if !settings.Expand {
				return nil, fmt.Errorf("%w: $expand", ErrNotAllowed)
			}
			opts.Expand, err = parseExpand(ctx, raw, et)
		case "$orderby":
			if !settings.OrderBy {
				return nil, fmt.Errorf("%w: $orderby", ErrNotAllowed)
			}
			opts.OrderBy, err = parseOrderBy(ctx, raw, et)
		case "$top":
			var top *godata.GoDataTopQuery
			if top, err = godata.ParseTopString(ctx, raw); err != nil {
				break
			}
			n := int(*top)
			if n < 0 {
				return nil, fmt.Errorf("%w: $top must be a non-negative integer", ErrInvalidQuery)
			}
			if settings.MaxTop > 0 && n > settings.MaxTop {
				return nil, fmt.Errorf("%w: $top %d exceeds the maximum of %d", ErrNotAllowed, n, settings.MaxTop)
			}
			opts.Top = &n
		case "$skip":
			var skip *godata.GoDataSkipQuery
			if skip, err = godata.ParseSkipString(ctx, raw); err != nil {
				break
			}
			n := int(*skip)
			if n < 0 {
				return nil, fmt.Errorf("%w: $skip must be a non-negative integer", ErrInvalidQuery)
			}
			opts.Skip = &n
		case "$count":
			if !settings.Count {
				return nil, fmt.Errorf("%w: $count", ErrNotAllowed)
			}
			var count *godata.GoDataCountQuery
			if count, err = godata.ParseCountString(ctx, raw); err == nil {
				opts.Count = bool(*count)
			}
		default:
			err = fmt.Errorf("%w: unsupported option %s", ErrInvalidQuery, name)
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidQuery) && !errors.Is(err, ErrNotAllowed) {
				err = fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
			}
			return nil, err
		}
	}
	return opts, nil
}

func parseSelect(ctx context.Context, raw string, et *edm.EntityType) ([]string, error) {
	sel, err := godata.ParseSelectString(ctx, raw)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range sel.SelectItems {
		if len(item.Segments) != 1 {
			return nil, fmt.Errorf("%w: $select paths are not supported", ErrInvalidQuery)
		}
		name := strings.TrimSpace(item.Segments[0].Value)
		if name == "*" {
			return nil, nil
		}
		if _, ok := et.Property(name); !ok {
			return nil, fmt.Errorf("%w: property %q does not exist on type %s", ErrInvalidQuery, name, et.FullName())
		}
		out = append(out, name)
	}
	return out, nil
}

func parseExpand(ctx context.Context, raw string, et *edm.EntityType) ([]string, error) {
	exp, err := godata.ParseExpandString(ctx, raw)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range exp.ExpandItems {
		if len(item.Path) != 1 || item.Filter != nil || item.Select != nil || item.Expand != nil ||
			item.OrderBy != nil || item.Top != nil || item.Skip != nil {
			return nil, fmt.Errorf("%w: nested $expand is not supported", ErrInvalidQuery)
		}
		name := strings.TrimSpace(item.Path[0].Value)
		if _, ok := et.NavigationProperty(name); !ok {
			return nil, fmt.Errorf("%w: navigation property %q does not exist on type %s", ErrInvalidQuery, name, et.FullName())
		}
		out = append(out, name)
	}
	return out, nil
}

func parseOrderBy(ctx context.Context, raw string, et *edm.EntityType) ([]OrderBy, error) {
	ob, err := godata.ParseOrderByString(ctx, raw)
	if err != nil {
		return nil, err
	}
	var out []OrderBy
	for _, item := range ob.OrderByItems {
		name := strings.TrimSpace(item.Field.Value)
		p, ok := et.Property(name)
		if !ok {
			return nil, fmt.Errorf("%w: property %q does not exist on type %s", ErrInvalidQuery, name, et.FullName())
		}
		if p.Type.Collection || p.Type.Kind == edm.KindComplex {
			return nil, fmt.Errorf("%w: cannot order by %s", ErrInvalidQuery, p.Name)
		}
		out = append(out, OrderBy{Property: p, Descending: strings.EqualFold(item.Order, "desc")})
	}
	return out, nil
}
