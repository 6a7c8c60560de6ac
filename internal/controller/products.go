package controller

import (
	"bytes"
	"strings"

	"odatasample/internal/edm"
	"odatasample/internal/model"
	"odatasample/internal/odata"
	"odatasample/internal/odata/query"
	"odatasample/internal/service"
)

// salesTaxRates holds the general sales tax rate per US state, in percent.
var salesTaxRates = map[string]float64{
	"AZ": 5.6, "CA": 7.5, "CT": 6.35, "GA": 4, "IN": 7,
	"KS": 6.15, "KY": 6, "MA": 6.25, "NV": 6.85, "NJ": 7,
	"NY": 4, "NC": 4.75, "ND": 5, "PA": 6, "TN": 7,
	"TX": 6.25, "VA": 4.3, "WA": 6.5, "WV": 6, "WI": 5,
}

// Products serves the Products entity set of the functions route: its bound functions and
// actions and the product photo stored as media stream.
type Products struct {
	entitySet
}

func NewProducts(svc service.EntityService) *Products {
	return &Products{entitySet{svc: svc}}
}

func (ctl *Products) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get":                      ctl.list,
		"GetByKey":                 ctl.get,
		"GetByEnumValue":           ctl.GetByEnumValue,
		"IsEnumValueMatch":         ctl.IsEnumValueMatch,
		"MostExpensive":            ctl.MostExpensive,
		"Top10":                    ctl.Top10,
		"GetPriceRank":             ctl.GetPriceRank,
		"CalculateGeneralSalesTax": ctl.CalculateGeneralSalesTax,
		"ProductsWithIds":          ctl.ProductsWithIds,
		"Create":                   ctl.Create,
		"PostArray":                ctl.PostArray,
		"Rate":                     ctl.Rate,
		"GetValue":                 ctl.GetValue,
		"PutValue":                 ctl.PutValue,
	}
}

func property(set *edm.EntitySet, field string) *edm.Property {
	p, _ := set.Type.PropertyByField(field)
	return p
}

func equals(p *edm.Property, v any) query.Expr {
	return &query.BinaryExpr{Op: "eq", Left: &query.PropertyExpr{Property: p}, Right: &query.ValueExpr{Value: v}}
}

func (ctl *Products) product(c *odata.Context) (*model.Product, error) {
	e, err := ctl.svc.Get(c.Context(), c.Path.EntitySet(), c.Path.Keys())
	if err != nil {
		return nil, serviceError(err)
	}
	return e.(*model.Product), nil
}

func (ctl *Products) page(c *odata.Context, opts *query.Options) (*odata.Result, error) {
	res, err := ctl.svc.List(c.Context(), c.Path.EntitySet(), opts)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.Page(res.Items, res.Total), nil
}

func (ctl *Products) GetByEnumValue(c *odata.Context) (*odata.Result, error) {
	v, ok := odata.Param[model.MyEnum](c, "EnumValue")
	if !ok {
		return nil, odata.BadRequest("parameter EnumValue is required")
	}
	return ctl.page(c, withFilter(c.Query, equals(property(c.Path.EntitySet(), "EnumValue"), v)))
}

func (ctl *Products) IsEnumValueMatch(c *odata.Context) (*odata.Result, error) {
	v, ok := odata.Param[model.MyEnum](c, "EnumValue")
	if !ok {
		return nil, odata.BadRequest("parameter EnumValue is required")
	}
	p, err := ctl.product(c)
	if err != nil {
		return nil, err
	}
	return odata.OK(p.EnumValue == v), nil
}

func (ctl *Products) MostExpensive(c *odata.Context) (*odata.Result, error) {
	top := 1
	res, err := ctl.svc.List(c.Context(), c.Path.EntitySet(), &query.Options{
		OrderBy: []query.OrderBy{{Property: property(c.Path.EntitySet(), "Price"), Descending: true}},
		Top:     &top,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	if len(res.Items) == 0 {
		return nil, odata.NotFound("there are no products")
	}
	return odata.OK(res.Items[0].(*model.Product).Price), nil
}

// Top10 keeps the caller's $filter but always orders by price, highest first.
func (ctl *Products) Top10(c *odata.Context) (*odata.Result, error) {
	top := 10
	opts := &query.Options{
		OrderBy: []query.OrderBy{{Property: property(c.Path.EntitySet(), "Price"), Descending: true}},
		Top:     &top,
	}
	if c.Query != nil {
		opts.Filter = c.Query.Filter
	}
	res, err := ctl.svc.List(c.Context(), c.Path.EntitySet(), opts)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.Page(res.Items, len(res.Items)), nil
}

// GetPriceRank is 1 plus the number of products priced higher.
func (ctl *Products) GetPriceRank(c *odata.Context) (*odata.Result, error) {
	p, err := ctl.product(c)
	if err != nil {
		return nil, err
	}
	none := 0
	res, err := ctl.svc.List(c.Context(), c.Path.EntitySet(), &query.Options{
		Filter: &query.BinaryExpr{
			Op:    "gt",
			Left:  &query.PropertyExpr{Property: property(c.Path.EntitySet(), "Price")},
			Right: &query.ValueExpr{Value: p.Price},
		},
		Top:   &none,
		Count: true,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.OK(res.Total + 1), nil
}

func (ctl *Products) CalculateGeneralSalesTax(c *odata.Context) (*odata.Result, error) {
	state, ok := odata.Param[string](c, "state")
	if !ok {
		return nil, odata.BadRequest("parameter state is required")
	}
	p, err := ctl.product(c)
	if err != nil {
		return nil, err
	}
	return odata.OK(p.Price * salesTaxRates[strings.ToUpper(state)] / 100), nil
}

func (ctl *Products) ProductsWithIds(c *odata.Context) (*odata.Result, error) {
	ids, _ := odata.Param[[]int](c, "Ids")
	if len(ids) == 0 {
		return odata.Page([]*model.Product{}, 0), nil
	}
	id := property(c.Path.EntitySet(), "Id")
	filter := equals(id, ids[0])
	for _, v := range ids[1:] {
		filter = &query.BinaryExpr{Op: "or", Left: filter, Right: equals(id, v)}
	}
	return ctl.page(c, withFilter(c.Query, filter))
}

func (ctl *Products) create(c *odata.Context, dto model.ProductDto) (any, error) {
	if err := service.Validate(dto); err != nil {
		return nil, serviceError(err)
	}
	stored, err := ctl.svc.Create(c.Context(), c.Path.EntitySet(), &model.Product{
		Name:      dto.Name,
		Price:     dto.Price,
		EnumValue: dto.EnumValue,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return stored, nil
}

func (ctl *Products) Create(c *odata.Context) (*odata.Result, error) {
	name, _ := odata.Param[string](c, "Name")
	price, _ := odata.Param[float64](c, "Price")
	enumValue, _ := odata.Param[model.MyEnum](c, "EnumValue")
	stored, err := ctl.create(c, model.ProductDto{Name: name, Price: price, EnumValue: enumValue})
	if err != nil {
		return nil, err
	}
	return odata.Created(stored), nil
}

// PostArray creates one product per DTO and returns the last one created.
func (ctl *Products) PostArray(c *odata.Context) (*odata.Result, error) {
	dtos, _ := odata.Param[[]model.ProductDto](c, "products")
	if len(dtos) == 0 {
		return nil, odata.BadRequest("parameter products must not be empty")
	}
	for i, dto := range dtos {
		if err := service.Validate(dto); err != nil {
			return nil, odata.BadRequest("products[%d]: %v", i, err)
		}
	}
	var last any
	for _, dto := range dtos {
		stored, err := ctl.create(c, dto)
		if err != nil {
			return nil, err
		}
		last = stored
	}
	return odata.OK(last), nil
}

func (ctl *Products) Rate(c *odata.Context) (*odata.Result, error) {
	rating, _ := odata.Param[int](c, "Rating")
	p, err := ctl.product(c)
	if err != nil {
		return nil, err
	}
	if err := ctl.svc.Rate(c.Context(), p.Id, rating); err != nil {
		return nil, serviceError(err)
	}
	return odata.NoContent(), nil
}

func (ctl *Products) GetValue(c *odata.Context) (*odata.Result, error) {
	body, contentType, err := ctl.svc.GetMedia(c.Context(), c.Path.EntitySet(), c.Path.Keys())
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.Stream(contentType, body), nil
}

func (ctl *Products) PutValue(c *odata.Context) (*odata.Result, error) {
	err := ctl.svc.PutMedia(c.Context(), c.Path.EntitySet(), c.Path.Keys(),
		bytes.NewReader(c.Body), c.Header.Get("Content-Type"), int64(len(c.Body)))
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.NoContent(), nil
}
