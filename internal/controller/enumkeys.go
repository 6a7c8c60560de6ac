package controller

import (
	"net/http"

	"odatasample/internal/model"
	"odatasample/internal/odata"
	"odatasample/internal/odata/query"
)

// ProductWithEnumKeys serves static products keyed by MyEnum through attribute routes.
type ProductWithEnumKeys struct {
	items []model.ProductWithEnumKey
}

func NewProductWithEnumKeys() *ProductWithEnumKeys {
	return &ProductWithEnumKeys{items: []model.ProductWithEnumKey{
		{EnumValue: model.ValueOne, Name: "ValueOneName", Price: 101},
		{EnumValue: model.ValueTwo, Name: "ValueTwoName", Price: 102},
		{EnumValue: model.ValueThree, Name: "ValueThreeName", Price: 103},
	}}
}

func (ctl *ProductWithEnumKeys) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get":      ctl.Get,
		"GetByKey": ctl.GetByKey,
	}
}

func (ctl *ProductWithEnumKeys) AttributeRoutes() []odata.AttributeRoute {
	const route = "EnumODataRoute"
	return []odata.AttributeRoute{
		{Method: http.MethodGet, Template: "ProductWithEnumKeys", Action: "Get", RouteName: route},
		{Method: http.MethodGet, Template: "ProductWithEnumKeys/$count", Action: "Get", RouteName: route},
		{Method: http.MethodGet, Template: "ProductWithEnumKeys({enumValue})", Action: "GetByKey", RouteName: route},
	}
}

func (ctl *ProductWithEnumKeys) Get(c *odata.Context) (*odata.Result, error) {
	items, count, err := query.Apply(ctl.items, c.Query)
	if err != nil {
		return nil, odata.BadRequest("%v", err)
	}
	return odata.Page(items, count), nil
}

func (ctl *ProductWithEnumKeys) GetByKey(c *odata.Context) (*odata.Result, error) {
	key, _ := odata.Key[model.MyEnum](c, "enumValue")
	for _, p := range ctl.items {
		if p.EnumValue == key {
			return odata.OK(p), nil
		}
	}
	return nil, odata.NotFound("no product with enum key %s", key)
}

// ProductWithCompositeEnumIntKeys serves static products keyed by (MyEnum, int) through attribute routes.
type ProductWithCompositeEnumIntKeys struct {
	items []model.ProductWithCompositeEnumIntKey
}

func NewProductWithCompositeEnumIntKeys() *ProductWithCompositeEnumIntKeys {
	return &ProductWithCompositeEnumIntKeys{items: []model.ProductWithCompositeEnumIntKey{
		{EnumValue: model.ValueOne, Id: 1, Name: "ValueOneName1", Price: 101},
		{EnumValue: model.ValueOne, Id: 2, Name: "ValueOneName2", Price: 102},
		{EnumValue: model.ValueTwo, Id: 1, Name: "ValueTwoName1", Price: 201},
		{EnumValue: model.ValueThree, Id: 3, Name: "ValueThreeName3", Price: 303},
	}}
}

func (ctl *ProductWithCompositeEnumIntKeys) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get":      ctl.Get,
		"GetByKey": ctl.GetByKey,
	}
}

func (ctl *ProductWithCompositeEnumIntKeys) AttributeRoutes() []odata.AttributeRoute {
	const route = "EnumIntCompositeODataRoute"
	return []odata.AttributeRoute{
		{Method: http.MethodGet, Template: "ProductWithCompositeEnumIntKeys", Action: "Get", RouteName: route},
		{Method: http.MethodGet, Template: "ProductWithCompositeEnumIntKeys/$count", Action: "Get", RouteName: route},
		{Method: http.MethodGet, Template: "ProductWithCompositeEnumIntKeys(enumValue={enumValue},id={id})", Action: "GetByKey", RouteName: route},
	}
}

func (ctl *ProductWithCompositeEnumIntKeys) Get(c *odata.Context) (*odata.Result, error) {
	items, count, err := query.Apply(ctl.items, c.Query)
	if err != nil {
		return nil, odata.BadRequest("%v", err)
	}
	return odata.Page(items, count), nil
}

func (ctl *ProductWithCompositeEnumIntKeys) GetByKey(c *odata.Context) (*odata.Result, error) {
	enumValue, _ := odata.Key[model.MyEnum](c, "enumValue")
	id, _ := odata.Key[int](c, "id")
	for _, p := range ctl.items {
		if p.EnumValue == enumValue && p.Id == id {
			return odata.OK(p), nil
		}
	}
	return nil, odata.NotFound("no product with key (%s, %d)", enumValue, id)
}
