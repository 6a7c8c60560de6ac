package controller

import (
	"odatasample/internal/model"
	"odatasample/internal/odata"
	"odatasample/internal/service"
)

type Orders struct {
	entitySet
}

func NewOrders(svc service.EntityService) *Orders {
	return &Orders{entitySet{svc: svc}}
}

func (ctl *Orders) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get":         ctl.list,
		"GetByKey":    ctl.get,
		"Post":        createAction[model.Order](ctl.svc),
		"Delete":      ctl.delete,
		"GetCustomer": ctl.GetCustomer,
	}
}

// GetCustomer returns the customer an order belongs to.
func (ctl *Orders) GetCustomer(c *odata.Context) (*odata.Result, error) {
	e, err := ctl.svc.RelatedOne(c.Context(), c.Model(), c.Path.EntitySet(), c.Path.Keys(), c.Path.Navigation())
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.OK(e), nil
}
