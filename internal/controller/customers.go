package controller

import (
	"odatasample/internal/model"
	"odatasample/internal/odata"
	"odatasample/internal/service"
)

// Customers serves the Customers entity set of the default and custom routes.
type Customers struct {
	entitySet
}

func NewCustomers(svc service.EntityService) *Customers {
	return &Customers{entitySet{svc: svc}}
}

func (ctl *Customers) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get":        ctl.list,
		"GetByKey":   ctl.get,
		"Post":       createAction[model.Customer](ctl.svc),
		"Put":        replaceAction[model.Customer](ctl.svc),
		"Patch":      patchAction[model.Customer](ctl.svc),
		"Delete":     ctl.delete,
		"GetOrders":  ctl.GetOrders,
		"PostOrders": ctl.PostOrders,
	}
}

// GetOrders lists the orders of a customer, including Customers(1)/orders/$count.
func (ctl *Customers) GetOrders(c *odata.Context) (*odata.Result, error) {
	res, err := ctl.svc.Related(c.Context(), c.Model(), c.Path.EntitySet(), c.Path.Keys(), c.Path.Navigation(), c.Query)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.Page(res.Items, res.Total), nil
}

// PostOrders creates an order for the customer addressed by the path. It is reached through
// CustomNavigationPropertyRoutingConvention.
func (ctl *Customers) PostOrders(c *odata.Context) (*odata.Result, error) {
	id, ok := odata.Key[int](c, "id")
	if !ok {
		return nil, odata.BadRequest("customer key is required")
	}
	if _, err := ctl.svc.Get(c.Context(), c.Path.EntitySet(), c.Path.Keys()); err != nil {
		return nil, serviceError(err)
	}
	var order model.Order
	if _, err := c.Bind(&order); err != nil {
		return nil, err
	}
	order.CustomerId = id

	orders, ok := c.Model().EntitySetOf(c.Path.Navigation().Target)
	if !ok {
		return nil, odata.NotFound("route %s has no Orders entity set", c.Route.Name)
	}
	stored, err := ctl.svc.Create(c.Context(), orders, &order)
	if err != nil {
		return nil, serviceError(err)
	}
	return odata.Created(stored), nil
}

// CustomersV1 is the read-only Customers controller of the V1RouteVersioning route.
type CustomersV1 struct {
	entitySet
}

func NewCustomersV1(svc service.EntityService) *CustomersV1 {
	return &CustomersV1{entitySet{svc: svc}}
}

func (ctl *CustomersV1) Actions() odata.ActionMap {
	return odata.ActionMap{
		"Get":      ctl.list,
		"GetByKey": ctl.get,
	}
}
