package model

// Customer places orders.
type Customer struct {
	Id     int     `odata:"key"`
	Name   string  `validate:"required"`
	Orders []Order `odata:"fk:CustomerId"`
}

// Order belongs to a customer.
type Order struct {
	OrderId    int `odata:"key"`
	OrderName  string
	UnitPrice  float64
	CustomerId int
	Customer   *Customer `odata:"fk:CustomerId"`
}
