package model

// Product is the entity the functions and actions of the sample are bound to.
// Its media stream holds the product photo.
type Product struct {
	Id        int `odata:"key"`
	Name      string
	Price     float64
	EnumValue MyEnum
}

// ProductDto is the complex payload accepted by the PostArray action.
type ProductDto struct {
	Name      string  `validate:"required"`
	Price     float64 `validate:"gte=0"`
	EnumValue MyEnum
}

// ProductWithEnumKey is keyed by an enum member.
type ProductWithEnumKey struct {
	EnumValue MyEnum `odata:"key"`
	Name      string
	Price     float64
}

// ProductWithCompositeEnumIntKey is keyed by an enum member and an integer.
type ProductWithCompositeEnumIntKey struct {
	EnumValue MyEnum `odata:"key"`
	Id        int    `odata:"key"`
	Name      string
	Price     float64
}
