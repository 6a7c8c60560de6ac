package odataconfig

import (
	"reflect"

	"odatasample/internal/edm"
	"odatasample/internal/model"
)

var (
	customerType     = reflect.TypeFor[model.Customer]()
	orderType        = reflect.TypeFor[model.Order]()
	productType      = reflect.TypeFor[model.Product]()
	productDtoType   = reflect.TypeFor[model.ProductDto]()
	myEnumType       = reflect.TypeFor[model.MyEnum]()
	enumKeyType      = reflect.TypeFor[model.ProductWithEnumKey]()
	compositeKeyType = reflect.TypeFor[model.ProductWithCompositeEnumIntKey]()
)

func newBuilder(namespace string) *edm.Builder {
	return edm.NewBuilder(namespace).EnableLowerCamelCase()
}

func DefaultModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("Customers", customerType)
	b.EntitySet("Orders", orderType)
	return b.Build()
}

func CustomRouteModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("Customers", customerType)
	b.EntitySet("Orders", orderType)
	return b.Build()
}

func VersionedModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("Customers", customerType)
	return b.Build()
}

// FakeModel publishes customers under a set name no controller serves.
func FakeModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("FakeCustomers", customerType)
	return b.Build()
}

// FunctionsModel binds the sample functions and actions to Product and to its collection.
func FunctionsModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	product := b.EntitySet("Products", productType).HasStream()

	product.Collection().Function("GetByEnumValue").
		Parameter("EnumValue", myEnumType).
		ReturnsCollectionFromEntitySet("Products")

	product.Function("IsEnumValueMatch").
		Parameter("EnumValue", myEnumType).
		Returns(reflect.TypeFor[bool]())

	product.Collection().Function("MostExpensive").
		Returns(reflect.TypeFor[float64]())

	product.Collection().Function("Top10").
		ReturnsCollectionFromEntitySet("Products")

	product.Function("GetPriceRank").
		Returns(reflect.TypeFor[int]())

	product.Function("CalculateGeneralSalesTax").
		Returns(reflect.TypeFor[float64]()).
		Parameter("state", reflect.TypeFor[string]())

	product.Collection().Function("ProductsWithIds").
		ReturnsCollectionFromEntitySet("Products").
		CollectionParameter("Ids", reflect.TypeFor[int]())

	product.Collection().Action("Create").
		ReturnsFromEntitySet("Products").
		Parameter("Name", reflect.TypeFor[string]()).
		Parameter("Price", reflect.TypeFor[float64]()).
		Parameter("EnumValue", myEnumType)

	product.Collection().Action("PostArray").
		ReturnsFromEntitySet("Products").
		CollectionParameter("products", productDtoType)

	product.Action("Rate").
		Parameter("Rating", reflect.TypeFor[int]())

	return b.Build()
}

func ProductWithEnumKeyModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("ProductWithEnumKeys", enumKeyType)
	return b.Build()
}

func ProductWithCompositeEnumIntKeyModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("ProductWithCompositeEnumIntKeys", compositeKeyType)
	return b.Build()
}

// RestierModel covers every table-backed entity set.
func RestierModel(namespace string) (*edm.Model, error) {
	b := newBuilder(namespace)
	b.EntitySet("Customers", customerType)
	b.EntitySet("Orders", orderType)
	b.EntitySet("Products", productType)
	return b.Build()
}
