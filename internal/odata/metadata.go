package odata

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"reflect"

	"odatasample/internal/edm"
)

type csdlEdmx struct {
	XMLName      xml.Name         `xml:"edmx:Edmx"`
	Version      string           `xml:"Version,attr"`
	Xmlns        string           `xml:"xmlns:edmx,attr"`
	DataServices csdlDataServices `xml:"edmx:DataServices"`
}

type csdlDataServices struct {
	Schema csdlSchema `xml:"Schema"`
}

type csdlSchema struct {
	Namespace    string              `xml:"Namespace,attr"`
	Xmlns        string              `xml:"xmlns,attr"`
	EntityTypes  []csdlEntityType    `xml:"EntityType"`
	ComplexTypes []csdlComplexType   `xml:"ComplexType"`
	EnumTypes    []csdlEnumType      `xml:"EnumType"`
	Functions    []csdlOperation     `xml:"Function"`
	Actions      []csdlOperation     `xml:"Action"`
	Container    csdlEntityContainer `xml:"EntityContainer"`
}

type csdlEntityType struct {
	Name       string           `xml:"Name,attr"`
	HasStream  bool             `xml:"HasStream,attr,omitempty"`
	Key        csdlKey          `xml:"Key"`
	Properties []csdlProperty   `xml:"Property"`
	Navigation []csdlNavigation `xml:"NavigationProperty"`
}

type csdlKey struct {
	Refs []csdlPropertyRef `xml:"PropertyRef"`
}

type csdlPropertyRef struct {
	Name string `xml:"Name,attr"`
}

type csdlProperty struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Nullable string `xml:"Nullable,attr,omitempty"`
}

type csdlNavigation struct {
	Name       string                     `xml:"Name,attr"`
	Type       string                     `xml:"Type,attr"`
	Constraint *csdlReferentialConstraint `xml:"ReferentialConstraint,omitempty"`
}

type csdlReferentialConstraint struct {
	Property           string `xml:"Property,attr"`
	ReferencedProperty string `xml:"ReferencedProperty,attr"`
}

type csdlComplexType struct {
	Name       string         `xml:"Name,attr"`
	Properties []csdlProperty `xml:"Property"`
}

type csdlEnumType struct {
	Name    string           `xml:"Name,attr"`
	Members []csdlEnumMember `xml:"Member"`
}

type csdlEnumMember struct {
	Name  string `xml:"Name,attr"`
	Value int64  `xml:"Value,attr"`
}

type csdlOperation struct {
	Name          string          `xml:"Name,attr"`
	IsBound       bool            `xml:"IsBound,attr"`
	EntitySetPath string          `xml:"EntitySetPath,attr,omitempty"`
	Parameters    []csdlProperty  `xml:"Parameter"`
	ReturnType    *csdlReturnType `xml:"ReturnType,omitempty"`
}

type csdlReturnType struct {
	Type string `xml:"Type,attr"`
}

type csdlEntityContainer struct {
	Name       string          `xml:"Name,attr"`
	EntitySets []csdlEntitySet `xml:"EntitySet"`
}

type csdlEntitySet struct {
	Name     string                  `xml:"Name,attr"`
	Type     string                  `xml:"EntityType,attr"`
	Bindings []csdlNavigationBinding `xml:"NavigationPropertyBinding"`
}

type csdlNavigationBinding struct {
	Path   string `xml:"Path,attr"`
	Target string `xml:"Target,attr"`
}

// nullable renders the Nullable facet: value types are not nullable unless declared as pointers.
func nullable(ref edm.TypeRef) string {
	if ref.Collection || ref.Nullable {
		return ""
	}
	if ref.Kind == edm.KindPrimitive && ref.GoType != nil && ref.GoType.Kind() == reflect.String {
		return ""
	}
	return "false"
}

// Metadata renders the CSDL document of a model.
func Metadata(model *edm.Model) ([]byte, error) {
	schema := csdlSchema{
		Namespace: model.Namespace,
		Xmlns:     "http://docs.oasis-open.org/odata/ns/edm",
		Container: csdlEntityContainer{Name: model.Container},
	}
	for _, et := range model.EntityTypes() {
		t := csdlEntityType{Name: et.Name, HasStream: et.HasStream}
		for _, k := range et.Key {
			t.Key.Refs = append(t.Key.Refs, csdlPropertyRef{Name: k.Name})
		}
		for _, p := range et.Properties {
			n := nullable(p.Type)
			if et.IsKey(p) {
				n = "false"
			}
			t.Properties = append(t.Properties, csdlProperty{Name: p.Name, Type: p.Type.Name(), Nullable: n})
		}
		for _, nav := range et.Navigation {
			typeName := nav.Target.FullName()
			if nav.Collection {
				typeName = "Collection(" + typeName + ")"
			}
			cn := csdlNavigation{Name: nav.Name, Type: typeName}
			if !nav.Collection && nav.ForeignKey != nil && len(nav.Target.Key) == 1 {
				cn.Constraint = &csdlReferentialConstraint{Property: nav.ForeignKey.Name, ReferencedProperty: nav.Target.Key[0].Name}
			}
			t.Navigation = append(t.Navigation, cn)
		}
		schema.EntityTypes = append(schema.EntityTypes, t)
	}
	for _, ct := range model.ComplexTypes() {
		t := csdlComplexType{Name: ct.Name}
		for _, p := range ct.Properties {
			t.Properties = append(t.Properties, csdlProperty{Name: p.Name, Type: p.Type.Name(), Nullable: nullable(p.Type)})
		}
		schema.ComplexTypes = append(schema.ComplexTypes, t)
	}
	for _, e := range model.EnumTypes() {
		t := csdlEnumType{Name: e.Name}
		for _, m := range e.Members {
			t.Members = append(t.Members, csdlEnumMember{Name: m.Name, Value: m.Value})
		}
		schema.EnumTypes = append(schema.EnumTypes, t)
	}
	for _, op := range model.Operations() {
		binding := op.Binding.FullName()
		if op.BoundToCollection {
			binding = "Collection(" + binding + ")"
		}
		o := csdlOperation{
			Name:       op.Name,
			IsBound:    true,
			Parameters: []csdlProperty{{Name: "bindingParameter", Type: binding}},
		}
		for _, p := range op.Parameters {
			o.Parameters = append(o.Parameters, csdlProperty{Name: p.Name, Type: p.Type.Name(), Nullable: nullable(p.Type)})
		}
		if op.ReturnType != nil {
			o.ReturnType = &csdlReturnType{Type: op.ReturnType.Name()}
			if op.ReturnEntitySet != "" {
				o.EntitySetPath = "bindingParameter"
			}
		}
		if op.Kind == edm.ActionKind {
			schema.Actions = append(schema.Actions, o)
		} else {
			schema.Functions = append(schema.Functions, o)
		}
	}
	for _, set := range model.EntitySets() {
		es := csdlEntitySet{Name: set.Name, Type: set.Type.FullName()}
		for _, nav := range set.Type.Navigation {
			if target, ok := model.EntitySetOf(nav.Target); ok {
				es.Bindings = append(es.Bindings, csdlNavigationBinding{Path: nav.Name, Target: target.Name})
			}
		}
		schema.Container.EntitySets = append(schema.Container.EntitySets, es)
	}

	doc := csdlEdmx{
		Version:      "4.0",
		Xmlns:        "http://docs.oasis-open.org/odata/ns/edmx",
		DataServices: csdlDataServices{Schema: schema},
	}
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}

func metadataResponse(model *edm.Model) (*Response, error) {
	b, err := Metadata(model)
	if err != nil {
		return nil, err
	}
	return rawResponse(http.StatusOK, "application/xml", b), nil
}
