// Package docs registers the generated Swagger document with swag so that the Swagger UI
// handler can serve it.
package docs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-openapi/spec"
	"github.com/swaggo/swag"
)

const schemesPlaceholder = "{{schemes}}"

// SwaggerInfo holds the exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "OData Sample API",
	Description:      "OData routes with a version-aware controller selector",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  `{"swagger":"2.0","info":{"title":"{{.Title}}","version":"{{.Version}}"},"paths":{}}`,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

// Register replaces the served document with doc. Host and schemes stay templated so they
// can follow the request, the way SwaggerInfo is used by the UI handler.
func Register(doc *spec.Swagger) error {
	if doc == nil {
		return fmt.Errorf("docs: swagger document is nil")
	}
	tmpl := *doc
	tmpl.Host = "{{.Host}}"
	tmpl.Schemes = []string{schemesPlaceholder}
	if tmpl.Info != nil {
		info := *tmpl.Info
		info.Title = "{{.Title}}"
		info.Description = "{{escape .Description}}"
		info.Version = "{{.Version}}"
		tmpl.Info = &info
	}
	b, err := json.Marshal(&tmpl)
	if err != nil {
		return fmt.Errorf("docs: encode swagger document: %w", err)
	}
	s := strings.Replace(string(b), `["`+schemesPlaceholder+`"]`, "{{ marshal .Schemes }}", 1)
	SwaggerInfo.SwaggerTemplate = s
	if doc.Info != nil {
		SwaggerInfo.Title = doc.Info.Title
		SwaggerInfo.Description = doc.Info.Description
		SwaggerInfo.Version = doc.Info.Version
	}
	return nil
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
