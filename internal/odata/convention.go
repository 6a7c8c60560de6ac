package odata

import (
	"fmt"
	"net/http"
	"strings"

	"odatasample/internal/edm"
)

// RoutingConvention maps a parsed path to a controller and to one of its actions.
// An empty result lets the next convention decide.
type RoutingConvention interface {
	SelectController(c *Context) string
	SelectAction(c *Context, actions ActionMap) string
}

// navigationSource names the controller after the entity set a path starts from.
type navigationSource struct{}

func (navigationSource) SelectController(c *Context) string {
	if set := c.Path.EntitySet(); set != nil {
		return set.Name
	}
	return ""
}

// EntitySetRoutingConvention handles ~/entityset and ~/entityset/$count.
type EntitySetRoutingConvention struct{ navigationSource }

func (EntitySetRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	set := c.Path.EntitySet()
	switch {
	case c.Path.Template == TemplateEntitySet && c.Method == http.MethodPost:
		return actions.Find("Post"+set.Type.Name, "Post")
	case (c.Path.Template == TemplateEntitySet || c.Path.Template == TemplateEntitySetCount) && c.Method == http.MethodGet:
		return actions.Find("Get"+set.Name, "Get")
	}
	return ""
}

// EntityRoutingConvention handles ~/entityset/key.
type EntityRoutingConvention struct{ navigationSource }

func (EntityRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	if c.Path.Template != TemplateEntity {
		return ""
	}
	name := c.Path.EntitySet().Type.Name
	switch c.Method {
	case http.MethodGet:
		return actions.Find("Get"+name, "GetByKey")
	case http.MethodPut:
		return actions.Find("Put"+name, "Put")
	case http.MethodPatch, "MERGE":
		return actions.Find("Patch"+name, "Patch")
	case http.MethodDelete:
		return actions.Find("Delete"+name, "Delete")
	}
	return ""
}

// NavigationRoutingConvention handles reads of ~/entityset/key/navigation, including $count.
type NavigationRoutingConvention struct{ navigationSource }

func (NavigationRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	if c.Method != http.MethodGet {
		return ""
	}
	if c.Path.Template != TemplateNavigation && c.Path.Template != TemplateNavigationCount {
		return ""
	}
	nav := c.Path.Navigation()
	declaring := c.Path.EntitySet().Type.Name
	return actions.Find("Get"+nav.Name, "Get"+nav.Name+"From"+declaring)
}

// OperationRoutingConvention invokes bound functions (GET) and actions (POST).
type OperationRoutingConvention struct{ navigationSource }

func (OperationRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	op := c.Path.Operation()
	if op == nil {
		return ""
	}
	if (op.Kind == edm.FunctionKind && c.Method != http.MethodGet) || (op.Kind == edm.ActionKind && c.Method != http.MethodPost) {
		return ""
	}
	on := "On" + op.Binding.Name
	if op.BoundToCollection {
		on = "OnCollectionOf" + op.Binding.Name
	}
	return actions.Find(op.Name, op.Name+on)
}

// MediaValueRoutingConvention reads and replaces the media stream of ~/entityset/key/$value.
type MediaValueRoutingConvention struct{ navigationSource }

func (MediaValueRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	if c.Path.Template != TemplateMediaValue {
		return ""
	}
	switch c.Method {
	case http.MethodGet:
		return actions.Find("GetValue")
	case http.MethodPut:
		return actions.Find("PutValue")
	}
	return ""
}

// CustomNavigationPropertyRoutingConvention routes POST on a collection navigation property,
// e.g. POST Customers(1)/orders, to Post<Navigation>.
type CustomNavigationPropertyRoutingConvention struct{ navigationSource }

func (CustomNavigationPropertyRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	if c.Method != http.MethodPost || c.Path.Template != TemplateNavigation {
		return ""
	}
	nav := c.Path.Navigation()
	if !nav.Collection {
		return ""
	}
	return actions.Find("Post" + nav.Name)
}

// CreateDefault returns the default conventions in evaluation order.
func CreateDefault() []RoutingConvention {
	return []RoutingConvention{
		EntitySetRoutingConvention{},
		EntityRoutingConvention{},
		NavigationRoutingConvention{},
		OperationRoutingConvention{},
		MediaValueRoutingConvention{},
	}
}

type attributeEntry struct {
	method     string
	pattern    string
	controller string
	action     string
}

// AttributeRoutingConvention dispatches the attribute routes declared by controllers.
type AttributeRoutingConvention struct {
	routeName string
	entries   []attributeEntry
}

// NewAttributeRoutingConvention collects the attribute routes of the registered controllers
// that apply to routeName. A route scoped to routeName whose template does not fit model is
// an error; unscoped routes that do not fit are ignored.
func NewAttributeRoutingConvention(routeName string, model *edm.Model, registry *ControllerRegistry) (*AttributeRoutingConvention, error) {
	conv := &AttributeRoutingConvention{routeName: routeName}
	for _, name := range registry.Names() {
		ctrl, _, _ := registry.Lookup(name)
		routed, ok := ctrl.(AttributeRouted)
		if !ok {
			continue
		}
		actions := ctrl.Actions()
		for _, ar := range routed.AttributeRoutes() {
			if ar.RouteName != "" && ar.RouteName != routeName {
				continue
			}
			pattern, err := templatePattern(model, ar.Template)
			if err != nil {
				if ar.RouteName == "" {
					continue
				}
				return nil, fmt.Errorf("controller %s: attribute route %q: %w", name, ar.Template, err)
			}
			if _, ok := actions[ar.Action]; !ok {
				return nil, fmt.Errorf("controller %s: attribute route %q names unknown action %s", name, ar.Template, ar.Action)
			}
			method := strings.ToUpper(ar.Method)
			if method == "" {
				method = http.MethodGet
			}
			conv.entries = append(conv.entries, attributeEntry{method: method, pattern: pattern, controller: name, action: ar.Action})
		}
	}
	return conv, nil
}

func (a *AttributeRoutingConvention) match(c *Context) (attributeEntry, bool) {
	pattern := c.Path.pattern()
	for _, e := range a.entries {
		if e.method == c.Method && e.pattern == pattern && (c.ControllerName == "" || strings.EqualFold(c.ControllerName, e.controller)) {
			return e, true
		}
	}
	return attributeEntry{}, false
}

func (a *AttributeRoutingConvention) SelectController(c *Context) string {
	e, ok := a.match(c)
	if !ok {
		return ""
	}
	return e.controller
}

func (a *AttributeRoutingConvention) SelectAction(c *Context, actions ActionMap) string {
	e, ok := a.match(c)
	if !ok {
		return ""
	}
	return actions.Find(e.action)
}

// CreateDefaultWithAttributeRouting puts attribute routing ahead of the default conventions.
func CreateDefaultWithAttributeRouting(routeName string, model *edm.Model, registry *ControllerRegistry) ([]RoutingConvention, error) {
	attr, err := NewAttributeRoutingConvention(routeName, model, registry)
	if err != nil {
		return nil, err
	}
	return append([]RoutingConvention{attr}, CreateDefault()...), nil
}

// templatePattern resolves an attribute template against model into the form Path.pattern returns.
func templatePattern(model *edm.Model, template string) (string, error) {
	template = strings.TrimPrefix(strings.TrimPrefix(template, "~"), "/")
	if template == "" {
		return "", fmt.Errorf("empty template")
	}
	var (
		parts      []string
		et         *edm.EntityType
		collection bool
	)
	for i, seg := range strings.Split(template, "/") {
		name, args, hasArgs := splitCall(seg)
		if i == 0 {
			set, ok := model.EntitySet(name)
			if !ok {
				return "", fmt.Errorf("entity set %s not found", name)
			}
			parts = append(parts, set.Name)
			et, collection = set.Type, true
			if hasArgs && strings.TrimSpace(args) != "" {
				parts = append(parts, "{key}")
				collection = false
			}
			continue
		}
		switch {
		case name == "$count" && collection, name == "$value" && !collection && et.HasStream:
			parts = append(parts, name)
			continue
		}
		if nav, ok := et.NavigationProperty(name); ok && !collection {
			parts = append(parts, nav.Name)
			et, collection = nav.Target, nav.Collection
			if hasArgs && nav.Collection {
				parts = append(parts, "{key}")
				collection = false
			}
			continue
		}
		op, ok := model.FindBoundOperation(et, collection, name)
		if !ok {
			return "", fmt.Errorf("segment %s not found on %s", name, et.Name)
		}
		parts = append(parts, op.FullName())
	}
	return strings.Join(parts, "/"), nil
}
