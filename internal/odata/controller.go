package odata

import (
	"fmt"
	"sort"
	"strings"
)

// Action handles a request dispatched to a controller.
type Action func(c *Context) (*Result, error)

// ActionMap maps action names to their handlers. Names are matched case-insensitively.
type ActionMap map[string]Action

// Find returns the registered name of the first candidate the map contains, or "".
func (m ActionMap) Find(candidates ...string) string {
	for _, want := range candidates {
		if _, ok := m[want]; ok {
			return want
		}
		for name := range m {
			if strings.EqualFold(name, want) {
				return name
			}
		}
	}
	return ""
}

// Controller exposes the actions of one controller.
type Controller interface {
	Actions() ActionMap
}

// AttributeRoute binds a path template such as ProductWithEnumKeys({key}) to an action.
// RouteName restricts the binding to one route; empty applies it to every route whose
// model describes the template.
type AttributeRoute struct {
	Method    string
	Template  string
	Action    string
	RouteName string
}

// AttributeRouted is implemented by controllers that declare attribute routes.
type AttributeRouted interface {
	AttributeRoutes() []AttributeRoute
}

type registration struct {
	name       string
	controller Controller
}

// ControllerRegistry holds the controllers available to every route, by case-insensitive name.
// Registration happens at startup; lookups afterwards are safe for concurrent use.
type ControllerRegistry struct {
	byName map[string]registration
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{byName: make(map[string]registration)}
}

// Register adds a controller under name.
func (r *ControllerRegistry) Register(name string, c Controller) error {
	if name == "" {
		return fmt.Errorf("controller name is required")
	}
	if c == nil {
		return fmt.Errorf("controller %s is nil", name)
	}
	key := strings.ToLower(name)
	if existing, ok := r.byName[key]; ok {
		return fmt.Errorf("duplicate controller %s (already registered as %s)", name, existing.name)
	}
	r.byName[key] = registration{name: name, controller: c}
	return nil
}

// Lookup finds a controller and returns it with its registered name.
func (r *ControllerRegistry) Lookup(name string) (Controller, string, bool) {
	reg, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, "", false
	}
	return reg.controller, reg.name, true
}

// Has reports whether a controller named name is registered.
func (r *ControllerRegistry) Has(name string) bool {
	_, ok := r.byName[strings.ToLower(name)]
	return ok
}

// Names returns the registered controller names in sorted order.
func (r *ControllerRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for _, reg := range r.byName {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}
