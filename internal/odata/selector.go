package odata

import "fmt"

// ControllerSelector names the controller that handles a request.
type ControllerSelector interface {
	ControllerName(c *Context) string
}

// DefaultControllerSelector asks the route's conventions in order and takes the first name.
type DefaultControllerSelector struct{}

func (DefaultControllerSelector) ControllerName(c *Context) string {
	if c.Route == nil {
		return ""
	}
	for _, conv := range c.Route.Conventions {
		if name := conv.SelectController(c); name != "" {
			return name
		}
	}
	return ""
}

// VersionControllerSelector dispatches requests of versioned routes to suffixed controllers.
// For example a request matched by a route mapped to suffix V1 goes to CustomersV1 when
// that controller exists, and to Customers otherwise.
//
// Route versions are mapped at startup; the selector is read-only while serving.
type VersionControllerSelector struct {
	base     ControllerSelector
	registry *ControllerRegistry
	suffixes map[string]string
}

// NewVersionControllerSelector wraps base, DefaultControllerSelector when nil.
func NewVersionControllerSelector(base ControllerSelector, registry *ControllerRegistry) *VersionControllerSelector {
	if base == nil {
		base = DefaultControllerSelector{}
	}
	return &VersionControllerSelector{base: base, registry: registry, suffixes: make(map[string]string)}
}

// MapRouteVersion maps a route name to the suffix appended to controller names.
func (s *VersionControllerSelector) MapRouteVersion(routeName, suffix string) error {
	if routeName == "" {
		return fmt.Errorf("route name is required")
	}
	if _, ok := s.suffixes[routeName]; ok {
		return fmt.Errorf("route %s already has a version suffix", routeName)
	}
	s.suffixes[routeName] = suffix
	return nil
}

// RouteVersion returns the suffix mapped to a route.
func (s *VersionControllerSelector) RouteVersion(routeName string) (string, bool) {
	suffix, ok := s.suffixes[routeName]
	return suffix, ok
}

func (s *VersionControllerSelector) ControllerName(c *Context) string {
	name := s.base.ControllerName(c)
	if name == "" {
		return name
	}
	if c.Route == nil || c.Route.Name == "" {
		return name
	}
	suffix, ok := s.suffixes[c.Route.Name]
	if !ok {
		return name
	}
	if versioned := name + suffix; s.registry.Has(versioned) {
		return versioned
	}
	return name
}
