// Package resourcetypes holds the concrete resource types shipped with folio.
package resourcetypes

import (
	"fmt"

	"github.com/mesh-intelligence/folio/internal/registry"
)

// All returns a fresh instance of every built-in type, in registration order.
func All() []registry.ResourceType {
	return []registry.ResourceType{
		PlainText{},
		TextAnnotation{},
	}
}

// NewRegistry registers every built-in type and seals the registry. A type
// whose definition cannot be synthesized is a programming error and fails
// process startup.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New()
	for _, rt := range All() {
		if err := reg.Register(rt); err != nil {
			return nil, fmt.Errorf("building registry: %w", err)
		}
	}
	reg.Seal()
	return reg, nil
}
