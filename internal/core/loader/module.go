package loader

import (
	"context"
)

// Module is one unit of resource declarations, loaded in load order.
type Module interface {
	Name() string
	Classify(c *Catalog) error
}

// ModuleSource discovers the modules of a run.
type ModuleSource interface {
	Modules(ctx context.Context) ([]Module, error)
}

type funcModule struct {
	name string
	fn   func(c *Catalog) error
}

func (m funcModule) Name() string              { return m.name }
func (m funcModule) Classify(c *Catalog) error { return m.fn(c) }

// NewModule wraps a classification function as a Module.
func NewModule(name string, classify func(c *Catalog) error) Module {
	return funcModule{name: name, fn: classify}
}

type staticSource []Module

func (s staticSource) Modules(context.Context) ([]Module, error) {
	return append([]Module(nil), s...), nil
}

// Modules returns a source that always yields ms in discovery order.
func Modules(ms ...Module) ModuleSource {
	return staticSource(ms)
}
