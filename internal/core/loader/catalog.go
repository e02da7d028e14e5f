package loader

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/zeusync/universe/internal/core/universe"
)

var (
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrDuplicateType     = errors.New("type declared twice")
	ErrSecondModifier    = errors.New("module declares more than one modifier")
)

// Catalog collects the descriptors one module declares.
type Catalog struct {
	module     string
	enums      []EnumDescriptor
	components []ComponentDescriptor
	models     []ModelDescriptor
	archetypes []ArchetypeDescriptor
	modifier   *ModifierDescriptor
	hooks      map[reflect.Type]Hook
	seen       map[reflect.Type]bool
	errs       []error
}

func newCatalog(module string) *Catalog {
	return &Catalog{
		module: module,
		hooks:  make(map[reflect.Type]Hook),
		seen:   make(map[reflect.Type]bool),
	}
}

func (c *Catalog) Module() string { return c.module }

func (c *Catalog) Enum(d EnumDescriptor) *Catalog {
	if d.Values == nil {
		return c.fail(d.Type, "enumeration without values")
	}
	if c.declare(d.Type) {
		c.enums = append(c.enums, d)
	}
	return c
}

func (c *Catalog) Component(d ComponentDescriptor) *Catalog {
	if d.New == nil {
		return c.fail(d.Type, "component without constructor")
	}
	if c.declare(d.Type) {
		c.components = append(c.components, d)
	}
	return c
}

func (c *Catalog) Model(d ModelDescriptor) *Catalog {
	if c.declare(d.Type) {
		c.models = append(c.models, d)
	}
	return c
}

func (c *Catalog) Archetype(d ArchetypeDescriptor) *Catalog {
	switch {
	case d.Splay == nil && d.New == nil:
		return c.fail(d.Type, "archetype without constructor")
	case d.Splay != nil && (d.Splay.New == nil || d.Splay.Enum == nil):
		return c.fail(d.Type, "splayed archetype without enumeration or constructor")
	}
	if c.declare(d.Type) {
		c.archetypes = append(c.archetypes, d)
	}
	return c
}

// Modifier sets the module's modifier. A module has at most one.
func (c *Catalog) Modifier(d ModifierDescriptor) *Catalog {
	if d.Modify == nil {
		return c.fail(d.Type, "modifier without function")
	}
	if c.modifier != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: %w", c.module, ErrSecondModifier))
		return c
	}
	c.modifier = &d
	return c
}

// Hook registers the registration hook of type t.
func (c *Catalog) Hook(t reflect.Type, fn Hook) *Catalog {
	if t == nil || fn == nil {
		return c.fail(t, "hook without type or function")
	}
	c.hooks[t] = fn
	return c
}

// Err returns the declaration errors collected so far.
func (c *Catalog) Err() error {
	return errors.Join(c.errs...)
}

func (c *Catalog) declare(t reflect.Type) bool {
	if t == nil {
		c.fail(t, "nil type")
		return false
	}
	if c.seen[t] {
		c.errs = append(c.errs, fmt.Errorf("%s: %s: %w", c.module, t, ErrDuplicateType))
		return false
	}
	c.seen[t] = true
	return true
}

func (c *Catalog) fail(t reflect.Type, msg string) *Catalog {
	name := "<nil>"
	if t != nil {
		name = t.String()
	}
	c.errs = append(c.errs, fmt.Errorf("%s: %s: %w: %s", c.module, name, ErrInvalidDescriptor, msg))
	return c
}

// EnumOf declares enumeration type E with the given value source.
func EnumOf[E universe.Enumeration](c *Catalog, values func(u *universe.Universe) ([]E, error), deps ...reflect.Type) *Catalog {
	return c.Enum(EnumDescriptor{
		Type: reflect.TypeFor[E](),
		Values: func(u *universe.Universe) ([]universe.Enumeration, error) {
			vs, err := values(u)
			if err != nil {
				return nil, err
			}
			out := make([]universe.Enumeration, len(vs))
			for i, v := range vs {
				out[i] = v
			}
			return out, nil
		},
		Dependencies: deps,
	})
}

// ComponentOf declares component type *C allocated with new(C).
func ComponentOf[C any, PC interface {
	*C
	universe.Component
}](c *Catalog, deps ...reflect.Type) *Catalog {
	return c.Component(ComponentDescriptor{
		Type:         reflect.TypeFor[PC](),
		New:          func() universe.Component { return PC(new(C)) },
		Dependencies: deps,
	})
}

// ModelOf declares simple model type *M.
func ModelOf[M any, PM interface {
	*M
	universe.Model
}](c *Catalog, deps ...reflect.Type) *Catalog {
	return c.Model(ModelDescriptor{
		Type:         reflect.TypeFor[PM](),
		Dependencies: deps,
	})
}

// ArchetypeOf declares singleton archetype type *A allocated with new(A).
func ArchetypeOf[A any, PA interface {
	*A
	universe.Archetype
}](c *Catalog, deps ...reflect.Type) *Catalog {
	return c.Archetype(ArchetypeDescriptor{
		Type:         reflect.TypeFor[PA](),
		New:          func() universe.Archetype { return PA(new(A)) },
		Dependencies: deps,
	})
}

// Deps is shorthand for a dependency list.
func Deps(types ...reflect.Type) []reflect.Type { return types }
