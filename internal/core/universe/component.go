package universe

import (
	"fmt"
	"reflect"
	"sort"
)

// Component is a keyed, swappable unit attached to an Owner. At most one
// component per Kind can live on an owner.
type Component interface {
	Model
	Kind() Kind
}

// ComponentBase is embedded by component structs. It tracks the owning parent.
type ComponentBase struct {
	ModelBase
	parent Owner
}

// Parent returns the owner the component is attached to, or nil.
func (c *ComponentBase) Parent() Owner { return c.parent }

func (c *ComponentBase) setParent(o Owner) { c.parent = o }

type parentTracker interface {
	setParent(o Owner)
}

// Optional component hooks.
type (
	// AddedHook runs when the component is added to an owner. An error rolls the add back.
	AddedHook interface {
		OnAdded(owner Owner) error
	}
	// RemovedHook runs after the component left an owner through Remove.
	RemovedHook interface {
		OnRemoved(owner Owner)
	}
	// ParentFinalizer runs once the parent model finished its own finalize stage.
	// A non-nil result replaces the component in the parent's storage.
	ParentFinalizer interface {
		FinalizeAfterParent(parent Model, b *Builder) (Component, error)
	}
	// EqualityExcluder components returning false are ignored by owner equality.
	EqualityExcluder interface {
		IncludeInEqualityChecks() bool
	}
	// LinkedComponent lives on an archetype and builds its one-to-one counterpart on
	// every model the archetype makes.
	LinkedComponent interface {
		Component
		BuildLinked(b *Builder) (Component, error)
	}
)

// ComponentFactory builds components of one concrete type through the builder
// pipeline.
type ComponentFactory struct {
	universe *Universe
	kind     Kind
	typ      reflect.Type
	newFn    func() Component
	defaults map[string]any
}

func (f *ComponentFactory) Universe() *Universe { return f.universe }
func (f *ComponentFactory) Kind() Kind          { return f.kind }
func (f *ComponentFactory) Type() reflect.Type  { return f.typ }

func (f *ComponentFactory) NewModel(*Builder) (Model, error) {
	c := f.newFn()
	if c == nil {
		return nil, fmt.Errorf("%w: %s constructor returned nil", ErrNoModelConstructor, typeName(f.typ))
	}
	return c, nil
}

func (f *ComponentFactory) DefaultParams() map[string]any {
	return f.defaults
}

// SetDefault registers a fallback value for parameter key.
func (f *ComponentFactory) SetDefault(key string, value any) {
	if f.defaults == nil {
		f.defaults = make(map[string]any)
	}
	f.defaults[key] = value
}

// Make builds a detached component.
func (f *ComponentFactory) Make(params map[string]any) (Component, error) {
	return f.build(NewBuilder(f, params))
}

func (f *ComponentFactory) build(b *Builder) (Component, error) {
	m, err := b.Make()
	if err != nil {
		return nil, err
	}
	c, ok := m.(Component)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a component", ErrKindMismatch, m)
	}
	return c, nil
}

// Components is the registry of component factories, indexed by concrete type and kind.
type Components struct {
	u      *Universe
	byType map[reflect.Type]*ComponentFactory
	byKind map[Kind][]*ComponentFactory
	order  []*ComponentFactory
}

func newComponents(u *Universe) *Components {
	return &Components{
		u:      u,
		byType: make(map[reflect.Type]*ComponentFactory),
		byKind: make(map[Kind][]*ComponentFactory),
	}
}

// Register adds a factory for component type t. newFn allocates raw instances; its
// first result determines the kind key.
func (c *Components) Register(t reflect.Type, newFn func() Component) (*ComponentFactory, error) {
	if err := c.u.checkWritable(); err != nil {
		return nil, err
	}
	if newFn == nil {
		return nil, fmt.Errorf("register component %s: %w", typeName(t), ErrNoModelConstructor)
	}
	if _, ok := c.byType[t]; ok {
		return nil, fmt.Errorf("register component %s: %w", typeName(t), ErrAlreadyRegistered)
	}
	sample := newFn()
	if sample == nil {
		return nil, fmt.Errorf("register component %s: %w", typeName(t), ErrNoModelConstructor)
	}
	if got := reflect.TypeOf(sample); got != t {
		return nil, fmt.Errorf("register component %s: constructor returned %s", typeName(t), typeName(got))
	}

	f := &ComponentFactory{
		universe: c.u,
		kind:     sample.Kind(),
		typ:      t,
		newFn:    newFn,
	}
	c.byType[t] = f
	c.byKind[f.kind] = append(c.byKind[f.kind], f)
	c.order = append(c.order, f)
	return f, nil
}

// Factory returns the factory registered for concrete type t.
func (c *Components) Factory(t reflect.Type) (*ComponentFactory, bool) {
	f, ok := c.byType[t]
	return f, ok
}

// ForKind returns the first factory registered for kind k, which is the kind's base type.
func (c *Components) ForKind(k Kind) (*ComponentFactory, bool) {
	fs := c.byKind[k]
	if len(fs) == 0 {
		return nil, false
	}
	return fs[0], true
}

// Kinds returns all registered kinds, sorted.
func (c *Components) Kinds() []Kind {
	out := make([]Kind, 0, len(c.byKind))
	for k := range c.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns factories in registration order.
func (c *Components) All() []*ComponentFactory {
	return append([]*ComponentFactory(nil), c.order...)
}

func (c *Components) Len() int { return len(c.order) }

// Make builds a detached component of concrete type t.
func (c *Components) Make(t reflect.Type, params map[string]any) (Component, error) {
	f, ok := c.byType[t]
	if !ok {
		return nil, fmt.Errorf("make component %s: %w", typeName(t), ErrNotRegistered)
	}
	return f.Make(params)
}

// Unregister removes the factory for t. It is used to unwind a failed registration.
func (c *Components) Unregister(t reflect.Type) error {
	if err := c.u.checkWritable(); err != nil {
		return err
	}
	f, ok := c.byType[t]
	if !ok {
		return fmt.Errorf("unregister component %s: %w", typeName(t), ErrNotRegistered)
	}
	delete(c.byType, t)
	c.byKind[f.kind] = removeItem(c.byKind[f.kind], f)
	if len(c.byKind[f.kind]) == 0 {
		delete(c.byKind, f.kind)
	}
	c.order = removeItem(c.order, f)
	return nil
}

// FactoryFor returns the registered factory of component type C.
func FactoryFor[C Component](u *Universe) (*ComponentFactory, bool) {
	return u.Components.Factory(reflect.TypeFor[C]())
}

// MakeComponent builds a detached component of type C.
func MakeComponent[C Component](u *Universe, params map[string]any) (C, error) {
	var zero C
	c, err := u.Components.Make(reflect.TypeFor[C](), params)
	if err != nil {
		return zero, err
	}
	typed, ok := c.(C)
	if !ok {
		return zero, fmt.Errorf("%w: built %T", ErrKindMismatch, c)
	}
	return typed, nil
}

// ComponentOf returns the component of type C stored on owner, if present.
func ComponentOf[C Component](owner Owner) (C, bool) {
	var zero C
	s := owner.Components()
	if s == nil {
		return zero, false
	}
	for _, c := range s.All() {
		if typed, ok := c.(C); ok {
			return typed, true
		}
	}
	return zero, false
}

func removeItem[T comparable](items []T, item T) []T {
	for i, v := range items {
		if v == item {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}
