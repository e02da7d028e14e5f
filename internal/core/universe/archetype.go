package universe

import (
	"fmt"
	"reflect"
	"slices"
)

// Archetype is the singleton factory and descriptor of one family of models.
// Concrete archetypes embed ArchetypeBase.
type Archetype interface {
	Factory
	Id() *Identity
	ModelType() reflect.Type
	Components() *Storage
	base() *ArchetypeBase
}

// Optional archetype hooks.
type (
	// Keyed archetypes choose their own identity key instead of the type name.
	Keyed interface {
		ArchetypeKey() string
	}
	// ArchetypeInitializer runs once during registration, after the archetype is
	// bound to its universe and before it is indexed.
	ArchetypeInitializer interface {
		Initialize(u *Universe) error
	}
	// Finisher runs in the loader's finish pass.
	Finisher interface {
		Finish() error
	}
)

type ArchetypeBase struct {
	id         *Identity
	universe   *Universe
	self       Archetype
	modelType  reflect.Type
	newModel   func(b *Builder) (Model, error)
	components *Storage
	initial    []InitialComponent
	defaults   map[string]any
	tags       []string
	origin     Enumeration

	AllowInitializationAfterSeal   bool
	AllowDeInitializationAfterSeal bool
}

func (a *ArchetypeBase) base() *ArchetypeBase { return a }

// BaseOf returns the embedded base of a.
func BaseOf(a Archetype) *ArchetypeBase { return a.base() }

func (a *ArchetypeBase) Universe() *Universe  { return a.universe }
func (a *ArchetypeBase) Id() *Identity        { return a.id }
func (a *ArchetypeBase) Components() *Storage { return a.components }

// Key returns the identity key, or "" before registration.
func (a *ArchetypeBase) Key() string {
	if a.id == nil {
		return ""
	}
	return a.id.Key()
}

func (a *ArchetypeBase) ModelType() reflect.Type { return a.modelType }

// SetModelType sets the pointer-to-struct type the default constructor allocates.
func (a *ArchetypeBase) SetModelType(t reflect.Type) {
	a.modelType = t
}

// SetModelConstructor overrides raw model allocation.
func (a *ArchetypeBase) SetModelConstructor(fn func(b *Builder) (Model, error)) {
	a.newModel = fn
}

// Origin returns the enumeration value a splayed archetype was generated for.
func (a *ArchetypeBase) Origin() Enumeration { return a.origin }

func (a *ArchetypeBase) NewModel(b *Builder) (Model, error) {
	if a.newModel != nil {
		return a.newModel(b)
	}
	if m, ok := newRaw(a.modelType); ok {
		return m, nil
	}
	return nil, Fatal(SubjectArchetype, a.selfType(), fmt.Errorf("%w for model type %s", ErrNoModelConstructor, typeName(a.modelType)))
}

func (a *ArchetypeBase) selfType() reflect.Type {
	if a.self == nil {
		return nil
	}
	return reflect.TypeOf(a.self)
}

// AddInitialComponent puts a component of registered type t on every model.
func (a *ArchetypeBase) AddInitialComponent(t reflect.Type) error {
	if a.universe == nil {
		return fmt.Errorf("initial component %s: archetype %w", typeName(t), ErrNotRegistered)
	}
	f, ok := a.universe.Components.Factory(t)
	if !ok {
		return fmt.Errorf("initial component %s: %w", typeName(t), ErrNotRegistered)
	}
	return a.addInitial(InitialComponent{Kind: f.Kind(), Type: t})
}

// AddInitialComponentFunc puts the result of fn on every model under kind k.
func (a *ArchetypeBase) AddInitialComponentFunc(k Kind, fn func(b *Builder) (Component, error)) error {
	if fn == nil {
		return fmt.Errorf("initial component %s: nil constructor", k)
	}
	return a.addInitial(InitialComponent{Kind: k, New: fn})
}

// LinkComponent stores lc on the archetype and builds its counterpart on every model.
func (a *ArchetypeBase) LinkComponent(lc LinkedComponent) error {
	if a.components == nil {
		return fmt.Errorf("link component %s: archetype %w", lc.Kind(), ErrNotRegistered)
	}
	if a.hasInitial(lc.Kind()) {
		return fmt.Errorf("link component %s: %w", lc.Kind(), ErrComponentExists)
	}
	if err := a.components.Add(lc); err != nil {
		return fmt.Errorf("link component: %w", err)
	}
	a.initial = append(a.initial, InitialComponent{Kind: lc.Kind(), Linked: lc})
	return nil
}

// RemoveInitialComponent drops the initial component of kind k, unlinking the
// archetype-side component when there is one.
func (a *ArchetypeBase) RemoveInitialComponent(k Kind) bool {
	i := slices.IndexFunc(a.initial, func(ic InitialComponent) bool { return ic.Kind == k })
	if i < 0 {
		return false
	}
	if a.initial[i].Linked != nil && a.components != nil {
		a.components.Remove(k)
	}
	a.initial = slices.Delete(a.initial, i, i+1)
	return true
}

func (a *ArchetypeBase) addInitial(ic InitialComponent) error {
	if a.hasInitial(ic.Kind) {
		return fmt.Errorf("initial component %s: %w", ic.Kind, ErrComponentExists)
	}
	a.initial = append(a.initial, ic)
	return nil
}

func (a *ArchetypeBase) hasInitial(k Kind) bool {
	return slices.ContainsFunc(a.initial, func(ic InitialComponent) bool { return ic.Kind == k })
}

func (a *ArchetypeBase) InitialComponents() []InitialComponent {
	return slices.Clone(a.initial)
}

func (a *ArchetypeBase) SetDefault(key string, value any) {
	if a.defaults == nil {
		a.defaults = make(map[string]any)
	}
	a.defaults[key] = value
}

func (a *ArchetypeBase) DefaultParams() map[string]any { return a.defaults }

func (a *ArchetypeBase) Tag(tags ...string) {
	for _, t := range tags {
		if !slices.Contains(a.tags, t) {
			a.tags = append(a.tags, t)
		}
	}
}

func (a *ArchetypeBase) Tags() []string { return slices.Clone(a.tags) }

func (a *ArchetypeBase) HasTag(tag string) bool { return slices.Contains(a.tags, tag) }

// Builder returns a builder for this archetype's models.
func (a *ArchetypeBase) Builder(params map[string]any) *Builder {
	return NewBuilder(a.self, params)
}

// Make builds one model.
func (a *ArchetypeBase) Make(params map[string]any) (Model, error) {
	if a.self == nil {
		return nil, fmt.Errorf("make: archetype %w", ErrNotRegistered)
	}
	return a.Builder(params).Make()
}

func (a *ArchetypeBase) bind(u *Universe, self Archetype) {
	a.universe = u
	a.self = self
	if a.components == nil {
		a.components = NewStorage(self)
	}
}

func (a *ArchetypeBase) unbind() {
	a.universe = nil
	a.self = nil
	a.components = nil
	a.id = nil
}

// Make builds a model through a and asserts it to M.
func Make[M Model](a Archetype, params map[string]any) (M, error) {
	var zero M
	m, err := NewBuilder(a, params).Make()
	if err != nil {
		return zero, err
	}
	typed, ok := m.(M)
	if !ok {
		return zero, fmt.Errorf("make: built %T, want %s", m, typeName(reflect.TypeFor[M]()))
	}
	return typed, nil
}

// ArchetypeOf returns the singleton archetype of type A.
func ArchetypeOf[A Archetype](u *Universe) (A, bool) {
	var zero A
	a, ok := u.Archetypes.Get(reflect.TypeFor[A]())
	if !ok {
		return zero, false
	}
	return a.(A), true
}

// DefaultFactory builds models that declare no archetype of their own.
type DefaultFactory struct {
	ArchetypeBase
}

// NewDefaultFactory returns an unregistered factory for model type t bound to u.
func NewDefaultFactory(u *Universe, t reflect.Type, newFn func(b *Builder) (Model, error)) *DefaultFactory {
	f := &DefaultFactory{}
	f.universe = u
	f.self = f
	f.modelType = t
	f.newModel = newFn
	return f
}
