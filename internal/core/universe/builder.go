package universe

import (
	"fmt"
	"maps"
	"reflect"

	"github.com/google/uuid"
)

// Builder is a short-lived parameter bag bound to a factory. Make runs the
// construct, initialize, configure and finalize stages.
type Builder struct {
	universe *Universe
	factory  Factory
	parent   Owner
	params   map[string]any
	defaults map[string]any
}

// NewBuilder creates a builder for f. params is copied.
func NewBuilder(f Factory, params map[string]any) *Builder {
	b := &Builder{
		factory: f,
		params:  make(map[string]any, len(params)),
	}
	maps.Copy(b.params, params)
	if f != nil {
		b.universe = f.Universe()
		b.defaults = defaultsOf(f)
	}
	return b
}

// Child returns a builder for f that shares this builder's parameter map. It is
// used to build the components of a model.
func (b *Builder) Child(f Factory, parent Owner) *Builder {
	c := &Builder{
		universe: b.universe,
		factory:  f,
		parent:   parent,
		params:   b.params,
	}
	if f != nil {
		c.defaults = defaultsOf(f)
	}
	return c
}

func defaultsOf(f Factory) map[string]any {
	if d, ok := f.(DefaultsProvider); ok {
		return d.DefaultParams()
	}
	return nil
}

func (b *Builder) Universe() *Universe { return b.universe }
func (b *Builder) Factory() Factory    { return b.factory }

// Parent returns the owner a component builder builds for, or nil.
func (b *Builder) Parent() Owner { return b.parent }

// Archetype returns the builder's factory when it is an archetype.
func (b *Builder) Archetype() (Archetype, bool) {
	a, ok := b.factory.(Archetype)
	return a, ok
}

func (b *Builder) Set(key string, value any) *Builder {
	b.params[key] = value
	return b
}

// Get returns the parameter or, failing that, the factory default.
func (b *Builder) Get(key string) (any, bool) {
	if v, ok := b.params[key]; ok {
		return v, true
	}
	v, ok := b.defaults[key]
	return v, ok
}

func (b *Builder) Has(key string) bool {
	_, ok := b.Get(key)
	return ok
}

// Params returns a copy of the explicit parameters.
func (b *Builder) Params() map[string]any {
	return maps.Clone(b.params)
}

// Required returns parameter key as T. It fails with ErrMissingParameter when
// neither a value nor a default exists and with ErrParameterMismatch on a type clash.
func Required[T any](b *Builder, key string) (T, error) {
	var zero T
	v, ok := b.Get(key)
	if !ok {
		return zero, &ParameterError{Param: key, Want: reflect.TypeFor[T](), Err: ErrMissingParameter}
	}
	return convertParam[T](key, v)
}

// Optional returns parameter key as T, or the zero value when it is absent.
func Optional[T any](b *Builder, key string) (T, error) {
	var zero T
	v, ok := b.Get(key)
	if !ok {
		return zero, nil
	}
	return convertParam[T](key, v)
}

// Param returns parameter key as T, or fallback when it is absent or mismatched.
func Param[T any](b *Builder, key string, fallback T) T {
	v, ok := b.Get(key)
	if !ok {
		return fallback
	}
	t, err := convertParam[T](key, v)
	if err != nil {
		return fallback
	}
	return t
}

func convertParam[T any](key string, v any) (T, error) {
	var zero T
	want := reflect.TypeFor[T]()
	if v == nil {
		if nillable(want.Kind()) {
			return zero, nil
		}
		return zero, &ParameterError{Param: key, Want: want, Err: ErrParameterMismatch}
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	rv := reflect.ValueOf(v)
	if isNumeric(rv.Kind()) && isNumeric(want.Kind()) && rv.CanConvert(want) {
		return rv.Convert(want).Interface().(T), nil
	}
	return zero, &ParameterError{Param: key, Want: want, Got: rv.Type(), Err: ErrParameterMismatch}
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// InitialComponent is one component an archetype puts on every model it makes.
type InitialComponent struct {
	Kind Kind
	// Type builds through the registered component factory.
	Type reflect.Type
	// New builds with an explicit constructor.
	New func(b *Builder) (Component, error)
	// Linked builds the counterpart of an archetype-side component.
	Linked LinkedComponent
}

type initialProvider interface {
	InitialComponents() []InitialComponent
}

// Make runs the pipeline and returns the finished model.
func (b *Builder) Make() (Model, error) {
	if b.factory == nil {
		return nil, ErrNoFactory
	}
	if b.universe == nil {
		return nil, fmt.Errorf("make: factory %T: %w", b.factory, ErrNotRegistered)
	}

	m, err := b.construct()
	if err != nil {
		return nil, err
	}
	if err := b.initialize(m); err != nil {
		return nil, err
	}
	if m, err = b.configure(m); err != nil {
		return nil, err
	}
	return b.finalize(m)
}

func (b *Builder) construct() (Model, error) {
	m, err := b.factory.NewModel(b)
	if err != nil {
		return nil, fmt.Errorf("construct: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("construct %T: %w", b.factory, ErrNoModelConstructor)
	}
	return m, nil
}

func (b *Builder) initialize(m Model) error {
	if binder, ok := m.(modelBinder); ok {
		binder.bindModel(b.universe, b.factory)
	}
	if owner, ok := m.(Owner); ok {
		if sa, ok := m.(storageAttacher); ok {
			sa.attachStorage(owner)
		}
	}
	if um, ok := m.(UniqueModel); ok && um.ID() == "" {
		um.SetID(uuid.NewString())
	}
	if hook, ok := m.(Initializer); ok {
		if err := hook.OnInitialized(b); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	if hook, ok := b.factory.(ModelInitializedHook); ok {
		if err := hook.OnModelInitialized(b, m); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	return nil
}

func (b *Builder) configure(m Model) (Model, error) {
	if hook, ok := b.factory.(ModelConfigurer); ok {
		next, err := hook.ConfigureModel(b, m)
		if err != nil {
			return nil, fmt.Errorf("configure: %w", err)
		}
		if next != nil {
			m = next
		}
	}

	owner, ok := m.(Owner)
	if !ok || owner.Components() == nil {
		return m, nil
	}
	provider, ok := b.factory.(initialProvider)
	if !ok {
		return m, nil
	}
	for _, ic := range provider.InitialComponents() {
		c, err := b.buildInitial(ic, owner)
		if err != nil {
			return nil, fmt.Errorf("configure: component %s: %w", ic.Kind, err)
		}
		if c == nil {
			continue
		}
		if err := owner.Components().Add(c); err != nil {
			return nil, fmt.Errorf("configure: %w", err)
		}
	}
	return m, nil
}

func (b *Builder) buildInitial(ic InitialComponent, owner Owner) (Component, error) {
	switch {
	case ic.New != nil:
		return ic.New(b.Child(b.factory, owner))
	case ic.Linked != nil:
		return ic.Linked.BuildLinked(b.Child(b.factory, owner))
	case ic.Type != nil:
		f, ok := b.universe.Components.Factory(ic.Type)
		if !ok {
			return nil, fmt.Errorf("%s: %w", typeName(ic.Type), ErrNotRegistered)
		}
		return f.build(b.Child(f, owner))
	default:
		return nil, nil
	}
}

func (b *Builder) finalize(m Model) (Model, error) {
	if hook, ok := m.(Finalizer); ok {
		if err := hook.OnFinalized(b); err != nil {
			return nil, fmt.Errorf("finalize: %w", err)
		}
	}
	if hook, ok := b.factory.(ModelFinalizer); ok {
		next, err := hook.FinalizeModel(b, m)
		if err != nil {
			return nil, fmt.Errorf("finalize: %w", err)
		}
		if next != nil {
			m = next
		}
	}

	if owner, ok := m.(Owner); ok && owner.Components() != nil {
		s := owner.Components()
		for _, c := range s.All() {
			pf, ok := c.(ParentFinalizer)
			if !ok {
				continue
			}
			next, err := pf.FinalizeAfterParent(m, b.Child(c.Factory(), owner))
			if err != nil {
				return nil, fmt.Errorf("finalize: component %s: %w", c.Kind(), err)
			}
			if next != nil && next != c {
				if _, err := s.Update(next); err != nil {
					return nil, fmt.Errorf("finalize: %w", err)
				}
			}
		}
	}

	if hook, ok := b.factory.(ModelFinalizedHook); ok {
		if err := hook.OnModelFinalized(b, m); err != nil {
			return nil, fmt.Errorf("finalize: %w", err)
		}
	}
	return m, nil
}
