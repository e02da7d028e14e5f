package universe

import (
	"reflect"
)

// Model is an instance produced by a Factory's builder pipeline.
type Model interface {
	Universe() *Universe
	Factory() Factory
}

// Factory constructs raw models for the builder pipeline. Archetypes and
// component factories are both factories.
type Factory interface {
	Universe() *Universe
	NewModel(b *Builder) (Model, error)
}

// Owner is anything holding component storage: archetypes and models that embed
// ModelWithComponents.
type Owner interface {
	Universe() *Universe
	Components() *Storage
}

// ModelBase is embedded by every model struct.
type ModelBase struct {
	universe *Universe
	factory  Factory
}

func (m *ModelBase) Universe() *Universe { return m.universe }
func (m *ModelBase) Factory() Factory    { return m.factory }

func (m *ModelBase) bindModel(u *Universe, f Factory) {
	m.universe = u
	if f != nil {
		m.factory = f
	}
}

// ModelWithComponents is embedded by models that carry component storage.
type ModelWithComponents struct {
	ModelBase
	components *Storage
}

// Components returns the model's storage; nil until the model went through a builder
// or was attached with AttachStorage.
func (m *ModelWithComponents) Components() *Storage { return m.components }

func (m *ModelWithComponents) attachStorage(owner Owner) {
	if m.components == nil {
		m.components = NewStorage(owner)
	}
}

// AttachStorage gives a hand-built owner its storage.
func AttachStorage(owner Owner) *Storage {
	if a, ok := owner.(storageAttacher); ok {
		a.attachStorage(owner)
	}
	return owner.Components()
}

// Unique is embedded by models that want a generated unique id.
type Unique struct {
	id string
}

func (u *Unique) ID() string       { return u.id }
func (u *Unique) SetID(id string)  { u.id = id }

type (
	modelBinder interface {
		bindModel(u *Universe, f Factory)
	}
	storageAttacher interface {
		attachStorage(owner Owner)
	}
)

// Optional model hooks, checked by the builder pipeline.
type (
	// UniqueModel models receive a UUID during initialization unless they already have an id.
	UniqueModel interface {
		ID() string
		SetID(id string)
	}
	// Initializer runs right after the model is constructed and bound.
	Initializer interface {
		OnInitialized(b *Builder) error
	}
	// Finalizer runs first in the finalize stage.
	Finalizer interface {
		OnFinalized(b *Builder) error
	}
)

// Optional factory hooks, checked by the builder pipeline.
type (
	ModelInitializedHook interface {
		OnModelInitialized(b *Builder, m Model) error
	}
	ModelConfigurer interface {
		ConfigureModel(b *Builder, m Model) (Model, error)
	}
	ModelFinalizer interface {
		FinalizeModel(b *Builder, m Model) (Model, error)
	}
	ModelFinalizedHook interface {
		OnModelFinalized(b *Builder, m Model) error
	}
	// DefaultsProvider supplies fallback parameter values for builders.
	DefaultsProvider interface {
		DefaultParams() map[string]any
	}
	// TestParamsProvider supplies the parameters used for test builds and examples.
	TestParamsProvider interface {
		TestParams() map[string]any
	}
)

// ModelOf returns the reflect.Type of model type M.
func ModelOf[M Model]() reflect.Type {
	return reflect.TypeFor[M]()
}

// TestParams returns the parameters used to build an example of f's models.
func TestParams(f Factory) map[string]any {
	if p, ok := f.(TestParamsProvider); ok {
		return p.TestParams()
	}
	return nil
}

// newRaw allocates a zero value of a pointer-to-struct model type.
func newRaw(t reflect.Type) (Model, bool) {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	m, ok := reflect.New(t.Elem()).Interface().(Model)
	return m, ok
}
