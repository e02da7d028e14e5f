package loader

import (
	"reflect"

	"github.com/zeusync/universe/internal/core/universe"
)

// Hook is a per-type registration hook. The loader runs the hooks of a type's
// bases and then its own, each at most once per run.
type Hook func(u *universe.Universe) error

// EnumDescriptor declares the values of one enumeration type.
type EnumDescriptor struct {
	Type         reflect.Type
	Values       func(u *universe.Universe) ([]universe.Enumeration, error)
	Dependencies []reflect.Type
}

// ContractDecl declares a transform between the described component and kind With.
type ContractDecl struct {
	With      universe.Kind
	Transform universe.Transform
}

type ComponentDescriptor struct {
	Type         reflect.Type
	New          func() universe.Component
	Dependencies []reflect.Type
	Contracts    []ContractDecl
	Defaults     map[string]any
	// Bases lists ancestor types whose hooks run first, outermost first.
	Bases []reflect.Type
}

// ModelDescriptor declares a model type. Models without an Archetype are simple
// models and get a default factory.
type ModelDescriptor struct {
	Type         reflect.Type
	New          func(b *universe.Builder) (universe.Model, error)
	Archetype    reflect.Type
	Dependencies []reflect.Type
}

func (d ModelDescriptor) simple() bool { return d.Archetype == nil }

type ArchetypeDescriptor struct {
	Type         reflect.Type
	New          func() universe.Archetype
	Dependencies []reflect.Type
	// DoNotAutoBuild skips the test build.
	DoNotAutoBuild bool
	// Splay generates one archetype per enumeration value instead of a singleton.
	Splay *Splay
	Bases []reflect.Type
}

// Splay describes an archetype built once per value of an enumeration type.
type Splay struct {
	Enum reflect.Type
	New  func(value universe.Enumeration) (universe.Archetype, error)
	// Lazy keeps generating for values registered after sealing, provided
	// runtime registrations are allowed.
	Lazy   bool
	Filter func(value universe.Enumeration) bool
}

// ModifierDescriptor patches registered archetypes after the test builds.
type ModifierDescriptor struct {
	Type   reflect.Type
	Modify func(u *universe.Universe) error
}
