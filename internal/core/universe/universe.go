package universe

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/zeusync/universe/internal/core/events/bus"
	"github.com/zeusync/universe/internal/core/observability/log"
)

// LoaderState is the view a Universe keeps of the loader that fills it.
type LoaderState interface {
	IsFinished() bool
	Failures() []Failure
	InitializedTypes() []reflect.Type
}

// Universe is the root scope holding one consistent set of registries.
// Registries are mutable until the attached loader seals the universe.
type Universe struct {
	id   string
	name string
	log  log.Log

	Enumerations *Enumerations
	Archetypes   *Archetypes
	Models       *Models
	Components   *Components
	Contracts    *Contracts

	events   bus.EventBus
	examples *Examples

	// subject -> type -> declared dependencies; dropped on seal
	dependencies map[Subject]map[reflect.Type][]reflect.Type

	loader               LoaderState
	sealed               bool
	runtimeRegistrations bool
}

type Option func(*Universe)

func WithName(name string) Option {
	return func(u *Universe) {
		u.name = name
	}
}

func WithLogger(l log.Log) Option {
	return func(u *Universe) {
		if l != nil {
			u.log = l
		}
	}
}

func WithEventBus(b bus.EventBus) Option {
	return func(u *Universe) {
		if b != nil {
			u.events = b
		}
	}
}

// WithExampleExpiration sets how long cached example models live.
func WithExampleExpiration(d time.Duration) Option {
	return func(u *Universe) {
		u.examples = newExamples(d)
	}
}

// New creates an empty, unsealed Universe.
func New(opts ...Option) *Universe {
	u := &Universe{
		id:           uuid.NewString(),
		log:          log.NewNop(),
		events:       bus.New(),
		examples:     newExamples(DefaultExampleExpiration),
		dependencies: make(map[Subject]map[reflect.Type][]reflect.Type),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.name == "" {
		u.name = u.id
	}
	u.log = u.log.With(log.String("universe", u.name))

	u.Enumerations = newEnumerations(u)
	u.Archetypes = newArchetypes(u)
	u.Models = newModels(u)
	u.Components = newComponents(u)
	u.Contracts = newContracts(u)
	return u
}

func (u *Universe) ID() string          { return u.id }
func (u *Universe) Name() string        { return u.name }
func (u *Universe) Log() log.Log        { return u.log }
func (u *Universe) Events() bus.EventBus { return u.events }
func (u *Universe) Examples() *Examples  { return u.examples }

// Loader returns the attached loader, or nil.
func (u *Universe) Loader() LoaderState {
	return u.loader
}

// AttachLoader binds the loader that will fill this universe. Only one loader may
// ever target a universe.
func (u *Universe) AttachLoader(l LoaderState) error {
	if l == nil {
		return fmt.Errorf("attach loader: nil loader")
	}
	if u.loader != nil {
		return ErrLoaderAttached
	}
	u.loader = l
	return nil
}

// IsFinished reports whether the universe has been sealed.
func (u *Universe) IsFinished() bool {
	return u.sealed
}

// AllowsRuntimeRegistrations reports whether enumeration and lazily generated
// archetype registrations are accepted after sealing.
func (u *Universe) AllowsRuntimeRegistrations() bool {
	return u.runtimeRegistrations
}

// Seal marks the universe finished. Only the attached loader may seal it.
func (u *Universe) Seal(l LoaderState, allowRuntimeRegistrations bool) error {
	if u.loader == nil || u.loader != l {
		return fmt.Errorf("seal: %w", ErrNotRegistered)
	}
	if u.sealed {
		return ErrSealed
	}
	u.sealed = true
	u.runtimeRegistrations = allowRuntimeRegistrations
	u.dependencies = nil
	u.examples.Flush()
	if err := u.events.Publish(bus.NewEvent(EventSealed, u.id, u, nil)); err != nil {
		u.log.Warn("sealed event handler failed", log.Error(err))
	}
	return nil
}

// DeclareDependencies records that t requires deps before it can be constructed.
func (u *Universe) DeclareDependencies(subject Subject, t reflect.Type, deps ...reflect.Type) error {
	if u.sealed {
		return ErrSealed
	}
	bySubject, ok := u.dependencies[subject]
	if !ok {
		bySubject = make(map[reflect.Type][]reflect.Type)
		u.dependencies[subject] = bySubject
	}
	bySubject[t] = append(bySubject[t], deps...)
	return nil
}

// Dependencies returns the declared dependencies of t. It is empty after sealing.
func (u *Universe) Dependencies(subject Subject, t reflect.Type) []reflect.Type {
	return append([]reflect.Type(nil), u.dependencies[subject][t]...)
}

// Example returns a model built by a, reusing a cached instance when one exists.
func (u *Universe) Example(a Archetype) (Model, error) {
	if a == nil || a.Id() == nil {
		return nil, fmt.Errorf("example: %w", ErrNotRegistered)
	}
	key := a.Id().Key()
	if m, ok := u.examples.Get(key); ok {
		return m, nil
	}
	m, err := NewBuilder(a, TestParams(a)).Make()
	if err != nil {
		return nil, fmt.Errorf("example %s: %w", key, err)
	}
	u.examples.Set(key, m)
	return m, nil
}

func (u *Universe) checkWritable() error {
	if u.sealed {
		return ErrSealed
	}
	return nil
}

func (u *Universe) publish(eventType string, data any) {
	if err := u.events.Publish(bus.NewEvent(eventType, u.id, data, nil)); err != nil {
		u.log.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
