package universe

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/zeusync/universe/pkg/sequence"
)

// Archetypes is the identity registry: one singleton per archetype type plus the
// splayed variants, indexed by identity key. The indexes are locked because
// lazy variants may be generated after sealing.
type Archetypes struct {
	u        *Universe
	mu       sync.RWMutex
	byType   map[reflect.Type]Archetype
	byKey    map[string]Archetype
	variants map[reflect.Type][]Archetype
	order    []Archetype
}

func newArchetypes(u *Universe) *Archetypes {
	return &Archetypes{
		u:        u,
		byType:   make(map[reflect.Type]Archetype),
		byKey:    make(map[string]Archetype),
		variants: make(map[reflect.Type][]Archetype),
	}
}

// KeyOf returns the identity key a would be registered under.
func KeyOf(a Archetype) string {
	if k, ok := a.(Keyed); ok {
		if key := k.ArchetypeKey(); key != "" {
			return key
		}
	}
	return KeyFor(reflect.TypeOf(a))
}

// Register adds the singleton archetype of a's concrete type.
func (r *Archetypes) Register(a Archetype) error {
	if a == nil {
		return fmt.Errorf("register archetype: nil")
	}
	t := reflect.TypeOf(a)
	if _, ok := r.Get(t); ok {
		return fmt.Errorf("register archetype %s: %w", typeName(t), ErrAlreadyRegistered)
	}
	if err := r.register(a, KeyOf(a), nil); err != nil {
		return err
	}
	r.mu.Lock()
	r.byType[t] = a
	r.mu.Unlock()
	return nil
}

// RegisterVariant adds one of several archetypes sharing a concrete type, such as
// the splayed archetypes generated per enumeration value.
func (r *Archetypes) RegisterVariant(a Archetype, key string, origin Enumeration) error {
	if a == nil {
		return fmt.Errorf("register archetype variant %q: nil", key)
	}
	if err := r.register(a, key, origin); err != nil {
		return err
	}
	t := reflect.TypeOf(a)
	r.mu.Lock()
	r.variants[t] = append(r.variants[t], a)
	r.mu.Unlock()
	return nil
}

func (r *Archetypes) register(a Archetype, key string, origin Enumeration) error {
	t := reflect.TypeOf(a)
	b := a.base()
	if r.u.sealed && !(r.u.runtimeRegistrations && b.AllowInitializationAfterSeal) {
		return fmt.Errorf("register archetype %s: %w", typeName(t), ErrSealed)
	}
	if key == "" {
		return fmt.Errorf("register archetype %s: empty key", typeName(t))
	}
	if _, ok := r.ByKey(key); ok {
		return fmt.Errorf("register archetype %s %q: %w", typeName(t), key, ErrAlreadyRegistered)
	}
	if b.universe != nil && b.universe != r.u {
		return fmt.Errorf("register archetype %s: %w", typeName(t), ErrForeignUniverse)
	}
	if b.id != nil {
		return fmt.Errorf("register archetype %s: %w as %q", typeName(t), ErrAlreadyRegistered, b.id.Key())
	}

	b.bind(r.u, a)
	b.origin = origin
	if init, ok := a.(ArchetypeInitializer); ok {
		if err := init.Initialize(r.u); err != nil {
			b.unbind()
			return err
		}
	}

	// the identity key is unique, so of two racing registrations only one gets past here
	id := &Identity{Enum: NewEnum(key), archetype: a}
	if err := r.u.Enumerations.Register(id); err != nil {
		b.unbind()
		return fmt.Errorf("register archetype %s: identity: %w", typeName(t), err)
	}
	b.id = id

	r.mu.Lock()
	r.byKey[key] = a
	r.order = append(r.order, a)
	r.mu.Unlock()
	r.u.publish(EventArchetypeRegistered, a)
	return nil
}

// Get returns the singleton archetype of concrete type t.
func (r *Archetypes) Get(t reflect.Type) (Archetype, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byType[t]
	return a, ok
}

// ByKey returns the archetype registered under identity key.
func (r *Archetypes) ByKey(key string) (Archetype, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byKey[key]
	return a, ok
}

// ByTag returns the archetypes carrying tag, in registration order.
func (r *Archetypes) ByTag(tag string) []Archetype {
	return r.Snapshot().Filter(func(a Archetype) bool { return a.base().HasTag(tag) }).Collect()
}

// ForModel returns the archetypes producing model type t, in registration order.
func (r *Archetypes) ForModel(t reflect.Type) []Archetype {
	return r.Snapshot().Filter(func(a Archetype) bool { return a.ModelType() == t }).Collect()
}

// Variants returns the non-singleton archetypes of concrete type t.
func (r *Archetypes) Variants(t reflect.Type) []Archetype {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Archetype(nil), r.variants[t]...)
}

// All returns every archetype in registration order.
func (r *Archetypes) All() []Archetype {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Archetype(nil), r.order...)
}

// Snapshot iterates the archetypes registered at the time of the call, in
// registration order. Later registrations do not show up in it.
func (r *Archetypes) Snapshot() *sequence.Iterator[Archetype] {
	return sequence.From(r.All())
}

func (r *Archetypes) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Contains reports whether a is the archetype registered under its key.
func (r *Archetypes) Contains(a Archetype) bool {
	if a == nil || a.Id() == nil {
		return false
	}
	got, ok := r.ByKey(a.Id().Key())
	return ok && got == a
}

// Unload removes a from every index. After sealing this requires
// AllowDeInitializationAfterSeal.
func (r *Archetypes) Unload(a Archetype) error {
	if !r.Contains(a) {
		return fmt.Errorf("unload archetype %T: %w", a, ErrNotRegistered)
	}
	b := a.base()
	if r.u.sealed && !b.AllowDeInitializationAfterSeal {
		return fmt.Errorf("unload archetype %s: %w", b.Key(), ErrDeinitializationNotAllowed)
	}

	key := b.Key()
	t := reflect.TypeOf(a)
	r.mu.Lock()
	delete(r.byKey, key)
	if r.byType[t] == a {
		delete(r.byType, t)
	}
	r.variants[t] = removeItem(r.variants[t], a)
	if len(r.variants[t]) == 0 {
		delete(r.variants, t)
	}
	r.order = removeItem(r.order, a)
	r.mu.Unlock()

	r.u.Models.unregister(a)
	r.u.Enumerations.remove(b.id)
	r.u.examples.Delete(key)
	r.u.publish(EventArchetypeUnloaded, a)
	b.unbind()
	return nil
}
