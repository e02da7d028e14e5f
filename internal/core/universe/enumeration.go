package universe

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Enumeration is a keyed value of an open enumeration type. Concrete types embed Enum.
type Enumeration interface {
	Key() string
	Universe() *Universe
	enumBase() *Enum
}

// Enum is embedded by enumeration value types.
type Enum struct {
	key      string
	universe *Universe
	order    int
}

func NewEnum(key string) Enum {
	return Enum{key: key}
}

func (e *Enum) Key() string         { return e.key }
func (e *Enum) Universe() *Universe { return e.universe }

// Order is the registration index of the value within its type.
func (e *Enum) Order() int { return e.order }

func (e *Enum) String() string { return e.key }

func (e *Enum) enumBase() *Enum { return e }

// Identity is the permanent key of one registered archetype. Identities are
// enumeration values of type *Identity.
type Identity struct {
	Enum
	archetype Archetype
}

func (i *Identity) Archetype() Archetype { return i.archetype }

var identityType = reflect.TypeFor[*Identity]()

type enumSet struct {
	values []Enumeration
	byKey  map[string]Enumeration
}

// Enumerations indexes enumeration values by type and key. Runtime registrations
// after sealing may come from any goroutine.
type Enumerations struct {
	u      *Universe
	mu     sync.RWMutex
	byType map[reflect.Type]*enumSet
}

func newEnumerations(u *Universe) *Enumerations {
	return &Enumerations{
		u:      u,
		byType: make(map[reflect.Type]*enumSet),
	}
}

// Register adds e under its concrete type. After sealing it only succeeds when
// runtime registrations are allowed.
func (r *Enumerations) Register(e Enumeration) error {
	if e == nil {
		return fmt.Errorf("register enumeration: nil value")
	}
	t := reflect.TypeOf(e)
	if r.u.sealed && !r.u.runtimeRegistrations {
		return fmt.Errorf("register enumeration %s: %w", typeName(t), ErrSealed)
	}
	base := e.enumBase()
	if base.key == "" {
		return fmt.Errorf("register enumeration %s: empty key", typeName(t))
	}
	if base.universe != nil && base.universe != r.u {
		return fmt.Errorf("register enumeration %s %q: %w", typeName(t), base.key, ErrForeignUniverse)
	}

	r.mu.Lock()
	set, ok := r.byType[t]
	if !ok {
		set = &enumSet{byKey: make(map[string]Enumeration)}
		r.byType[t] = set
	}
	if _, ok := set.byKey[base.key]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register enumeration %s %q: %w", typeName(t), base.key, ErrAlreadyRegistered)
	}
	base.universe = r.u
	base.order = len(set.values)
	set.values = append(set.values, e)
	set.byKey[base.key] = e
	r.mu.Unlock()

	// handlers may register further values
	r.u.publish(EventEnumerationRegistered, e)
	return nil
}

func (r *Enumerations) Get(t reflect.Type, key string) (Enumeration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byType[t]
	if !ok {
		return nil, false
	}
	e, ok := set.byKey[key]
	return e, ok
}

// Values returns the values of type t in registration order.
func (r *Enumerations) Values(t reflect.Type) []Enumeration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byType[t]
	if !ok {
		return nil
	}
	return append([]Enumeration(nil), set.values...)
}

// Types returns every enumeration type with at least one value, sorted by name.
func (r *Enumerations) Types() []reflect.Type {
	r.mu.RLock()
	out := make([]reflect.Type, 0, len(r.byType))
	for t, set := range r.byType {
		if len(set.values) > 0 {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Identity returns the identity registered under key.
func (r *Enumerations) Identity(key string) (*Identity, bool) {
	e, ok := r.Get(identityType, key)
	if !ok {
		return nil, false
	}
	return e.(*Identity), true
}

func (r *Enumerations) remove(e Enumeration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := reflect.TypeOf(e)
	set, ok := r.byType[t]
	if !ok {
		return
	}
	delete(set.byKey, e.Key())
	set.values = removeItem(set.values, e)
}

// EnumValues returns the registered values of enumeration type E.
func EnumValues[E Enumeration](u *Universe) []E {
	values := u.Enumerations.Values(reflect.TypeFor[E]())
	out := make([]E, 0, len(values))
	for _, v := range values {
		out = append(out, v.(E))
	}
	return out
}

// EnumByKey returns the value of enumeration type E registered under key.
func EnumByKey[E Enumeration](u *Universe, key string) (E, bool) {
	var zero E
	v, ok := u.Enumerations.Get(reflect.TypeFor[E](), key)
	if !ok {
		return zero, false
	}
	return v.(E), true
}
