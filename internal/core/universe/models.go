package universe

import (
	"fmt"
	"reflect"
	"sync"
)

// Models maps model types to the factory that builds them by default.
type Models struct {
	u         *Universe
	mu        sync.RWMutex
	factories map[reflect.Type]Factory
	order     []reflect.Type
}

func newModels(u *Universe) *Models {
	return &Models{
		u:         u,
		factories: make(map[reflect.Type]Factory),
	}
}

func (r *Models) Register(t reflect.Type, f Factory) error {
	if err := r.u.checkWritable(); err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("register model %s: %w", typeName(t), ErrNoFactory)
	}
	if f.Universe() != nil && f.Universe() != r.u {
		return fmt.Errorf("register model %s: %w", typeName(t), ErrForeignUniverse)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[t]; ok {
		return fmt.Errorf("register model %s: %w", typeName(t), ErrAlreadyRegistered)
	}
	r.factories[t] = f
	r.order = append(r.order, t)
	return nil
}

func (r *Models) Factory(t reflect.Type) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[t]
	return f, ok
}

func (r *Models) Has(t reflect.Type) bool {
	_, ok := r.Factory(t)
	return ok
}

// Types returns the registered model types in registration order.
func (r *Models) Types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]reflect.Type(nil), r.order...)
}

func (r *Models) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Make builds a model of type t with its registered factory.
func (r *Models) Make(t reflect.Type, params map[string]any) (Model, error) {
	f, ok := r.Factory(t)
	if !ok {
		return nil, fmt.Errorf("make model %s: %w", typeName(t), ErrNotRegistered)
	}
	return NewBuilder(f, params).Make()
}

func (r *Models) unregister(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, got := range r.factories {
		if got == f {
			delete(r.factories, t)
			r.order = removeItem(r.order, t)
		}
	}
}

// MakeModel builds a model of type M with its registered factory.
func MakeModel[M Model](u *Universe, params map[string]any) (M, error) {
	var zero M
	m, err := u.Models.Make(reflect.TypeFor[M](), params)
	if err != nil {
		return zero, err
	}
	typed, ok := m.(M)
	if !ok {
		return zero, fmt.Errorf("make model: built %T, want %s", m, typeName(reflect.TypeFor[M]()))
	}
	return typed, nil
}
