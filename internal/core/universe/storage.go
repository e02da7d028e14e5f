package universe

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Storage is the component map of one owner, one component per Kind.
//
// Storage is not safe for concurrent use; a single goroutine manipulates an
// owner's components at a time.
type Storage struct {
	owner Owner
	items map[Kind]Component
	order []Kind
	// partner kind -> kinds present on this owner waiting for it to arrive
	waiting map[Kind][]Kind
}

func NewStorage(owner Owner) *Storage {
	return &Storage{
		owner:   owner,
		items:   make(map[Kind]Component),
		waiting: make(map[Kind][]Kind),
	}
}

func (s *Storage) Owner() Owner { return s.owner }

// Get returns the component stored under k.
func (s *Storage) Get(k Kind) (Component, error) {
	c, ok := s.items[k]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", k, ErrComponentNotFound)
	}
	return c, nil
}

func (s *Storage) TryGet(k Kind) (Component, bool) {
	c, ok := s.items[k]
	return c, ok
}

func (s *Storage) Has(k Kind) bool {
	_, ok := s.items[k]
	return ok
}

// HasType reports whether a component of exactly type t is stored.
func (s *Storage) HasType(t reflect.Type) bool {
	_, ok := s.GetType(t)
	return ok
}

// GetType returns the stored component whose concrete type is t.
func (s *Storage) GetType(t reflect.Type) (Component, bool) {
	for _, k := range s.order {
		if c := s.items[k]; reflect.TypeOf(c) == t {
			return c, true
		}
	}
	return nil, false
}

// HasLike reports whether a component of the exemplar's kind is stored.
func (s *Storage) HasLike(exemplar Component) bool {
	if exemplar == nil {
		return false
	}
	return s.Has(exemplar.Kind())
}

// Add attaches c under its kind. The kind must be free. On success pending
// contracts involving c have fired; on failure the storage is unchanged.
func (s *Storage) Add(c Component) error {
	if c == nil {
		return fmt.Errorf("add: nil component")
	}
	k := c.Kind()
	if _, ok := s.items[k]; ok {
		return fmt.Errorf("add %s: %w", k, ErrComponentExists)
	}

	snap := s.snapshot()
	s.attach(c)
	s.items[k] = c
	s.order = append(s.order, k)

	if hook, ok := c.(AddedHook); ok {
		if err := hook.OnAdded(s.owner); err != nil {
			s.restore(snap)
			return fmt.Errorf("add %s: on added: %w", k, err)
		}
	}
	if err := s.resolveContracts(k); err != nil {
		s.restore(snap)
		return fmt.Errorf("add %s: %w", k, err)
	}
	return nil
}

// Update replaces the component stored under c's kind and returns the old one.
// Contracts do not fire again on update.
func (s *Storage) Update(c Component) (Component, error) {
	if c == nil {
		return nil, fmt.Errorf("update: nil component")
	}
	k := c.Kind()
	old, ok := s.items[k]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", k, ErrComponentNotFound)
	}
	if old == c {
		return old, nil
	}

	s.attach(c)
	s.items[k] = c
	if hook, ok := c.(AddedHook); ok {
		if err := hook.OnAdded(s.owner); err != nil {
			s.detach(c)
			s.items[k] = old
			return nil, fmt.Errorf("update %s: on added: %w", k, err)
		}
	}
	s.detach(old)
	return old, nil
}

// AddOrUpdate adds c, or replaces the component of the same kind.
func (s *Storage) AddOrUpdate(c Component) error {
	if c == nil {
		return fmt.Errorf("add or update: nil component")
	}
	if s.Has(c.Kind()) {
		_, err := s.Update(c)
		return err
	}
	return s.Add(c)
}

// Remove detaches and returns the component stored under k.
func (s *Storage) Remove(k Kind) (Component, bool) {
	c, ok := s.items[k]
	if !ok {
		return nil, false
	}
	delete(s.items, k)
	s.order = removeItem(s.order, k)

	for partner, kinds := range s.waiting {
		kinds = removeItem(kinds, k)
		if len(kinds) == 0 {
			delete(s.waiting, partner)
		} else {
			s.waiting[partner] = kinds
		}
	}
	// present partners expect a fresh counterpart
	for _, p := range s.partners(k) {
		if s.Has(p) {
			s.park(k, p)
		}
	}

	s.detach(c)
	if hook, ok := c.(RemovedHook); ok {
		hook.OnRemoved(s.owner)
	}
	return c, true
}

// Kinds returns the stored kinds in add order.
func (s *Storage) Kinds() []Kind {
	return append([]Kind(nil), s.order...)
}

// All returns the stored components in add order.
func (s *Storage) All() []Component {
	out := make([]Component, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.items[k])
	}
	return out
}

func (s *Storage) Len() int { return len(s.items) }

// Waiting returns the kinds present on the owner that hold an unfired contract
// with partner.
func (s *Storage) Waiting(partner Kind) []Kind {
	return append([]Kind(nil), s.waiting[partner]...)
}

// Fingerprint hashes the components taking part in equality checks.
func (s *Storage) Fingerprint() uint64 {
	kinds := make([]Kind, 0, len(s.items))
	for k, c := range s.items {
		if ex, ok := c.(EqualityExcluder); ok && !ex.IncludeInEqualityChecks() {
			continue
		}
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	d := xxhash.New()
	for _, k := range kinds {
		_, _ = d.WriteString(string(k))
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(encodeState(s.items[k]))
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// Equal compares two storages by fingerprint.
func (s *Storage) Equal(other *Storage) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Fingerprint() == other.Fingerprint()
}

// ModelsEqual reports whether a and b have the same type, exported state and
// included components.
func ModelsEqual(a, b Model) bool {
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if xxhash.Sum64(encodeState(a)) != xxhash.Sum64(encodeState(b)) {
		return false
	}
	oa, aok := a.(Owner)
	ob, bok := b.(Owner)
	if aok && bok {
		return oa.Components().Equal(ob.Components())
	}
	return true
}

func encodeState(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%T", v))
	}
	return data
}

func (s *Storage) resolveContracts(k Kind) error {
	u := s.owner.Universe()
	if u == nil {
		return nil
	}
	delete(s.waiting, k)
	for _, p := range u.Contracts.Partners(k) {
		present, ok := s.items[p]
		if !ok {
			s.park(p, k)
			continue
		}
		incoming := s.items[k]
		ni, np, err := u.Contracts.apply(incoming, present)
		if err != nil {
			return fmt.Errorf("contract %s<->%s: %w", k, p, err)
		}
		if err := s.swap(k, incoming, ni); err != nil {
			return err
		}
		if err := s.swap(p, present, np); err != nil {
			return err
		}
		s.unpark(k, p)
	}
	return nil
}

// swap replaces old with next under k without re-running contracts.
func (s *Storage) swap(k Kind, old, next Component) error {
	if next == nil || next == old {
		return nil
	}
	if next.Kind() != k {
		return fmt.Errorf("contract replaced %s with %s: %w", k, next.Kind(), ErrKindMismatch)
	}
	s.attach(next)
	s.items[k] = next
	s.detach(old)
	return nil
}

func (s *Storage) partners(k Kind) []Kind {
	if u := s.owner.Universe(); u != nil {
		return u.Contracts.Partners(k)
	}
	return nil
}

// park records that present kind k waits for partner.
func (s *Storage) park(partner, k Kind) {
	for _, w := range s.waiting[partner] {
		if w == k {
			return
		}
	}
	s.waiting[partner] = append(s.waiting[partner], k)
}

func (s *Storage) unpark(partner, k Kind) {
	kinds := removeItem(s.waiting[partner], k)
	if len(kinds) == 0 {
		delete(s.waiting, partner)
		return
	}
	s.waiting[partner] = kinds
}

func (s *Storage) attach(c Component) {
	if b, ok := c.(modelBinder); ok {
		b.bindModel(s.owner.Universe(), nil)
	}
	if p, ok := c.(parentTracker); ok {
		p.setParent(s.owner)
	}
}

func (s *Storage) detach(c Component) {
	if p, ok := c.(parentTracker); ok {
		p.setParent(nil)
	}
}

type storageSnapshot struct {
	items   map[Kind]Component
	order   []Kind
	waiting map[Kind][]Kind
}

func (s *Storage) snapshot() storageSnapshot {
	snap := storageSnapshot{
		items:   make(map[Kind]Component, len(s.items)),
		order:   append([]Kind(nil), s.order...),
		waiting: make(map[Kind][]Kind, len(s.waiting)),
	}
	for k, c := range s.items {
		snap.items[k] = c
	}
	for k, v := range s.waiting {
		snap.waiting[k] = append([]Kind(nil), v...)
	}
	return snap
}

func (s *Storage) restore(snap storageSnapshot) {
	for k, c := range s.items {
		if snap.items[k] != c {
			s.detach(c)
		}
	}
	s.items = snap.items
	s.order = snap.order
	s.waiting = snap.waiting
	for _, c := range s.items {
		if p, ok := c.(parentTracker); ok {
			p.setParent(s.owner)
		}
	}
}
