package universe

import (
	"fmt"
	"sort"
)

// Transform rewrites a pair of co-located components. It receives them in the order
// the contract was registered and returns their replacements in the same order.
type Transform func(a, b Component) (Component, Component, error)

type contract struct {
	fn Transform
	// forward is false on the mirrored entry registered under b.
	forward bool
}

// Contracts holds the pairwise transforms between component kinds.
type Contracts struct {
	u      *Universe
	byKind map[Kind]map[Kind]contract
	count  int
}

func newContracts(u *Universe) *Contracts {
	return &Contracts{
		u:      u,
		byKind: make(map[Kind]map[Kind]contract),
	}
}

// Register declares that fn runs once whenever kinds a and b share an owner.
func (c *Contracts) Register(a, b Kind, fn Transform) error {
	if err := c.u.checkWritable(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("register contract %s<->%s: nil transform", a, b)
	}
	if a == b {
		return fmt.Errorf("register contract %s<->%s: %w", a, b, ErrKindMismatch)
	}
	if _, ok := c.byKind[a][b]; ok {
		return fmt.Errorf("register contract %s<->%s: %w", a, b, ErrAlreadyRegistered)
	}
	c.put(a, b, contract{fn: fn, forward: true})
	c.put(b, a, contract{fn: fn, forward: false})
	c.count++
	return nil
}

func (c *Contracts) put(a, b Kind, ct contract) {
	m, ok := c.byKind[a]
	if !ok {
		m = make(map[Kind]contract)
		c.byKind[a] = m
	}
	m[b] = ct
}

// Lookup returns the transform between a and b. forward reports whether a is the
// transform's first argument.
func (c *Contracts) Lookup(a, b Kind) (fn Transform, forward bool, ok bool) {
	ct, ok := c.byKind[a][b]
	if !ok {
		return nil, false, false
	}
	return ct.fn, ct.forward, true
}

// Partners returns every kind that holds a contract with a, sorted.
func (c *Contracts) Partners(a Kind) []Kind {
	m := c.byKind[a]
	out := make([]Kind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered contracts.
func (c *Contracts) Len() int { return c.count }

// apply runs the contract between the incoming component and a present partner.
func (c *Contracts) apply(incoming, present Component) (Component, Component, error) {
	fn, forward, ok := c.Lookup(incoming.Kind(), present.Kind())
	if !ok {
		return incoming, present, nil
	}
	if forward {
		return fn(incoming, present)
	}
	p, i, err := fn(present, incoming)
	return i, p, err
}
