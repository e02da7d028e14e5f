package universe

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageAddAttachesComponent(t *testing.T) {
	u := New()
	owner := newOwner(u)
	h := &health{HP: 10}

	require.NoError(t, owner.Components().Add(h))

	assert.Same(t, u, h.Universe())
	assert.Equal(t, owner, h.Parent())
	assert.Equal(t, 1, h.added)

	got, err := owner.Components().Get("health")
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.True(t, owner.Components().HasType(reflect.TypeFor[*health]()))
	assert.True(t, owner.Components().HasLike(&health{}))
	assert.False(t, owner.Components().Has("armor"))
}

func TestStorageRejectsDuplicateKind(t *testing.T) {
	u := New()
	owner := newOwner(u)
	first := &armor{Value: 1}
	require.NoError(t, owner.Components().Add(first))

	err := owner.Components().Add(&heavyArmor{})
	require.ErrorIs(t, err, ErrComponentExists)

	assert.Equal(t, 1, owner.Components().Len())
	got, ok := owner.Components().TryGet("armor")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestStorageAddRollsBackOnHookError(t *testing.T) {
	u := New()
	owner := newOwner(u)
	r := &rejecting{}

	err := owner.Components().Add(r)
	require.ErrorIs(t, err, errRejected)

	assert.Zero(t, owner.Components().Len())
	assert.Empty(t, owner.Components().Kinds())
	assert.Nil(t, r.Parent())
}

func TestStorageGetMissing(t *testing.T) {
	owner := newOwner(New())
	_, err := owner.Components().Get("health")
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestStorageUpdate(t *testing.T) {
	u := New()
	owner := newOwner(u)

	_, err := owner.Components().Update(&health{})
	require.ErrorIs(t, err, ErrComponentNotFound)

	old := &health{HP: 1}
	require.NoError(t, owner.Components().Add(old))
	next := &health{HP: 2}
	replaced, err := owner.Components().Update(next)
	require.NoError(t, err)

	assert.Same(t, old, replaced)
	assert.Nil(t, old.Parent())
	assert.Equal(t, owner, next.Parent())
	got, _ := owner.Components().TryGet("health")
	assert.Same(t, next, got)
}

func TestStorageAddOrUpdate(t *testing.T) {
	owner := newOwner(New())
	require.NoError(t, owner.Components().AddOrUpdate(&armor{Value: 1}))
	require.NoError(t, owner.Components().AddOrUpdate(&heavyArmor{armor{Value: 5}}))

	got, _ := owner.Components().TryGet("armor")
	assert.IsType(t, &heavyArmor{}, got)
	assert.Equal(t, 1, owner.Components().Len())
}

func TestStorageRemove(t *testing.T) {
	owner := newOwner(New())
	h := &health{}
	require.NoError(t, owner.Components().Add(h))
	require.NoError(t, owner.Components().Add(&armor{}))

	removed, ok := owner.Components().Remove("health")
	require.True(t, ok)
	assert.Same(t, h, removed)
	assert.Nil(t, h.Parent())
	assert.Equal(t, 1, h.removed)
	assert.Equal(t, []Kind{"armor"}, owner.Components().Kinds())

	_, ok = owner.Components().Remove("health")
	assert.False(t, ok)
}

func registerBoost(t *testing.T, u *Universe, calls *int) {
	t.Helper()
	err := u.Contracts.Register("health", "armor", func(a, b Component) (Component, Component, error) {
		*calls++
		h := a.(*health)
		ar := b.(*armor)
		return &health{HP: h.HP + ar.Value}, &armor{Value: ar.Value * 2}, nil
	})
	require.NoError(t, err)
}

func TestContractFiresOnceInEitherOrder(t *testing.T) {
	orders := map[string][]Component{
		"health first": {&health{HP: 10}, &armor{Value: 3}},
		"armor first":  {&armor{Value: 3}, &health{HP: 10}},
	}
	for name, comps := range orders {
		t.Run(name, func(t *testing.T) {
			u := New()
			calls := 0
			registerBoost(t, u, &calls)
			owner := newOwner(u)

			require.NoError(t, owner.Components().Add(comps[0]))
			assert.Equal(t, 0, calls)
			assert.Len(t, owner.Components().Waiting(comps[1].Kind()), 1)

			require.NoError(t, owner.Components().Add(comps[1]))
			assert.Equal(t, 1, calls)
			assert.Empty(t, owner.Components().Waiting("health"))
			assert.Empty(t, owner.Components().Waiting("armor"))

			h, _ := owner.Components().TryGet("health")
			a, _ := owner.Components().TryGet("armor")
			assert.Equal(t, 13, h.(*health).HP)
			assert.Equal(t, 6, a.(*armor).Value)
			assert.Equal(t, owner, h.(*health).Parent())

			for _, original := range comps {
				assert.Nil(t, original.(interface{ Parent() Owner }).Parent())
			}

			// further unrelated adds do not fire it again
			require.NoError(t, owner.Components().Add(&label{}))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestContractRefiresAfterRemove(t *testing.T) {
	u := New()
	calls := 0
	registerBoost(t, u, &calls)
	owner := newOwner(u)

	require.NoError(t, owner.Components().Add(&health{HP: 1}))
	require.NoError(t, owner.Components().Add(&armor{Value: 1}))
	require.Equal(t, 1, calls)

	owner.Components().Remove("armor")
	assert.Equal(t, []Kind{"health"}, owner.Components().Waiting("armor"))

	require.NoError(t, owner.Components().Add(&armor{Value: 1}))
	assert.Equal(t, 2, calls)
}

func TestUpdateKeepsContractResult(t *testing.T) {
	u := New()
	calls := 0
	registerBoost(t, u, &calls)
	owner := newOwner(u)

	require.NoError(t, owner.Components().Add(&health{HP: 1}))
	require.NoError(t, owner.Components().Add(&armor{Value: 1}))
	require.Equal(t, 1, calls)

	replacement := &armor{Value: 5}
	old, err := owner.Components().Update(replacement)
	require.NoError(t, err)
	assert.Equal(t, 2, old.(*armor).Value)
	assert.Nil(t, old.(*armor).Parent())

	// the pair already settled its contract
	assert.Equal(t, 1, calls)
	assert.Empty(t, owner.Components().Waiting("armor"))
	assert.Empty(t, owner.Components().Waiting("health"))
	h, _ := owner.Components().TryGet("health")
	assert.Equal(t, 2, h.(*health).HP)
	a, _ := owner.Components().TryGet("armor")
	assert.Same(t, replacement, a)
	assert.Equal(t, owner, replacement.Parent())
}

func TestContractErrorRollsBackAdd(t *testing.T) {
	u := New()
	boom := errors.New("boom")
	require.NoError(t, u.Contracts.Register("health", "armor", func(a, b Component) (Component, Component, error) {
		return nil, nil, boom
	}))
	owner := newOwner(u)
	h := &health{}
	ar := &armor{}

	require.NoError(t, owner.Components().Add(h))
	err := owner.Components().Add(ar)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []Kind{"health"}, owner.Components().Kinds())
	assert.Equal(t, []Kind{"health"}, owner.Components().Waiting("armor"))
	assert.Nil(t, ar.Parent())
	assert.Equal(t, owner, h.Parent())
}

func TestContractKindMismatchRollsBack(t *testing.T) {
	u := New()
	require.NoError(t, u.Contracts.Register("health", "armor", func(a, b Component) (Component, Component, error) {
		return &label{}, b, nil
	}))
	owner := newOwner(u)
	require.NoError(t, owner.Components().Add(&health{}))

	err := owner.Components().Add(&armor{})
	require.ErrorIs(t, err, ErrKindMismatch)
	assert.Equal(t, 1, owner.Components().Len())
}

func TestContractsRegistry(t *testing.T) {
	u := New()
	noop := func(a, b Component) (Component, Component, error) { return a, b, nil }

	require.NoError(t, u.Contracts.Register("a", "b", noop))
	require.NoError(t, u.Contracts.Register("a", "c", noop))
	assert.ErrorIs(t, u.Contracts.Register("a", "b", noop), ErrAlreadyRegistered)
	assert.ErrorIs(t, u.Contracts.Register("a", "a", noop), ErrKindMismatch)

	assert.Equal(t, []Kind{"b", "c"}, u.Contracts.Partners("a"))
	assert.Equal(t, []Kind{"a"}, u.Contracts.Partners("b"))
	assert.Equal(t, 2, u.Contracts.Len())

	_, forward, ok := u.Contracts.Lookup("b", "a")
	require.True(t, ok)
	assert.False(t, forward)
}

func TestFingerprintSkipsExcludedComponents(t *testing.T) {
	u := New()
	a := newOwner(u)
	b := newOwner(u)

	require.NoError(t, a.Components().Add(&health{HP: 5}))
	require.NoError(t, b.Components().Add(&health{HP: 5}))
	require.NoError(t, a.Components().Add(&label{Text: "left"}))
	require.NoError(t, b.Components().Add(&label{Text: "right"}))
	assert.True(t, a.Components().Equal(b.Components()))
	assert.True(t, ModelsEqual(a, b))

	_, err := b.Components().Update(&health{HP: 6})
	require.NoError(t, err)
	assert.False(t, a.Components().Equal(b.Components()))
	assert.False(t, ModelsEqual(a, b))
}

func TestModelsEqualComparesState(t *testing.T) {
	u := New()
	a := newOwner(u)
	b := newOwner(u)
	a.Name = "x"
	b.Name = "y"
	assert.False(t, ModelsEqual(a, b))
	assert.False(t, ModelsEqual(a, &health{}))
	assert.True(t, ModelsEqual(nil, nil))
}
