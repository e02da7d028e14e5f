package universe

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type health struct {
	ComponentBase
	HP      int `json:"hp"`
	added   int
	removed int
}

func (*health) Kind() Kind { return "health" }

func (h *health) OnAdded(Owner) error {
	h.added++
	return nil
}

func (h *health) OnRemoved(Owner) { h.removed++ }

type armor struct {
	ComponentBase
	Value int `json:"value"`
}

func (*armor) Kind() Kind { return "armor" }

// heavyArmor inherits the armor slot.
type heavyArmor struct {
	armor
}

type label struct {
	ComponentBase
	Text string `json:"text"`
}

func (*label) Kind() Kind                    { return "label" }
func (*label) IncludeInEqualityChecks() bool { return false }

var errRejected = errors.New("rejected")

type rejecting struct {
	ComponentBase
}

func (*rejecting) Kind() Kind          { return "rejecting" }
func (*rejecting) OnAdded(Owner) error { return errRejected }

type unit struct {
	ModelWithComponents
	Unique
	Name string `json:"name"`

	events []string
}

func (m *unit) OnInitialized(*Builder) error {
	m.events = append(m.events, "model.initialized")
	return nil
}

func (m *unit) OnFinalized(*Builder) error {
	m.events = append(m.events, "model.finalized")
	return nil
}

type unitArchetype struct {
	ArchetypeBase
}

func (a *unitArchetype) Initialize(*Universe) error {
	a.SetModelType(reflect.TypeFor[*unit]())
	a.SetDefault("name", "recruit")
	return nil
}

func (a *unitArchetype) ConfigureModel(b *Builder, m Model) (Model, error) {
	u := m.(*unit)
	name, err := Required[string](b, "name")
	if err != nil {
		return nil, err
	}
	u.Name = name
	u.events = append(u.events, "archetype.configure")
	return u, nil
}

func (a *unitArchetype) FinalizeModel(_ *Builder, m Model) (Model, error) {
	m.(*unit).events = append(m.(*unit).events, "archetype.finalize")
	return m, nil
}

func (a *unitArchetype) OnModelInitialized(_ *Builder, m Model) error {
	m.(*unit).events = append(m.(*unit).events, "archetype.initialized")
	return nil
}

func (a *unitArchetype) OnModelFinalized(_ *Builder, m Model) error {
	m.(*unit).events = append(m.(*unit).events, "archetype.finalized")
	return nil
}

type scoutArchetype struct {
	ArchetypeBase
}

func (a *scoutArchetype) ArchetypeKey() string { return "scout" }

func (a *scoutArchetype) Initialize(*Universe) error {
	a.SetModelType(reflect.TypeFor[*unit]())
	a.Tag("light")
	return nil
}

type material struct {
	Enum
	Hardness int
}

type stubLoader struct {
	finished bool
}

func (l *stubLoader) IsFinished() bool                 { return l.finished }
func (l *stubLoader) Failures() []Failure              { return nil }
func (l *stubLoader) InitializedTypes() []reflect.Type { return nil }

func newOwner(u *Universe) *unit {
	m := &unit{}
	m.bindModel(u, nil)
	AttachStorage(m)
	return m
}

func sealed(t *testing.T, u *Universe, runtime bool) {
	t.Helper()
	l := &stubLoader{}
	require.NoError(t, u.AttachLoader(l))
	require.NoError(t, u.Seal(l, runtime))
}

func registerComponents(t *testing.T, u *Universe) {
	t.Helper()
	_, err := u.Components.Register(reflect.TypeFor[*health](), func() Component { return &health{} })
	require.NoError(t, err)
	_, err = u.Components.Register(reflect.TypeFor[*armor](), func() Component { return &armor{} })
	require.NoError(t, err)
}
