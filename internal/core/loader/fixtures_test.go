package loader

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/universe"
)

type bar struct {
	universe.ComponentBase
	Power int `json:"power"`
}

func (*bar) Kind() universe.Kind { return "bar" }

type shield struct {
	universe.ComponentBase
	Block int `json:"block"`
}

func (*shield) Kind() universe.Kind { return "shield" }

type fooModel struct {
	universe.ModelWithComponents
	Name string `json:"name"`
}

type foo struct {
	universe.ArchetypeBase
}

func (a *foo) Initialize(*universe.Universe) error {
	a.SetModelType(reflect.TypeFor[*fooModel]())
	return a.AddInitialComponent(reflect.TypeFor[*bar]())
}

type x struct{ universe.ArchetypeBase }
type y struct{ universe.ArchetypeBase }

type broken struct {
	universe.ArchetypeBase
}

func (a *broken) Initialize(*universe.Universe) error {
	a.SetModelType(reflect.TypeFor[*fooModel]())
	a.SetDefault("name", 42)
	return nil
}

func (a *broken) ConfigureModel(b *universe.Builder, m universe.Model) (universe.Model, error) {
	name, err := universe.Required[string](b, "name")
	if err != nil {
		return nil, err
	}
	m.(*fooModel).Name = name
	return m, nil
}

var errNotYet = errors.New("not yet")

type finisher struct {
	universe.ArchetypeBase
	calls    int
	failures int
}

func (a *finisher) Initialize(*universe.Universe) error {
	a.SetModelType(reflect.TypeFor[*fooModel]())
	return nil
}

func (a *finisher) Finish() error {
	a.calls++
	if a.calls <= a.failures {
		return errNotYet
	}
	return nil
}

type element struct {
	universe.Enum
}

func elements(keys ...string) func(*universe.Universe) ([]*element, error) {
	return func(*universe.Universe) ([]*element, error) {
		out := make([]*element, len(keys))
		for i, k := range keys {
			out[i] = &element{Enum: universe.NewEnum(k)}
		}
		return out, nil
	}
}

type glyph struct {
	universe.ArchetypeBase
	Element string
}

func (a *glyph) Initialize(*universe.Universe) error {
	a.SetModelType(reflect.TypeFor[*fooModel]())
	return nil
}

func splayGlyphs(lazy bool) *Splay {
	return &Splay{
		Enum: reflect.TypeFor[*element](),
		New: func(v universe.Enumeration) (universe.Archetype, error) {
			return &glyph{Element: v.Key()}, nil
		},
		Lazy: lazy,
	}
}

var errBarPending = errors.New("bar factory not registered yet")

// needyGlyph initializes only once the bar component exists.
type needyGlyph struct {
	universe.ArchetypeBase
	Element string
}

func (a *needyGlyph) Initialize(u *universe.Universe) error {
	if _, ok := u.Components.Factory(reflect.TypeFor[*bar]()); !ok {
		return errBarPending
	}
	a.SetModelType(reflect.TypeFor[*fooModel]())
	return nil
}

func needyGlyphs() ArchetypeDescriptor {
	return ArchetypeDescriptor{
		Type: reflect.TypeFor[*needyGlyph](),
		Splay: &Splay{
			Enum: reflect.TypeFor[*element](),
			New: func(v universe.Enumeration) (universe.Archetype, error) {
				return &needyGlyph{Element: v.Key()}, nil
			},
		},
	}
}

func observed() (log.Log, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return log.FromZap(zap.New(core)), logs
}

func settings(mod func(*Settings)) Settings {
	s := DefaultSettings()
	if mod != nil {
		mod(&s)
	}
	return s
}

func failureTypes(fs []universe.Failure) []reflect.Type {
	out := make([]reflect.Type, len(fs))
	for i, f := range fs {
		out[i] = f.Type
	}
	return out
}

func load(t *testing.T, s Settings, modules ...Module) (*Loader, *universe.Universe) {
	t.Helper()
	l := New(Modules(modules...), WithSettings(s))
	u, err := l.Initialize(t.Context(), nil)
	require.NoError(t, err)
	return l, u
}
