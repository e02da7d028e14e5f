package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/universe/internal/core/observability/tracing"
	"github.com/zeusync/universe/internal/core/universe"
)

var (
	barType    = reflect.TypeFor[*bar]()
	shieldType = reflect.TypeFor[*shield]()
	fooType    = reflect.TypeFor[*foo]()
	xType      = reflect.TypeFor[*x]()
	yType      = reflect.TypeFor[*y]()
)

func fooModule(name string, deps ...reflect.Type) Module {
	return NewModule(name, func(c *Catalog) error {
		c.Archetype(ArchetypeDescriptor{
			Type:         fooType,
			New:          func() universe.Archetype { return &foo{} },
			Dependencies: deps,
		})
		return nil
	})
}

func barModule(name string) Module {
	return NewModule(name, func(c *Catalog) error {
		ComponentOf[bar](c)
		return nil
	})
}

func TestForwardReferenceResolvesOnRetry(t *testing.T) {
	logger, logs := observed()
	l := New(
		Modules(fooModule("first", barType), barModule("second")),
		WithSettings(settings(func(s *Settings) { s.InitializationAttempts = 3 })),
		WithLogger(logger),
	)

	u, err := l.Initialize(t.Context(), nil)
	require.NoError(t, err)

	assert.Empty(t, l.Failures())
	assert.Equal(t, []reflect.Type{barType, fooType}, l.InitializedTypes())
	assert.True(t, l.IsFinished())
	assert.True(t, u.IsFinished())
	assert.Equal(t, universe.LoaderState(l), u.Loader())

	deferred := logs.FilterMessage("type deferred").All()
	require.Len(t, deferred, 1)
	assert.Equal(t, "*loader.foo", deferred[0].ContextMap()["type"])
	assert.Len(t, logs.FilterMessage("retry round done").All(), 1)

	a, ok := universe.ArchetypeOf[*foo](u)
	require.True(t, ok)
	m, err := universe.Make[*fooModel](a, nil)
	require.NoError(t, err)
	_, ok = universe.ComponentOf[*bar](m)
	assert.True(t, ok)
}

func TestCycleFailsAfterAllRounds(t *testing.T) {
	logger, logs := observed()
	mod := NewModule("cycle", func(c *Catalog) error {
		c.Archetype(ArchetypeDescriptor{Type: xType, New: func() universe.Archetype { return &x{} }, Dependencies: Deps(yType)})
		c.Archetype(ArchetypeDescriptor{Type: yType, New: func() universe.Archetype { return &y{} }, Dependencies: Deps(xType)})
		return nil
	})
	l := New(Modules(mod), WithLogger(logger))

	u, err := l.Initialize(t.Context(), nil)
	require.NoError(t, err)
	require.NotNil(t, u)

	failures := l.Failures()
	require.Len(t, failures, 2)
	assert.ElementsMatch(t, []reflect.Type{xType, yType}, failureTypes(failures))
	for _, f := range failures {
		var missing *universe.MissingDependencyError
		require.True(t, errors.As(f.Err, &missing))
		assert.True(t, universe.IsRetryable(f.Err))
		assert.Equal(t, 10, f.Metadata["rounds"])
	}
	assert.Len(t, logs.FilterMessage("retry round done").All(), 10)
	assert.Empty(t, l.InitializedTypes())
}

func TestFatalFailuresAreNotRetried(t *testing.T) {
	calls := 0
	mod := NewModule("fatal", func(c *Catalog) error {
		c.Archetype(ArchetypeDescriptor{Type: xType, New: func() universe.Archetype {
			calls++
			return nil
		}})
		c.Archetype(ArchetypeDescriptor{Type: yType, New: func() universe.Archetype { panic("boom") }})
		return nil
	})
	l, _ := load(t, DefaultSettings(), mod)

	assert.Equal(t, 1, calls)
	failures := l.Failures()
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.True(t, universe.IsFatal(f.Err), f.String())
	}
	assert.ErrorIs(t, failures[0].Err, universe.ErrNoModelConstructor)
	assert.Contains(t, failures[1].Err.Error(), "panic: boom")
}

func TestFatalOnCannotInitializeTypeAborts(t *testing.T) {
	mod := NewModule("fatal", func(c *Catalog) error {
		c.Archetype(ArchetypeDescriptor{Type: xType, New: func() universe.Archetype { return nil }})
		return nil
	})
	l := New(Modules(mod), WithSettings(settings(func(s *Settings) { s.FatalOnCannotInitializeType = true })))

	_, err := l.Initialize(t.Context(), nil)
	require.Error(t, err)
	var cannot *universe.CannotInitializeError
	assert.True(t, errors.As(err, &cannot))
	assert.False(t, l.IsFinished())
}

func TestFatalDuringFinalizationReturnsUniverse(t *testing.T) {
	l := New(
		Modules(fooModule("first", barType)),
		WithSettings(settings(func(s *Settings) {
			s.InitializationAttempts = 1
			s.FatalDuringFinalizationOnCouldNotInitializeTypes = true
		})),
	)
	u, err := l.Initialize(t.Context(), nil)
	require.ErrorIs(t, err, ErrFailuresRemain)
	require.NotNil(t, u)
	assert.True(t, u.IsFinished())
	assert.Len(t, l.Failures(), 1)
}

func TestArchetypeIsSingletonAcrossSeal(t *testing.T) {
	var during universe.Archetype
	mod := NewModule("single", func(c *Catalog) error {
		ComponentOf[bar](c)
		ArchetypeOf[foo](c)
		c.Modifier(ModifierDescriptor{
			Type: reflect.TypeFor[Module](),
			Modify: func(u *universe.Universe) error {
				a, ok := universe.ArchetypeOf[*foo](u)
				if !ok {
					return errors.New("foo missing")
				}
				during = a
				return nil
			},
		})
		return nil
	})
	l, u := load(t, DefaultSettings(), mod)
	require.Empty(t, l.Failures())

	after, ok := universe.ArchetypeOf[*foo](u)
	require.True(t, ok)
	assert.Same(t, during, universe.Archetype(after))

	assert.ErrorIs(t, u.Archetypes.Register(&x{}), universe.ErrSealed)
	_, err := u.Components.Register(shieldType, func() universe.Component { return &shield{} })
	assert.ErrorIs(t, err, universe.ErrSealed)
}

func TestTestBuildFailureUnloadsArchetype(t *testing.T) {
	brokenType := reflect.TypeFor[*broken]()
	mod := NewModule("broken", func(c *Catalog) error {
		ArchetypeOf[broken](c)
		return nil
	})
	l, u := load(t, settings(func(s *Settings) { s.ModelTestBuildAttempts = 2 }), mod)

	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, brokenType, failures[0].Type)
	assert.Equal(t, "test build", failures[0].Metadata["stage"])
	assert.ErrorIs(t, failures[0].Err, universe.ErrParameterMismatch)

	_, ok := universe.ArchetypeOf[*broken](u)
	assert.False(t, ok)
	_, ok = u.Archetypes.ByKey("loader.broken")
	assert.False(t, ok)
	assert.NotContains(t, l.InitializedTypes(), brokenType)
}

func TestDoNotAutoBuildSkipsTestBuild(t *testing.T) {
	mod := NewModule("broken", func(c *Catalog) error {
		c.Archetype(ArchetypeDescriptor{
			Type:           reflect.TypeFor[*broken](),
			New:            func() universe.Archetype { return &broken{} },
			DoNotAutoBuild: true,
		})
		return nil
	})
	l, u := load(t, DefaultSettings(), mod)
	assert.Empty(t, l.Failures())
	_, ok := universe.ArchetypeOf[*broken](u)
	assert.True(t, ok)
}

func TestExamplesAreDroppedOnSeal(t *testing.T) {
	_, u := load(t, DefaultSettings(), barModule("bar"), fooModule("foo"))
	assert.Zero(t, u.Examples().Len())

	a, _ := universe.ArchetypeOf[*foo](u)
	first, err := u.Example(a)
	require.NoError(t, err)
	second, err := u.Example(a)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestFinishRetries(t *testing.T) {
	finisherType := reflect.TypeFor[*finisher]()
	module := func(failures int) Module {
		return NewModule("finish", func(c *Catalog) error {
			c.Archetype(ArchetypeDescriptor{
				Type: finisherType,
				New:  func() universe.Archetype { return &finisher{failures: failures} },
			})
			return nil
		})
	}

	l, u := load(t, DefaultSettings(), module(1))
	assert.Empty(t, l.Failures())
	a, _ := universe.ArchetypeOf[*finisher](u)
	assert.Equal(t, 2, a.calls)

	l, u = load(t, DefaultSettings(), module(2))
	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "finish", failures[0].Metadata["stage"])
	assert.ErrorIs(t, failures[0].Err, errNotYet)
	a, _ = universe.ArchetypeOf[*finisher](u)
	assert.Equal(t, 2, a.calls)

	_, u = load(t, settings(func(s *Settings) { s.FinalizationAttempts = 3 }), module(2))
	a, _ = universe.ArchetypeOf[*finisher](u)
	assert.Equal(t, 3, a.calls)
}

func TestModifiersRunInLoadOrderWithContracts(t *testing.T) {
	var order []string
	modifier := func(name string, fn func(u *universe.Universe) error) ModifierDescriptor {
		return ModifierDescriptor{
			Type: reflect.TypeFor[Module](),
			Modify: func(u *universe.Universe) error {
				order = append(order, name)
				return fn(u)
			},
		}
	}
	components := NewModule("components", func(c *Catalog) error {
		c.Component(ComponentDescriptor{
			Type: barType,
			New:  func() universe.Component { return &bar{} },
			Contracts: []ContractDecl{{
				With: "shield",
				Transform: func(a, b universe.Component) (universe.Component, universe.Component, error) {
					return &bar{Power: 2}, &shield{Block: b.(*shield).Block + 1}, nil
				},
			}},
		})
		ComponentOf[shield](c)
		c.Modifier(modifier("components", func(*universe.Universe) error { return errNotYet }))
		return nil
	})
	archetypes := NewModule("archetypes", func(c *Catalog) error {
		ArchetypeOf[foo](c, barType)
		c.Modifier(modifier("archetypes", func(u *universe.Universe) error {
			a, _ := universe.ArchetypeOf[*foo](u)
			return a.AddInitialComponent(shieldType)
		}))
		return nil
	})

	l, u := load(t, DefaultSettings(), components, archetypes)
	assert.Equal(t, []string{"components", "archetypes"}, order)

	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, universe.SubjectModifier, failures[0].Kind)
	assert.Equal(t, "components", failures[0].Metadata["module"])

	a, _ := universe.ArchetypeOf[*foo](u)
	m, err := universe.Make[*fooModel](a, nil)
	require.NoError(t, err)
	b, _ := universe.ComponentOf[*bar](m)
	s, _ := universe.ComponentOf[*shield](m)
	assert.Equal(t, 2, b.Power)
	assert.Equal(t, 1, s.Block)
	assert.Equal(t, 1, u.Contracts.Len())
}

type archetypeRoot struct{}

func TestHooksRunBaseToDerivedOnce(t *testing.T) {
	rootType := reflect.TypeFor[archetypeRoot]()
	var ran []string
	flaky := 0
	mod := NewModule("hooks", func(c *Catalog) error {
		c.Hook(rootType, func(*universe.Universe) error {
			ran = append(ran, "root")
			return nil
		})
		c.Hook(xType, func(*universe.Universe) error {
			flaky++
			if flaky == 1 {
				return errNotYet
			}
			ran = append(ran, "x")
			return nil
		})
		c.Hook(yType, func(*universe.Universe) error {
			ran = append(ran, "y")
			return nil
		})
		c.Archetype(ArchetypeDescriptor{Type: xType, New: func() universe.Archetype { return &x{} }, Bases: Deps(rootType), DoNotAutoBuild: true})
		c.Archetype(ArchetypeDescriptor{Type: yType, New: func() universe.Archetype { return &y{} }, Bases: Deps(rootType), DoNotAutoBuild: true})
		return nil
	})
	l, _ := load(t, DefaultSettings(), mod)

	assert.Empty(t, l.Failures())
	assert.Equal(t, []string{"root", "y", "x"}, ran)
	assert.Equal(t, []reflect.Type{yType, xType}, l.InitializedTypes())
}

func TestModelRegistration(t *testing.T) {
	type plain struct {
		universe.ModelBase
		N int
	}
	otherType := reflect.TypeFor[*plain]()
	mod := NewModule("models", func(c *Catalog) error {
		c.Model(ModelDescriptor{Type: reflect.TypeFor[*fooModel](), Archetype: fooType})
		ModelOf[plain](c)
		return nil
	})

	l, u := load(t, DefaultSettings(), mod, barModule("bar"), fooModule("foo", barType))
	assert.Empty(t, l.Failures())

	f, ok := u.Models.Factory(reflect.TypeFor[*fooModel]())
	require.True(t, ok)
	a, _ := universe.ArchetypeOf[*foo](u)
	assert.Equal(t, universe.Factory(a), f)

	m, err := u.Models.Make(otherType, nil)
	require.NoError(t, err)
	assert.IsType(t, &plain{}, m)
}

func TestSplayGeneratesOnePerValue(t *testing.T) {
	glyphType := reflect.TypeFor[*glyph]()
	splays := NewModule("glyphs", func(c *Catalog) error {
		c.Archetype(ArchetypeDescriptor{Type: glyphType, Splay: splayGlyphs(false)})
		return nil
	})
	enums := NewModule("elements", func(c *Catalog) error {
		EnumOf(c, elements("fire", "water"))
		return nil
	})

	l, u := load(t, DefaultSettings(), splays, enums)
	assert.Empty(t, l.Failures())

	variants := u.Archetypes.Variants(glyphType)
	require.Len(t, variants, 2)
	fire, ok := u.Archetypes.ByKey("loader.glyph.fire")
	require.True(t, ok)
	assert.Equal(t, "fire", fire.(*glyph).Element)
	assert.Equal(t, "fire", universe.BaseOf(fire).Origin().Key())
	_, ok = u.Archetypes.ByKey("loader.glyph.water")
	assert.True(t, ok)
}

func TestSplayRetriesRetryableVariants(t *testing.T) {
	glyphs := NewModule("first", func(c *Catalog) error {
		EnumOf(c, elements("fire", "water"))
		c.Archetype(needyGlyphs())
		return nil
	})
	logger, logs := observed()
	l := New(Modules(glyphs, barModule("second")), WithLogger(logger))
	u, err := l.Initialize(t.Context(), nil)
	require.NoError(t, err)

	assert.Empty(t, l.Failures())
	assert.Len(t, u.Archetypes.Variants(reflect.TypeFor[*needyGlyph]()), 2)
	_, ok := u.Archetypes.ByKey("loader.needyGlyph.water")
	assert.True(t, ok)
	assert.Equal(t, 2, logs.FilterMessage("splayed archetype deferred").Len())
}

func TestSplayRecordsVariantsAfterRounds(t *testing.T) {
	glyphs := NewModule("first", func(c *Catalog) error {
		EnumOf(c, elements("fire", "water"))
		c.Archetype(needyGlyphs())
		return nil
	})
	l, u := load(t, settings(func(s *Settings) { s.InitializationAttempts = 3 }), glyphs)

	assert.Empty(t, u.Archetypes.Variants(reflect.TypeFor[*needyGlyph]()))
	failures := l.Failures()
	require.Len(t, failures, 2)
	for i, value := range []string{"fire", "water"} {
		f := failures[i]
		assert.Equal(t, reflect.TypeFor[*needyGlyph](), f.Type)
		assert.True(t, universe.IsRetryable(f.Err))
		assert.ErrorIs(t, f.Err, errBarPending)
		assert.Equal(t, value, f.Metadata["value"])
		assert.Equal(t, 3, f.Metadata["rounds"])
	}
}

func TestSplayFilter(t *testing.T) {
	s := splayGlyphs(false)
	s.Filter = func(v universe.Enumeration) bool { return v.Key() != "water" }
	mod := NewModule("glyphs", func(c *Catalog) error {
		EnumOf(c, elements("fire", "water"))
		c.Archetype(ArchetypeDescriptor{Type: reflect.TypeFor[*glyph](), Splay: s})
		return nil
	})
	_, u := load(t, DefaultSettings(), mod)
	assert.Len(t, u.Archetypes.Variants(reflect.TypeFor[*glyph]()), 1)
}

func TestLazySplayAfterSeal(t *testing.T) {
	glyphType := reflect.TypeFor[*glyph]()
	module := func(lazy bool) Module {
		return NewModule("glyphs", func(c *Catalog) error {
			EnumOf(c, elements("fire"))
			c.Archetype(ArchetypeDescriptor{Type: glyphType, Splay: splayGlyphs(lazy)})
			return nil
		})
	}
	runtime := settings(func(s *Settings) { s.AllowRuntimeTypeRegistrations = true })

	_, u := load(t, runtime, module(true))
	require.NoError(t, u.Enumerations.Register(&element{Enum: universe.NewEnum("earth")}))
	earth, ok := u.Archetypes.ByKey("loader.glyph.earth")
	require.True(t, ok)
	assert.True(t, universe.BaseOf(earth).AllowInitializationAfterSeal)
	assert.Len(t, u.Archetypes.Variants(glyphType), 2)

	_, u = load(t, runtime, module(false))
	require.NoError(t, u.Enumerations.Register(&element{Enum: universe.NewEnum("earth")}))
	assert.Len(t, u.Archetypes.Variants(glyphType), 1)

	_, u = load(t, DefaultSettings(), module(true))
	assert.ErrorIs(t, u.Enumerations.Register(&element{Enum: universe.NewEnum("earth")}), universe.ErrSealed)
}

func TestConcurrentRuntimeRegistrations(t *testing.T) {
	glyphType := reflect.TypeFor[*glyph]()
	mod := NewModule("glyphs", func(c *Catalog) error {
		EnumOf(c, elements("fire"))
		c.Archetype(ArchetypeDescriptor{Type: glyphType, Splay: splayGlyphs(true)})
		return nil
	})
	_, u := load(t, settings(func(s *Settings) { s.AllowRuntimeTypeRegistrations = true }), mod)

	const workers = 8
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("rune%d", i)
			assert.NoError(t, u.Enumerations.Register(&element{Enum: universe.NewEnum(key)}))
			_ = u.Archetypes.All()
			_, _ = u.Archetypes.ByKey("loader.glyph." + key)
			_ = u.Models.Types()
		}()
	}
	wg.Wait()

	assert.Len(t, universe.EnumValues[*element](u), workers+1)
	assert.Len(t, u.Archetypes.Variants(glyphType), workers+1)
	for i := range workers {
		_, ok := u.Archetypes.ByKey(fmt.Sprintf("loader.glyph.rune%d", i))
		assert.True(t, ok)
	}
}

func TestInitializeGuards(t *testing.T) {
	l := New(Modules(barModule("bar")))
	_, err := l.Initialize(t.Context(), nil)
	require.NoError(t, err)
	_, err = l.Initialize(t.Context(), nil)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	u := universe.New()
	require.NoError(t, u.AttachLoader(New(Modules())))
	_, err = New(Modules()).Initialize(t.Context(), u)
	assert.ErrorIs(t, err, universe.ErrLoaderAttached)

	_, err = New(nil).Initialize(t.Context(), nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestDiscoveryErrors(t *testing.T) {
	_, err := New(Modules(barModule("a"), barModule("b"))).Initialize(t.Context(), nil)
	assert.ErrorIs(t, err, ErrDuplicateType)

	twoModifiers := NewModule("mods", func(c *Catalog) error {
		noop := func(*universe.Universe) error { return nil }
		c.Modifier(ModifierDescriptor{Modify: noop})
		c.Modifier(ModifierDescriptor{Modify: noop})
		return nil
	})
	_, err = New(Modules(twoModifiers)).Initialize(t.Context(), nil)
	assert.ErrorIs(t, err, ErrSecondModifier)

	boom := errors.New("boom")
	_, err = New(Modules(NewModule("bad", func(*Catalog) error { return boom }))).Initialize(t.Context(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestLoadOrderOption(t *testing.T) {
	l := New(
		Modules(fooModule("foo.dll", barType), barModule("bar.dll")),
		WithLoadOrder([]Entry{{Priority: 1, AssemblyFileName: "foo"}, {Priority: 0, AssemblyFileName: "bar.dll"}}),
		WithSettings(settings(func(s *Settings) { s.InitializationAttempts = 0 })),
	)
	_, err := l.Initialize(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, l.Failures())
	assert.Equal(t, []reflect.Type{barType, fooType}, l.InitializedTypes())
}

func TestTracingSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := tracing.DefaultConfig()
	cfg.Enabled = true
	cfg.Writer = &buf
	provider, err := tracing.NewProvider(cfg)
	require.NoError(t, err)

	l := New(Modules(fooModule("first", barType), barModule("second")), WithTracer(provider.Tracer()))
	_, err = l.Initialize(t.Context(), nil)
	require.NoError(t, err)
	require.NoError(t, provider.Shutdown(context.Background()))

	out := buf.String()
	for _, name := range []string{tracing.SpanInitialize, tracing.SpanPass, tracing.SpanRetry, tracing.SpanTestBuild} {
		assert.Contains(t, out, name)
	}
}

func TestLoadAll(t *testing.T) {
	loaders := make([]*Loader, 3)
	for i := range loaders {
		loaders[i] = New(Modules(barModule("bar"), fooModule("foo", barType)))
	}
	universes, err := LoadAll(t.Context(), 2, loaders...)
	require.NoError(t, err)
	require.Len(t, universes, 3)

	seen := map[string]bool{}
	for i, u := range universes {
		require.NotNil(t, u)
		assert.True(t, u.IsFinished())
		assert.Same(t, loaders[i].Universe(), u)
		seen[u.ID()] = true
	}
	assert.Len(t, seen, 3)
}

func TestLoadAllReportsAbort(t *testing.T) {
	bad := New(Modules(NewModule("bad", func(*Catalog) error { return errNotYet })))
	good := New(Modules(barModule("bar")))
	_, err := LoadAll(t.Context(), 0, good, bad)
	assert.ErrorIs(t, err, errNotYet)
}
