package loader

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/observability/tracing"
	"github.com/zeusync/universe/internal/core/universe"
)

// task is one construction attempt for a declared type.
type task struct {
	subject universe.Subject
	typ     reflect.Type
	module  string
	deps    []reflect.Type
	bases   []reflect.Type
	run     func() error
	lastErr error
}

// retry order of deferred types
var retryRank = map[universe.Subject]int{
	universe.SubjectEnumeration: 0,
	universe.SubjectModel:       1,
	universe.SubjectArchetype:   2,
	universe.SubjectComponent:   3,
}

func (l *Loader) firstPass(ctx context.Context) error {
	for _, m := range l.modules {
		_, span := l.tracer.Start(ctx, tracing.SpanPass, trace.WithAttributes(
			attribute.String(tracing.AttrModule, m.module.Name()),
		))
		err := l.runAll(l.moduleTasks(m))
		span.SetAttributes(attribute.Int(tracing.AttrDeferred, len(l.deferred)))
		span.End()
		if err != nil {
			return err
		}
		l.sweep(ctx)
	}
	return nil
}

// moduleTasks lists the tasks of a module in first-pass order: enumerations,
// components, simple models, archetypes, remaining models.
func (l *Loader) moduleTasks(m *moduleState) []*task {
	c := m.catalog
	name := m.module.Name()
	var tasks []*task
	for _, d := range c.enums {
		tasks = append(tasks, l.enumTask(name, d))
	}
	for _, d := range c.components {
		tasks = append(tasks, l.componentTask(name, d))
	}
	for _, d := range c.models {
		if d.simple() {
			tasks = append(tasks, l.modelTask(name, d))
		}
	}
	for _, d := range c.archetypes {
		tasks = append(tasks, l.archetypeTask(name, d))
	}
	for _, d := range c.models {
		if !d.simple() {
			tasks = append(tasks, l.modelTask(name, d))
		}
	}
	return tasks
}

func (l *Loader) runAll(tasks []*task) error {
	for _, t := range tasks {
		if err := l.try(t); err != nil {
			return err
		}
	}
	return nil
}

// try attempts t and files the outcome. It returns an error only when the run
// must abort.
func (l *Loader) try(t *task) error {
	err := l.attempt(t)
	switch {
	case err == nil:
		l.markInitialized(t.typ)
		l.undefer(t)
		l.log.Debug("type initialized", log.Stringer("subject", t.subject), log.Type("type", t.typ))
		return nil
	case universe.IsFatal(err):
		l.undefer(t)
		f := universe.Failure{Kind: t.subject, Type: t.typ, Err: err, Metadata: map[string]any{"module": t.module}}
		l.recordFailure(f)
		if l.settings.FatalOnCannotInitializeType {
			return fmt.Errorf("loader: %w", f)
		}
		return nil
	default:
		t.lastErr = err
		if !slices.Contains(l.deferred, t) {
			l.deferred = append(l.deferred, t)
		}
		l.log.Debug("type deferred", log.Stringer("subject", t.subject), log.Type("type", t.typ), log.Error(err))
		return nil
	}
}

func (l *Loader) attempt(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = universe.Fatal(t.subject, t.typ, fmt.Errorf("panic: %v", r))
		}
	}()

	if missing := l.missing(t.deps); len(missing) > 0 {
		return &universe.MissingDependencyError{Subject: t.subject, Type: t.typ, Missing: missing}
	}
	if err := l.runHooks(t); err != nil {
		return universe.Classify(t.subject, t.typ, fmt.Errorf("register hook: %w", err))
	}
	return universe.Classify(t.subject, t.typ, t.run())
}

func (l *Loader) missing(deps []reflect.Type) []reflect.Type {
	var out []reflect.Type
	for _, d := range deps {
		if !l.initialized[d] {
			out = append(out, d)
		}
	}
	return out
}

// runHooks runs the hooks of t's bases and then t's own, each once per run.
func (l *Loader) runHooks(t *task) error {
	for _, typ := range append(slices.Clone(t.bases), t.typ) {
		if l.visited[typ] {
			continue
		}
		if fn, ok := l.hooks[typ]; ok {
			if err := fn(l.u); err != nil {
				return fmt.Errorf("%s: %w", typ, err)
			}
		}
		l.visited[typ] = true
	}
	return nil
}

func (l *Loader) undefer(t *task) {
	if i := slices.Index(l.deferred, t); i >= 0 {
		l.deferred = slices.Delete(l.deferred, i, i+1)
	}
}

// retry re-attempts deferred types for up to InitializationAttempts rounds.
func (l *Loader) retry(ctx context.Context) error {
	for round := 1; round <= l.settings.InitializationAttempts && l.pending() > 0; round++ {
		_, span := l.tracer.Start(ctx, tracing.SpanRetry, trace.WithAttributes(
			attribute.Int(tracing.AttrRound, round),
			attribute.Int(tracing.AttrDeferred, len(l.deferred)),
		))
		batch := slices.Clone(l.deferred)
		slices.SortStableFunc(batch, func(a, b *task) int {
			return retryRank[a.subject] - retryRank[b.subject]
		})
		err := l.runAll(batch)
		span.End()
		if err != nil {
			return err
		}
		l.sweep(ctx)
		l.log.Debug("retry round done", log.Int("round", round), log.Int("deferred", len(l.deferred)))
	}
	return nil
}

// pending counts deferred types plus splayed variants waiting for a retry.
func (l *Loader) pending() int {
	return len(l.deferred) + l.splayer.pendingCount()
}

// recordDeferred files every type still deferred after the last round.
func (l *Loader) recordDeferred() {
	for _, t := range l.deferred {
		l.recordFailure(universe.Failure{
			Kind:     t.subject,
			Type:     t.typ,
			Err:      t.lastErr,
			Metadata: map[string]any{"module": t.module, "rounds": l.settings.InitializationAttempts},
		})
	}
	l.deferred = nil
	l.splayer.recordPending(l.settings.InitializationAttempts)
}

func (l *Loader) enumTask(module string, d EnumDescriptor) *task {
	t := &task{subject: universe.SubjectEnumeration, typ: d.Type, module: module, deps: d.Dependencies}
	t.run = func() error {
		values, err := d.Values(l.u)
		if err != nil {
			return err
		}
		for _, v := range values {
			if reflect.TypeOf(v) != d.Type {
				return universe.Fatal(t.subject, t.typ, fmt.Errorf("value %q has type %T", v.Key(), v))
			}
			// values registered by an earlier partial attempt stay
			if _, ok := l.u.Enumerations.Get(d.Type, v.Key()); ok {
				continue
			}
			if err := l.u.Enumerations.Register(v); err != nil {
				return err
			}
		}
		return nil
	}
	return t
}

func (l *Loader) componentTask(module string, d ComponentDescriptor) *task {
	t := &task{subject: universe.SubjectComponent, typ: d.Type, module: module, deps: d.Dependencies, bases: d.Bases}
	t.run = func() error {
		f, err := l.u.Components.Register(d.Type, d.New)
		if err != nil {
			if errors.Is(err, universe.ErrNoModelConstructor) {
				return universe.Fatal(t.subject, t.typ, err)
			}
			return err
		}
		for _, c := range d.Contracts {
			var cerr error
			switch _, _, exists := l.u.Contracts.Lookup(f.Kind(), c.With); {
			case exists:
				cerr = universe.ErrAlreadyRegistered
			case c.With == f.Kind():
				cerr = universe.ErrKindMismatch
			case c.Transform == nil:
				cerr = errors.New("nil transform")
			}
			if cerr != nil {
				_ = l.u.Components.Unregister(d.Type)
				return universe.Fatal(t.subject, t.typ, fmt.Errorf("contract with %s: %w", c.With, cerr))
			}
		}
		for _, c := range d.Contracts {
			if err := l.u.Contracts.Register(f.Kind(), c.With, c.Transform); err != nil {
				_ = l.u.Components.Unregister(d.Type)
				return universe.Fatal(t.subject, t.typ, err)
			}
		}
		for k, v := range d.Defaults {
			f.SetDefault(k, v)
		}
		return nil
	}
	return t
}

func (l *Loader) modelTask(module string, d ModelDescriptor) *task {
	t := &task{subject: universe.SubjectModel, typ: d.Type, module: module, deps: d.Dependencies}
	t.run = func() error {
		if l.u.Models.Has(d.Type) {
			// registered by its archetype
			return nil
		}
		if d.simple() {
			return l.u.Models.Register(d.Type, universe.NewDefaultFactory(l.u, d.Type, d.New))
		}
		a, ok := l.u.Archetypes.Get(d.Archetype)
		if !ok {
			return &universe.MissingDependencyError{Subject: t.subject, Type: t.typ, Missing: []reflect.Type{d.Archetype}}
		}
		return l.u.Models.Register(d.Type, a)
	}
	return t
}

func (l *Loader) archetypeTask(module string, d ArchetypeDescriptor) *task {
	t := &task{subject: universe.SubjectArchetype, typ: d.Type, module: module, deps: d.Dependencies, bases: d.Bases}
	if d.Splay != nil {
		t.run = func() error {
			l.splayer.add(d)
			return nil
		}
		return t
	}
	t.run = func() error {
		a := d.New()
		if a == nil {
			return universe.Fatal(t.subject, t.typ, universe.ErrNoModelConstructor)
		}
		if got := reflect.TypeOf(a); got != d.Type {
			return universe.Fatal(t.subject, t.typ, fmt.Errorf("constructor returned %s", got))
		}
		if err := l.u.Archetypes.Register(a); err != nil {
			return err
		}
		l.registered(a, d)
		return nil
	}
	return t
}

// registered indexes a freshly registered archetype for model lookup and test builds.
func (l *Loader) registered(a universe.Archetype, d ArchetypeDescriptor) {
	if mt := a.ModelType(); mt != nil && !l.u.Models.Has(mt) && !l.u.IsFinished() {
		if err := l.u.Models.Register(mt, a); err != nil {
			l.log.Warn("model registration failed", log.Type("model", mt), log.Error(err))
		}
	}
	if !d.DoNotAutoBuild {
		l.autoBuild = append(l.autoBuild, a)
	}
}
