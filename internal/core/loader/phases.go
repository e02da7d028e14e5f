package loader

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/observability/tracing"
	"github.com/zeusync/universe/internal/core/universe"
)

// testBuild builds one example model per auto-built archetype. Archetypes that
// keep failing are unloaded and recorded.
func (l *Loader) testBuild(ctx context.Context) error {
	if l.settings.ModelTestBuildAttempts == 0 {
		l.autoBuild = nil
		return nil
	}
	pending := make([]universe.Archetype, 0, len(l.autoBuild))
	for _, a := range l.autoBuild {
		if l.u.Archetypes.Contains(a) {
			pending = append(pending, a)
		}
	}
	l.autoBuild = nil

	lastErr := make(map[universe.Archetype]error)
	for round := 1; round <= l.settings.ModelTestBuildAttempts && len(pending) > 0; round++ {
		_, span := l.tracer.Start(ctx, tracing.SpanTestBuild, trace.WithAttributes(
			attribute.Int(tracing.AttrRound, round),
			attribute.Int(tracing.AttrDeferred, len(pending)),
		))
		var next []universe.Archetype
		for _, a := range pending {
			m, err := l.buildExample(a)
			switch {
			case err == nil:
				l.u.Examples().Set(a.Id().Key(), m)
				delete(lastErr, a)
			case universe.IsFatal(err):
				if abort := l.dropArchetype(a, err); abort != nil {
					span.End()
					return abort
				}
				delete(lastErr, a)
			default:
				lastErr[a] = err
				next = append(next, a)
			}
		}
		span.End()
		pending = next
	}

	for _, a := range pending {
		if abort := l.dropArchetype(a, lastErr[a]); abort != nil {
			return abort
		}
	}
	return nil
}

func (l *Loader) buildExample(a universe.Archetype) (_ universe.Model, err error) {
	t := reflect.TypeOf(a)
	defer func() {
		if r := recover(); r != nil {
			err = universe.Fatal(universe.SubjectArchetype, t, fmt.Errorf("panic during test build: %v", r))
		}
	}()
	m, err := universe.NewBuilder(a, universe.TestParams(a)).Make()
	if err != nil {
		return nil, universe.Classify(universe.SubjectArchetype, t, err)
	}
	return m, nil
}

// dropArchetype unloads an archetype whose test build failed for good.
func (l *Loader) dropArchetype(a universe.Archetype, cause error) error {
	t := reflect.TypeOf(a)
	key := a.Id().Key()
	if err := l.u.Archetypes.Unload(a); err != nil {
		l.log.Warn("unload after failed test build", log.String("key", key), log.Error(err))
	}
	if _, singleton := l.u.Archetypes.Get(t); !singleton && len(l.u.Archetypes.Variants(t)) == 0 {
		l.forgetInitialized(t)
	}
	f := universe.Failure{
		Kind:     universe.SubjectArchetype,
		Type:     t,
		Err:      cause,
		Metadata: map[string]any{"key": key, "stage": "test build"},
	}
	l.recordFailure(f)
	if l.settings.FatalOnCannotInitializeType && universe.IsFatal(cause) {
		return fmt.Errorf("loader: %w", f)
	}
	return nil
}

// modify runs each module's modifier in load order.
func (l *Loader) modify(ctx context.Context) error {
	for _, m := range l.modules {
		mod := m.catalog.modifier
		if mod == nil {
			continue
		}
		_, span := l.tracer.Start(ctx, tracing.SpanModify, trace.WithAttributes(
			attribute.String(tracing.AttrModule, m.module.Name()),
		))
		err := l.runModifier(mod)
		span.End()
		if err == nil {
			continue
		}
		f := universe.Failure{
			Kind:     universe.SubjectModifier,
			Type:     mod.Type,
			Err:      err,
			Metadata: map[string]any{"module": m.module.Name()},
		}
		l.recordFailure(f)
		if l.settings.FatalOnCannotInitializeType && universe.IsFatal(err) {
			return fmt.Errorf("loader: %w", f)
		}
	}
	return nil
}

func (l *Loader) runModifier(mod *ModifierDescriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = universe.Fatal(universe.SubjectModifier, mod.Type, fmt.Errorf("panic: %v", r))
		}
	}()
	return universe.Classify(universe.SubjectModifier, mod.Type, mod.Modify(l.u))
}

// finish calls Finish on every Finisher archetype: one attempt, then up to
// FinalizationAttempts retries for retryable errors.
func (l *Loader) finish(ctx context.Context) error {
	pending := l.u.Archetypes.Snapshot().Filter(func(a universe.Archetype) bool {
		_, ok := a.(universe.Finisher)
		return ok
	}).Collect()

	lastErr := make(map[universe.Archetype]error)
	for round := 0; round <= l.settings.FinalizationAttempts && len(pending) > 0; round++ {
		_, span := l.tracer.Start(ctx, tracing.SpanFinish, trace.WithAttributes(
			attribute.Int(tracing.AttrRound, round),
		))
		var next []universe.Archetype
		for _, a := range pending {
			err := l.runFinish(a)
			switch {
			case err == nil:
				delete(lastErr, a)
			case universe.IsFatal(err):
				delete(lastErr, a)
				if abort := l.finishFailed(a, err); abort != nil {
					span.End()
					return abort
				}
			default:
				lastErr[a] = err
				next = append(next, a)
			}
		}
		span.End()
		pending = next
	}

	for _, a := range pending {
		if abort := l.finishFailed(a, lastErr[a]); abort != nil {
			return abort
		}
	}
	return nil
}

func (l *Loader) runFinish(a universe.Archetype) (err error) {
	t := reflect.TypeOf(a)
	defer func() {
		if r := recover(); r != nil {
			err = universe.Fatal(universe.SubjectArchetype, t, fmt.Errorf("panic in finish: %v", r))
		}
	}()
	return universe.Classify(universe.SubjectArchetype, t, a.(universe.Finisher).Finish())
}

func (l *Loader) finishFailed(a universe.Archetype, err error) error {
	f := universe.Failure{
		Kind:     universe.SubjectArchetype,
		Type:     reflect.TypeOf(a),
		Err:      err,
		Metadata: map[string]any{"key": a.Id().Key(), "stage": "finish"},
	}
	l.recordFailure(f)
	if l.settings.FatalOnCannotInitializeType && universe.IsFatal(err) {
		return fmt.Errorf("loader: %w", f)
	}
	return nil
}

// seal finishes the run and locks the universe.
func (l *Loader) seal() error {
	if err := l.u.Seal(l, l.settings.AllowRuntimeTypeRegistrations); err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	l.splayer.seal(l.settings.AllowRuntimeTypeRegistrations)

	l.mu.Lock()
	l.finished = true
	failures := len(l.failures)
	l.mu.Unlock()

	l.deferred = nil
	l.hooks = nil
	l.visited = nil
	l.autoBuild = nil
	for _, m := range l.modules {
		m.catalog = &Catalog{module: m.catalog.module}
	}

	l.log.Info("universe sealed",
		log.Int("archetypes", l.u.Archetypes.Len()),
		log.Int("initialized", len(l.initializedOrder)),
		log.Int("failures", failures),
		log.Int("lazy_splays", l.splayer.lazyCount()),
	)
	if failures > 0 && l.settings.FatalDuringFinalizationOnCouldNotInitializeTypes {
		return fmt.Errorf("%w: %d failures", ErrFailuresRemain, failures)
	}
	return nil
}
