package loader

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/observability/tracing"
	"github.com/zeusync/universe/internal/core/universe"
)

var (
	ErrAlreadyInitialized = errors.New("loader already ran")
	ErrNoSource           = errors.New("loader has no module source")
	// ErrFailuresRemain is returned when FatalDuringFinalizationOnCouldNotInitializeTypes
	// is set and the run recorded failures.
	ErrFailuresRemain = errors.New("types could not be initialized")
)

var _ universe.LoaderState = (*Loader)(nil)

// Loader fills one Universe from a module source and seals it.
type Loader struct {
	source   ModuleSource
	settings Settings
	order    []Entry
	log      log.Log
	tracer   trace.Tracer

	u       *universe.Universe
	modules []*moduleState

	initialized      map[reflect.Type]bool
	initializedOrder []reflect.Type
	deferred         []*task
	hooks            map[reflect.Type]Hook
	visited          map[reflect.Type]bool
	autoBuild        []universe.Archetype
	splayer          *splayer

	// guards failures and finished, which the runtime splay path touches after seal
	mu       sync.RWMutex
	failures []universe.Failure
	finished bool
}

type moduleState struct {
	module  Module
	catalog *Catalog
}

type Option func(*Loader)

func WithSettings(s Settings) Option {
	return func(l *Loader) {
		l.settings = s
	}
}

func WithLogger(logger log.Log) Option {
	return func(l *Loader) {
		if logger != nil {
			l.log = logger
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(l *Loader) {
		if t != nil {
			l.tracer = t
		}
	}
}

// WithLoadOrder sorts discovered modules by entries.
func WithLoadOrder(entries []Entry) Option {
	return func(l *Loader) {
		l.order = entries
	}
}

func New(source ModuleSource, opts ...Option) *Loader {
	l := &Loader{
		source:   source,
		settings: DefaultSettings(),
		log:      log.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("universe/loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("loader")
	return l
}

func (l *Loader) Settings() Settings { return l.settings }

// Universe returns the universe of the run, or nil before Initialize.
func (l *Loader) Universe() *universe.Universe { return l.u }

func (l *Loader) IsFinished() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.finished
}

// Failures returns the recorded failures in recording order.
func (l *Loader) Failures() []universe.Failure {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]universe.Failure(nil), l.failures...)
}

// InitializedTypes returns every type that initialized, in success order.
func (l *Loader) InitializedTypes() []reflect.Type {
	return append([]reflect.Type(nil), l.initializedOrder...)
}

// Initialize runs the whole load into u, creating a Universe when u is nil. Per-type
// failures are recorded, not returned; the error reports aborted runs.
func (l *Loader) Initialize(ctx context.Context, u *universe.Universe) (_ *universe.Universe, err error) {
	if l.u != nil {
		return nil, ErrAlreadyInitialized
	}
	if l.source == nil {
		return nil, ErrNoSource
	}
	if err := l.settings.Validate(); err != nil {
		return nil, err
	}
	if u == nil {
		u = universe.New(universe.WithLogger(l.log))
	}
	if err := u.AttachLoader(l); err != nil {
		return nil, err
	}
	l.u = u
	l.initialized = make(map[reflect.Type]bool)
	l.hooks = make(map[reflect.Type]Hook)
	l.visited = make(map[reflect.Type]bool)
	l.log = l.log.With(log.String("universe", u.Name()))

	ctx, span := l.tracer.Start(ctx, tracing.SpanInitialize, trace.WithAttributes(
		attribute.String(tracing.AttrUniverse, u.ID()),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int(tracing.AttrFailures, len(l.failures)),
			attribute.Int(tracing.AttrInitialized, len(l.initializedOrder)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	splay, err := newSplayer(l)
	if err != nil {
		return nil, err
	}
	l.splayer = splay

	if err := l.discover(ctx); err != nil {
		return nil, err
	}
	if err := l.firstPass(ctx); err != nil {
		return nil, err
	}
	if err := l.retry(ctx); err != nil {
		return nil, err
	}
	l.sweep(ctx)
	l.recordDeferred()

	if err := l.testBuild(ctx); err != nil {
		return nil, err
	}
	if err := l.modify(ctx); err != nil {
		return nil, err
	}
	if err := l.finish(ctx); err != nil {
		return nil, err
	}
	return u, l.seal()
}

func (l *Loader) discover(ctx context.Context) error {
	modules, err := l.source.Modules(ctx)
	if err != nil {
		return fmt.Errorf("discover modules: %w", err)
	}
	if len(l.order) > 0 {
		modules = SortModules(modules, l.order)
	}

	declared := make(map[reflect.Type]string)
	for _, m := range modules {
		c := newCatalog(m.Name())
		if err := m.Classify(c); err != nil {
			return fmt.Errorf("classify module %s: %w", m.Name(), err)
		}
		if err := c.Err(); err != nil {
			return fmt.Errorf("classify module %s: %w", m.Name(), err)
		}
		for t := range c.seen {
			if other, ok := declared[t]; ok {
				return fmt.Errorf("classify module %s: %s already declared by %s: %w", m.Name(), t, other, ErrDuplicateType)
			}
			declared[t] = m.Name()
		}
		for t, fn := range c.hooks {
			l.hooks[t] = fn
		}
		if err := l.declareDependencies(c); err != nil {
			return err
		}
		l.modules = append(l.modules, &moduleState{module: m, catalog: c})
	}

	names := make([]string, len(l.modules))
	for i, m := range l.modules {
		names[i] = m.module.Name()
	}
	l.log.Info("modules discovered", log.Strings("modules", names))
	return nil
}

func (l *Loader) declareDependencies(c *Catalog) error {
	declare := func(subject universe.Subject, t reflect.Type, deps []reflect.Type) error {
		if len(deps) == 0 {
			return nil
		}
		return l.u.DeclareDependencies(subject, t, deps...)
	}
	var errs []error
	for _, d := range c.enums {
		errs = append(errs, declare(universe.SubjectEnumeration, d.Type, d.Dependencies))
	}
	for _, d := range c.components {
		errs = append(errs, declare(universe.SubjectComponent, d.Type, d.Dependencies))
	}
	for _, d := range c.models {
		errs = append(errs, declare(universe.SubjectModel, d.Type, d.Dependencies))
	}
	for _, d := range c.archetypes {
		errs = append(errs, declare(universe.SubjectArchetype, d.Type, d.Dependencies))
	}
	return errors.Join(errs...)
}

func (l *Loader) recordFailure(f universe.Failure) {
	l.mu.Lock()
	l.failures = append(l.failures, f)
	l.mu.Unlock()
	l.log.Warn("type failed",
		log.Stringer("subject", f.Kind),
		log.Type("type", f.Type),
		log.Error(f.Err),
	)
}

func (l *Loader) markInitialized(t reflect.Type) {
	if l.initialized[t] {
		return
	}
	l.initialized[t] = true
	l.initializedOrder = append(l.initializedOrder, t)
}

func (l *Loader) forgetInitialized(t reflect.Type) {
	if !l.initialized[t] {
		return
	}
	delete(l.initialized, t)
	for i, other := range l.initializedOrder {
		if other == t {
			l.initializedOrder = append(l.initializedOrder[:i:i], l.initializedOrder[i+1:]...)
			break
		}
	}
}
