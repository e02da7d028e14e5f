package loader

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zeusync/universe/internal/core/events/bus"
	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/observability/tracing"
	"github.com/zeusync/universe/internal/core/universe"
	"github.com/zeusync/universe/pkg/sequence"
)

var identityType = reflect.TypeFor[*universe.Identity]()

// splayer generates one archetype per enumeration value for splayed descriptors.
// During loading it queues values seen on the event bus and generates on sweep;
// after sealing it generates immediately for lazy constructors.
type splayer struct {
	l   *Loader
	sub bus.Subscription

	mu       sync.Mutex
	ctors    []*splayCtor
	seen     map[reflect.Type][]universe.Enumeration
	queue    []universe.Enumeration
	sealed   bool
	draining bool
}

type splayCtor struct {
	desc ArchetypeDescriptor
	// enumeration keys already handled
	done map[string]bool
	// values whose last attempt failed retryably, retried on the next sweep
	pending map[string]pendingValue
}

type pendingValue struct {
	value universe.Enumeration
	err   error
}

func newSplayer(l *Loader) (*splayer, error) {
	s := &splayer{
		l:    l,
		seen: make(map[reflect.Type][]universe.Enumeration),
	}
	sub, err := l.u.Events().Subscribe(universe.EventEnumerationRegistered, s.onEnumeration)
	if err != nil {
		return nil, fmt.Errorf("subscribe splayer: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (s *splayer) add(d ArchetypeDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctors = append(s.ctors, &splayCtor{desc: d, done: make(map[string]bool), pending: make(map[string]pendingValue)})
}

func (s *splayer) onEnumeration(e bus.Event) error {
	v, ok := e.Data().(universe.Enumeration)
	if !ok || reflect.TypeOf(v) == identityType {
		return nil
	}

	s.mu.Lock()
	if !s.sealed {
		t := reflect.TypeOf(v)
		s.seen[t] = append(s.seen[t], v)
		s.mu.Unlock()
		return nil
	}
	s.queue = append(s.queue, v)
	if s.draining {
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	s.mu.Unlock()

	s.drain()
	return nil
}

// drain generates for queued runtime values. Only one goroutine drains at a time;
// values registered meanwhile, including from inside a generator, join the queue.
func (s *splayer) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		s.queue = s.queue[1:]
		ctors := s.ctorsFor(reflect.TypeOf(v))
		s.mu.Unlock()

		for _, c := range ctors {
			s.generate(c, v, true)
		}
	}
}

func (s *splayer) ctorsFor(t reflect.Type) []*splayCtor {
	return sequence.From(s.ctors).Filter(func(c *splayCtor) bool { return c.desc.Splay.Enum == t }).Collect()
}

// sweep generates the variants of every registered constructor for the values
// seen so far.
func (s *splayer) sweep(ctx context.Context) int {
	s.mu.Lock()
	ctors := append([]*splayCtor(nil), s.ctors...)
	work := make(map[*splayCtor][]universe.Enumeration, len(ctors))
	for _, c := range ctors {
		work[c] = append([]universe.Enumeration(nil), s.seen[c.desc.Splay.Enum]...)
	}
	s.mu.Unlock()

	if len(ctors) == 0 {
		return 0
	}
	_, span := s.l.tracer.Start(ctx, tracing.SpanSplay)
	defer span.End()

	generated := 0
	for _, c := range ctors {
		for _, v := range work[c] {
			if s.generate(c, v, false) {
				generated++
			}
		}
	}
	span.SetAttributes(attribute.Int(tracing.AttrInitialized, generated))
	return generated
}

func (s *splayer) generate(c *splayCtor, v universe.Enumeration, runtime bool) (ok bool) {
	key := v.Key()
	if c.done[key] {
		return false
	}
	d := c.desc
	defer func() {
		if r := recover(); r != nil {
			s.fail(c, v, universe.Fatal(universe.SubjectArchetype, d.Type, fmt.Errorf("panic: %v", r)), runtime, nil)
			ok = false
		}
	}()
	if d.Splay.Filter != nil && !d.Splay.Filter(v) {
		c.done[key] = true
		return false
	}

	variant, err := s.build(c, v, runtime)
	if err != nil {
		err = universe.Classify(universe.SubjectArchetype, d.Type, err)
		// nothing retries after seal
		if runtime || universe.IsFatal(err) {
			s.fail(c, v, err, runtime, nil)
			return false
		}
		c.pending[key] = pendingValue{value: v, err: err}
		s.l.log.Debug("splayed archetype deferred", log.Type("type", d.Type), log.String("value", key), log.Error(err))
		return false
	}
	c.done[key] = true
	delete(c.pending, key)
	s.l.log.Debug("splayed archetype generated", log.String("key", variant), log.Bool("runtime", runtime))
	return true
}

// build constructs and registers the variant of c for v and returns its key.
func (s *splayer) build(c *splayCtor, v universe.Enumeration, runtime bool) (string, error) {
	d := c.desc
	a, err := d.Splay.New(v)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", universe.Fatal(universe.SubjectArchetype, d.Type, universe.ErrNoModelConstructor)
	}
	if runtime {
		universe.BaseOf(a).AllowInitializationAfterSeal = true
	}
	key := universe.KeyOf(a) + "." + v.Key()
	if err := s.l.u.Archetypes.RegisterVariant(a, key, v); err != nil {
		return "", err
	}
	if !runtime {
		s.l.registered(a, d)
	}
	return key, nil
}

func (s *splayer) fail(c *splayCtor, v universe.Enumeration, err error, runtime bool, extra map[string]any) {
	c.done[v.Key()] = true
	delete(c.pending, v.Key())
	meta := map[string]any{"value": v.Key(), "runtime": runtime}
	maps.Copy(meta, extra)
	s.l.recordFailure(universe.Failure{
		Kind:     universe.SubjectArchetype,
		Type:     c.desc.Type,
		Err:      err,
		Metadata: meta,
	})
}

// pendingCount reports the variants waiting for another sweep.
func (s *splayer) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.ctors {
		n += len(c.pending)
	}
	return n
}

// recordPending files the variants still failing once the retry rounds are over.
func (s *splayer) recordPending(rounds int) {
	s.mu.Lock()
	ctors := slices.Clone(s.ctors)
	s.mu.Unlock()

	for _, c := range ctors {
		for _, key := range slices.Sorted(maps.Keys(c.pending)) {
			p := c.pending[key]
			s.fail(c, p.value, p.err, false, map[string]any{"rounds": rounds})
		}
	}
}

// seal drops the working set. Lazy constructors survive only when runtime
// registrations are allowed.
func (s *splayer) seal(allowRuntime bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	s.seen = nil

	var kept []*splayCtor
	if allowRuntime {
		for _, c := range s.ctors {
			if c.desc.Splay.Lazy {
				kept = append(kept, c)
			}
		}
	}
	s.ctors = kept
	if len(kept) == 0 && s.sub != nil {
		_ = s.sub.Cancel()
		s.sub = nil
	}
}

// lazyCount reports how many constructors outlived the seal.
func (s *splayer) lazyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ctors)
}

func (l *Loader) sweep(ctx context.Context) {
	if n := l.splayer.sweep(ctx); n > 0 {
		l.log.Debug("splay sweep", log.Int("generated", n))
	}
}
