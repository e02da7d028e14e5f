package universe

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultExampleExpiration is how long an example model stays cached.
const DefaultExampleExpiration = 10 * time.Minute

// Examples caches example models by archetype key. The loader fills it with
// test-build results; the cache is flushed on seal.
type Examples struct {
	cache *gocache.Cache
}

func newExamples(expiration time.Duration) *Examples {
	return &Examples{cache: gocache.New(expiration, 0)}
}

func (e *Examples) Get(key string) (Model, bool) {
	v, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(Model)
	return m, ok
}

func (e *Examples) Set(key string, m Model) {
	e.cache.SetDefault(key, m)
}

func (e *Examples) Delete(key string) {
	e.cache.Delete(key)
}

func (e *Examples) Flush() {
	e.cache.Flush()
}

func (e *Examples) Len() int {
	return e.cache.ItemCount()
}
