package fetcher

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// memo caches successful loads per key. Concurrent loads of one key share a
// single call; failed loads are retried by the next caller.
type memo struct {
	values sync.Map
	group  singleflight.Group
}

func (m *memo) load(key string, fn func() (any, error)) (any, error) {
	if v, ok := m.values.Load(key); ok {
		return v, nil
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.values.Load(key); ok {
			return v, nil
		}
		v, err := fn()
		if err == nil {
			m.values.Store(key, v)
		}
		return v, err
	})
	return v, err
}
