package data

import (
	"slices"
	"sync"
)

// DataContext provides fetched service documents to rules.
type DataContext interface {
	Get(key DependencyKey) (any, bool)
}

// MapDataContext serves documents from a map. A nil map is an empty context;
// the map is never written.
type MapDataContext struct {
	docs map[DependencyKey]any
}

func NewMapDataContext(docs map[DependencyKey]any) *MapDataContext {
	return &MapDataContext{docs: docs}
}

func (c *MapDataContext) Get(key DependencyKey) (any, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.docs[key]
	return val, ok
}

// TrackingDataContext records every key read through it, found or not, so
// the engine can reject rules that read documents they never declared.
type TrackingDataContext struct {
	inner DataContext

	mu   sync.Mutex
	read map[DependencyKey]bool
}

func NewTrackingDataContext(inner DataContext) *TrackingDataContext {
	return &TrackingDataContext{inner: inner, read: make(map[DependencyKey]bool)}
}

func (c *TrackingDataContext) Get(key DependencyKey) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	c.read[key] = true
	c.mu.Unlock()
	if c.inner == nil {
		return nil, false
	}
	return c.inner.Get(key)
}

// AccessedKeys returns the keys read so far, sorted.
func (c *TrackingDataContext) AccessedKeys() []DependencyKey {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]DependencyKey, 0, len(c.read))
	for k := range c.read {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Undeclared returns the keys read that are neither in declared nor
// Implicit, sorted.
func (c *TrackingDataContext) Undeclared(declared []DependencyKey) []DependencyKey {
	var out []DependencyKey
	for _, k := range c.AccessedKeys() {
		if Implicit(k) || slices.Contains(declared, k) {
			continue
		}
		out = append(out, k)
	}
	return out
}
