/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/friendsincode/snapmeta/internal/telemetry"
)

// DefaultCapacity bounds every in-process lookup cache.
const DefaultCapacity = 500

// Bounded is a fixed-capacity key/value cache. Set moves a key to the
// most-recently-used position and evicts from the least-recently-used end;
// Get never reorders. There is no time-based expiry.
//
// Resolver caches store "" as the negative value: Get reports ok=true with an
// empty value for "looked up, nothing found", and ok=false for "never asked".
type Bounded[V any] struct {
	name     string
	capacity int
	entries  *lru.Cache[string, V]
}

// NewBounded creates a cache holding at most capacity entries. A
// non-positive capacity falls back to DefaultCapacity.
func NewBounded[V any](name string, capacity int) *Bounded[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, V](capacity)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &Bounded[V]{name: name, capacity: capacity, entries: entries}
}

// Get returns the stored value without touching its recency.
func (b *Bounded[V]) Get(key string) (V, bool) {
	v, ok := b.entries.Peek(key)
	if ok {
		telemetry.CacheLookups.WithLabelValues(b.name, "hit").Inc()
	} else {
		telemetry.CacheLookups.WithLabelValues(b.name, "miss").Inc()
	}
	return v, ok
}

// Contains reports whether key is present without touching its recency.
func (b *Bounded[V]) Contains(key string) bool {
	return b.entries.Contains(key)
}

// Set inserts or overwrites key and marks it most recently used.
func (b *Bounded[V]) Set(key string, value V) {
	b.entries.Add(key, value)
}

// Len returns the number of stored entries.
func (b *Bounded[V]) Len() int {
	return b.entries.Len()
}

// Cap returns the configured capacity.
func (b *Bounded[V]) Cap() int {
	return b.capacity
}

// Keys returns keys from least to most recently used.
func (b *Bounded[V]) Keys() []string {
	return b.entries.Keys()
}

// Clear drops every entry.
func (b *Bounded[V]) Clear() {
	b.entries.Purge()
}
