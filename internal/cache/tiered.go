/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import "context"

// Lookup is a read-through string cache: the bounded local tier first, then
// the shared tier when one is configured. Shared hits are copied locally.
type Lookup struct {
	kind   string
	local  *Bounded[string]
	shared *Shared
}

// NewLookup creates a lookup cache. shared may be nil.
func NewLookup(kind string, capacity int, shared *Shared) *Lookup {
	return &Lookup{
		kind:   kind,
		local:  NewBounded[string](kind, capacity),
		shared: shared,
	}
}

// Get returns the cached value; ok=false means never resolved.
func (l *Lookup) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := l.local.Get(key); ok {
		return v, true
	}
	if v, ok := l.shared.Get(ctx, l.kind, key); ok {
		l.local.Set(key, v)
		return v, true
	}
	return "", false
}

// Set records a resolved value; "" records a negative result.
func (l *Lookup) Set(ctx context.Context, key, value string) {
	l.local.Set(key, value)
	l.shared.Set(ctx, l.kind, key, value)
}

// Len reports the local tier size.
func (l *Lookup) Len() int {
	return l.local.Len()
}
