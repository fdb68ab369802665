/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage holds the artwork directory and its optional object
// storage mirror.
package storage

import (
	"context"
	"errors"
	"strings"
)

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

var (
	// ErrInvalidKey is returned for keys that are empty or escape the store.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// ValidKey reports whether key names a single flat object.
func ValidKey(key string) bool {
	if key == "" || key == "." || strings.Contains(key, "..") {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}
