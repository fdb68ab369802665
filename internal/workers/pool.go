/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package workers runs blocking I/O on a bounded goroutine pool so the poll
// loop and websocket sessions never block on the network directly.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// Pool is a bounded pool whose submissions are awaited by the caller.
type Pool struct {
	pool   *ants.Pool
	logger zerolog.Logger
}

// New creates a pool running at most size tasks at once.
func New(size int, logger zerolog.Logger) (*Pool, error) {
	logger = logger.With().Str("component", "workers").Logger()
	p, err := ants.NewPool(size,
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(v any) {
			logger.Error().Interface("panic", v).Msg("worker panic")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{pool: p, logger: logger}, nil
}

// Do runs fn on the pool and waits for it. If ctx ends first Do returns
// ctx.Err(); fn keeps running to completion with the same ctx.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := p.pool.Submit(func() {
		defer func() {
			if v := recover(); v != nil {
				p.logger.Error().Interface("panic", v).Msg("task panic")
				done <- fmt.Errorf("workers: task panicked: %v", v)
			}
		}()
		done <- fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on p and returns its result.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap returns the pool size.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Close releases the pool. Pending Do calls fail afterwards.
func (p *Pool) Close() {
	p.pool.Release()
}
