// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wait provides a value which is published once and awaited by many.
package wait

import (
	"context"
	"sync"
)

// Value is published once with Set, later calls to Set are ignored.
//
// The zero value is ready to use.
//
//nolint:govet
type Value[T any] struct {
	init  sync.Once
	set   sync.Once
	ready chan struct{}
	value T
}

func (wv *Value[T]) done() chan struct{} {
	wv.init.Do(func() { wv.ready = make(chan struct{}) })

	return wv.ready
}

// Set publishes the value and unblocks waiters.
func (wv *Value[T]) Set(value T) {
	ready := wv.done()

	wv.set.Do(func() {
		wv.value = value

		close(ready)
	})
}

// Get blocks until the value is published or ctx is done.
func (wv *Value[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	case <-wv.done():
		return wv.value, nil
	}
}

// TryGet returns the value if it was published.
func (wv *Value[T]) TryGet() (T, bool) {
	select {
	case <-wv.done():
		return wv.value, true
	default:
		var zero T

		return zero, false
	}
}
