// Copyright 2025 Gosayram Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package async provides a minimal future type used to compose non-blocking
// authentication and validation stages.
package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var errNilFuture = errors.New("async: continuation returned nil future")

// PanicError is the failure a future completes with when its function panics
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Future is the eventual result of an asynchronous computation.
// A future completes exactly once, either with a value or with an error.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Go runs fn in a new goroutine and returns a future for its result.
// A panic inside fn completes the future with a *PanicError.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		var (
			value T
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.complete(zero, &PanicError{Value: r, Stack: debug.Stack()})
				return
			}
			f.complete(value, err)
		}()
		value, err = fn()
	}()
	return f
}

// Completed returns a future already completed with value
func Completed[T any](value T) *Future[T] {
	f := newFuture[T]()
	f.complete(value, nil)
	return f
}

// Failed returns a future already completed with err
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// Then chains fn onto the success path of f. When f fails, fn is never
// invoked and the returned future fails with the same error.
func Then[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	return Go(func() (U, error) {
		value, err := f.Result()
		if err != nil {
			var zero U
			return zero, err
		}
		next := fn(value)
		if next == nil {
			var zero U
			return zero, errNilFuture
		}
		return next.Result()
	})
}

// Done returns a channel closed once the future has completed
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future completes and returns its outcome
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await waits for completion or for ctx to be done, whichever happens first.
// Cancelling ctx does not cancel the underlying computation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run once the future completes.
// fn runs on its own goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
}
