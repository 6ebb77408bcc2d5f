package parser

import (
	"context"
	"sync"
)

// Future is the eventual Output of a deferred tag handler.
type Future struct {
	once sync.Once
	done chan struct{}
	out  Output
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future that already holds out.
func Resolved(out Output) *Future {
	f := NewFuture()
	f.Resolve(out)
	return f
}

// Failed returns a Future that already holds err.
func Failed(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve sets the value. Only the first Resolve or Reject has any effect.
func (f *Future) Resolve(out Output) {
	f.once.Do(func() {
		f.out = out
		close(f.done)
	})
}

// Reject completes the future with an error.
func (f *Future) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the value is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Output returns the value. It must only be called after Done is closed.
func (f *Future) Output() (Output, error) {
	return f.out, f.err
}

// Wait blocks until the future completes or ctx ends.
func (f *Future) Wait(ctx context.Context) (Output, error) {
	select {
	case <-f.done:
		return f.out, f.err
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}
