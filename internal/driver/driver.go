package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/stellarlinkco/shopclerk/internal/event"
)

// Driver is the capability contract for the conversation surface. The engine
// depends on nothing beyond it.
type Driver interface {
	// Open establishes the surface (authentication, polling setup).
	Open(ctx context.Context) error
	// FetchNewRawEvents returns events that arrived since the last call.
	FetchNewRawEvents(ctx context.Context) ([]event.RawEvent, error)
	// FetchHistory returns up to limit past events for one contact, ordered
	// by the surface itself.
	FetchHistory(ctx context.Context, contactRef string, limit int) ([]event.RawEvent, error)
	// SendText delivers a single text message.
	SendText(ctx context.Context, contactRef, text string) error
	// Close releases the surface.
	Close() error
}

// Error marks a transient driver-level failure. Callers retry or tolerate it
// depending on which path they are on; it never tears the engine down.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Serialized wraps a Driver so every call into the underlying surface goes
// through one critical section. The surface is a single, non-parallelizable
// resource: poller ticks, dispatcher sends and history fetches originate on
// different goroutines but must not interleave at the driver level.
type Serialized struct {
	mu    sync.Mutex
	inner Driver
}

func NewSerialized(inner Driver) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Open(ctx)
}

func (s *Serialized) FetchNewRawEvents(ctx context.Context) ([]event.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FetchNewRawEvents(ctx)
}

func (s *Serialized) FetchHistory(ctx context.Context, contactRef string, limit int) ([]event.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.FetchHistory(ctx, contactRef, limit)
}

func (s *Serialized) SendText(ctx context.Context, contactRef, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SendText(ctx, contactRef, text)
}

func (s *Serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}
