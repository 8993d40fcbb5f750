// Package dispatch sends decided replies through the driver with bounded
// retry. Sends to the same contact are strictly serialized in submission
// order: the conversation surface has no message identity to reconcile
// out-of-order delivery.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Sender is the slice of the driver the dispatcher needs.
type Sender interface {
	SendText(ctx context.Context, contactRef, text string) error
}

// ExhaustedError reports a send whose retries ran out. It is recorded and
// surfaced, never escalated to process-level fatality.
type ExhaustedError struct {
	ContactRef string
	Attempts   int
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("send to %s failed after %d attempts: %v", e.ContactRef, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type Dispatcher struct {
	sender     Sender
	retryTimes int
	retryDelay time.Duration

	mu       sync.Mutex
	contacts map[string]*sync.Mutex
}

// New creates a Dispatcher performing up to retryTimes additional attempts
// after a failed send, separated by the fixed retryDelay. A fixed delay is a
// deliberate simplicity choice for a low-volume, human-paced channel.
func New(sender Sender, retryTimes int, retryDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		retryTimes: retryTimes,
		retryDelay: retryDelay,
		contacts:   make(map[string]*sync.Mutex),
	}
}

// Send delivers text to contactRef, retrying driver failures up to the
// configured bound. The per-contact lock is held across the whole attempt
// sequence so a later send for the same contact cannot start while an
// earlier one is still in flight.
func (d *Dispatcher) Send(ctx context.Context, contactRef, text string) error {
	if contactRef == "" {
		return fmt.Errorf("contact reference is required")
	}

	lock := d.contactLock(contactRef)
	lock.Lock()
	defer lock.Unlock()

	attempts := d.retryTimes + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.Printf("[dispatch] retry %d/%d for %s", attempt-1, d.retryTimes, contactRef)
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return &ExhaustedError{ContactRef: contactRef, Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		if err := d.sender.SendText(ctx, contactRef, text); err != nil {
			lastErr = err
			log.Printf("[dispatch] send to %s failed (attempt %d/%d): %v", contactRef, attempt, attempts, err)
			continue
		}
		return nil
	}

	return &ExhaustedError{ContactRef: contactRef, Attempts: attempts, Err: lastErr}
}

func (d *Dispatcher) contactLock(contactRef string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock := d.contacts[contactRef]
	if lock == nil {
		lock = &sync.Mutex{}
		d.contacts[contactRef] = lock
	}
	return lock
}
