// Package dedup decides whether an incoming event has already been processed
// for a contact. Fingerprints live in a bounded per-contact window; eviction
// is FIFO/time-based because re-delivery of very old events is assumed
// impossible once evicted.
package dedup

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/stellarlinkco/shopclerk/internal/event"
)

// FingerprintFunc derives the dedup key for an event. The second return is
// false when no usable fingerprint can be computed.
type FingerprintFunc func(contactRef string, ev event.Event) (string, bool)

// DefaultFingerprint uses the event id when the surface supplies a stable
// one, otherwise a composite of contact, text and the timestamp truncated to
// one second (the surface's minimum resolution).
func DefaultFingerprint(contactRef string, ev event.Event) (string, bool) {
	if ev.ID != "" {
		return ev.ID, true
	}
	if ev.OccurredAt.IsZero() {
		return "", false
	}
	ts := strconv.FormatInt(ev.OccurredAt.Truncate(time.Second).Unix(), 10)
	return contactRef + "\x1f" + ev.Text + "\x1f" + ts, true
}

type entry struct {
	fp     string
	seenAt time.Time
}

type contactWindow struct {
	order []entry // FIFO, oldest first
	index map[string]time.Time
}

type Deduplicator struct {
	mu          sync.Mutex
	window      int
	horizon     time.Duration
	fingerprint FingerprintFunc
	contacts    map[string]*contactWindow
	now         func() time.Time
}

// New creates a Deduplicator retaining at most window fingerprints per
// contact, each recognizable for horizon.
func New(window int, horizon time.Duration) *Deduplicator {
	return NewWithFingerprint(window, horizon, DefaultFingerprint)
}

func NewWithFingerprint(window int, horizon time.Duration, fp FingerprintFunc) *Deduplicator {
	if fp == nil {
		fp = DefaultFingerprint
	}
	return &Deduplicator{
		window:      window,
		horizon:     horizon,
		fingerprint: fp,
		contacts:    make(map[string]*contactWindow),
		now:         time.Now,
	}
}

// IsNew reports whether the event has not been seen inside the retention
// window, recording its fingerprint when new. A failed fingerprint
// computation treats the event as new and logs the anomaly: silently
// dropping a legitimate message is the worse failure mode.
func (d *Deduplicator) IsNew(contactRef string, ev event.Event) bool {
	fp, ok := d.fingerprint(contactRef, ev)
	if !ok {
		log.Printf("[dedup] cannot fingerprint event from %s (no id, no timestamp), treating as new", contactRef)
		return true
	}

	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.contacts[contactRef]
	if w == nil {
		w = &contactWindow{index: make(map[string]time.Time)}
		d.contacts[contactRef] = w
	}

	d.evictLocked(w, now)

	if _, seen := w.index[fp]; seen {
		return false
	}

	w.order = append(w.order, entry{fp: fp, seenAt: now})
	w.index[fp] = now
	return true
}

// evictLocked drops entries that aged past the horizon or overflow the
// capacity, oldest first.
func (d *Deduplicator) evictLocked(w *contactWindow, now time.Time) {
	cut := 0
	for cut < len(w.order) && now.Sub(w.order[cut].seenAt) >= d.horizon {
		delete(w.index, w.order[cut].fp)
		cut++
	}
	for len(w.order)-cut >= d.window {
		delete(w.index, w.order[cut].fp)
		cut++
	}
	if cut > 0 {
		w.order = w.order[cut:]
	}
}

// Sweep evicts expired fingerprints across all contacts and returns how many
// were dropped. Called from scheduled maintenance; IsNew also evicts lazily.
func (d *Deduplicator) Sweep() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	dropped := 0
	for ref, w := range d.contacts {
		before := len(w.order)
		cut := 0
		for cut < len(w.order) && now.Sub(w.order[cut].seenAt) >= d.horizon {
			delete(w.index, w.order[cut].fp)
			cut++
		}
		if cut > 0 {
			w.order = w.order[cut:]
		}
		dropped += before - len(w.order)
		if len(w.order) == 0 {
			delete(d.contacts, ref)
		}
	}
	return dropped
}

// Size returns the total number of retained fingerprints.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, w := range d.contacts {
		total += len(w.order)
	}
	return total
}

func (d *Deduplicator) String() string {
	return fmt.Sprintf("dedup(window=%d horizon=%s)", d.window, d.horizon)
}
