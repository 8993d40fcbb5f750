package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/stellarlinkco/shopclerk/internal/event"
)

func newEventID() string {
	return uuid.NewString()
}

// pollLoop runs ticks at the configured cadence. A tick fully completes,
// including dispatch retries for every event it fetched, before the next one
// is scheduled; the stop signal is observed only at tick boundaries so an
// in-flight dispatch is never cut short.
func (e *Engine) pollLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := time.Duration(e.cfg.Poller.CheckInterval) * time.Second
	for {
		e.tick(context.Background())

		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// tick fetches raw events and runs each through the pipeline. A fetch
// failure ends the tick early; the loop continues on the next cadence.
func (e *Engine) tick(ctx context.Context) {
	raws, err := e.drv.FetchNewRawEvents(ctx)
	if err != nil {
		log.Printf("[poller] fetch failed: %v", err)
		return
	}

	for _, raw := range raws {
		e.process(ctx, event.Normalize(raw))
	}
}

// process runs one normalized event through dedup, session tracking and the
// auto-reply decision. Failures are isolated to the event.
func (e *Engine) process(ctx context.Context, ev event.Event) {
	if !e.dedup.IsNew(ev.ContactRef, ev) {
		return
	}

	e.sessions.Touch(ev.ContactRef, ev.ContactName, ev.OccurredAt)

	if ev.Direction != event.Inbound || ev.Kind != event.KindText {
		return
	}
	if !e.cfg.AutoReply.Enabled {
		return
	}

	reply, matched := e.rules.Evaluate(ev.Text)
	if !matched {
		e.flagged.Add(1)
		log.Printf("[poller] no rule matched message from %s, needs human attention", ev.ContactRef)
		return
	}

	if err := e.dispatcher.Send(ctx, ev.ContactRef, reply); err != nil {
		log.Printf("[poller] auto-reply to %s failed: %v", ev.ContactRef, err)
		e.recordFailedSend(ev.ContactRef, reply, true)
		return
	}

	out := event.Event{
		ID:          newEventID(),
		ContactRef:  ev.ContactRef,
		ContactName: ev.ContactName,
		Text:        reply,
		Kind:        event.KindText,
		OccurredAt:  time.Now(),
		Direction:   event.Outbound,
		IsAutoReply: true,
	}
	e.sessions.Touch(out.ContactRef, out.ContactName, out.OccurredAt)
	log.Printf("[poller] auto-replied to %s", ev.ContactRef)
}
