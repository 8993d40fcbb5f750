package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/stellarlinkco/shopclerk/internal/event"
)

const (
	historyMin = 1
	historyMax = 500
)

// History fetches a bounded window of past events for one contact, oldest to
// newest. Out-of-range limits are rejected, not clamped. History does not
// pass through the deduplicator (it is a closed, driver-ordered set) but a
// tail newer than the session's LastMessageAt refreshes it.
func (e *Engine) History(ctx context.Context, contactRef string, maxMessages int) ([]event.Event, error) {
	if contactRef == "" {
		return nil, &ValidationError{Msg: "contact reference is required"}
	}
	if maxMessages < historyMin || maxMessages > historyMax {
		return nil, &ValidationError{
			Msg: fmt.Sprintf("maxMessages %d out of range %d-%d", maxMessages, historyMin, historyMax),
		}
	}

	raws, err := e.drv.FetchHistory(ctx, contactRef, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", contactRef, err)
	}

	events := make([]event.Event, 0, len(raws))
	for _, raw := range raws {
		events = append(events, event.Normalize(raw))
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	if len(events) > maxMessages {
		events = events[len(events)-maxMessages:]
	}

	if len(events) > 0 {
		tail := events[len(events)-1]
		e.sessions.RefreshLastMessage(contactRef, tail.OccurredAt)
	}

	return events, nil
}
