// Package engine orchestrates the ingestion pipeline: poller ->
// deduplicator -> session registry -> rule engine -> dispatcher, plus the
// on-demand history fetcher and the engine lifecycle.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellarlinkco/shopclerk/internal/config"
	"github.com/stellarlinkco/shopclerk/internal/dedup"
	"github.com/stellarlinkco/shopclerk/internal/dispatch"
	"github.com/stellarlinkco/shopclerk/internal/driver"
	"github.com/stellarlinkco/shopclerk/internal/event"
	"github.com/stellarlinkco/shopclerk/internal/janitor"
	"github.com/stellarlinkco/shopclerk/internal/rules"
	"github.com/stellarlinkco/shopclerk/internal/session"
)

const failedEventCap = 100

// ValidationError marks malformed caller input, rejected before any driver
// interaction.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Status is the aggregate view the control surface exposes.
type Status struct {
	IsRunning        bool  `json:"isRunning"`
	TotalSessions    int   `json:"totalSessions"`
	ActiveSessions   int   `json:"activeSessions"`
	AutoReplyEnabled bool  `json:"autoReplyEnabled"`
	RuleCount        int   `json:"ruleCount"`
	FlaggedCount     int64 `json:"flaggedCount"`
	FailedSends      int64 `json:"failedSends"`
}

// SessionView is a session snapshot with its derived state attached.
type SessionView struct {
	session.Session
	State session.State `json:"state"`
}

type Engine struct {
	cfg        *config.Config
	drv        *driver.Serialized
	dedup      *dedup.Deduplicator
	sessions   *session.Registry
	rules      *rules.Engine
	dispatcher *dispatch.Dispatcher
	janitor    *janitor.Service

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	flagged     atomic.Int64
	failedSends atomic.Int64

	failMu       sync.Mutex
	failedEvents []event.Event
}

// New builds an Engine around a driver. The driver is wrapped so every call
// into it is serialized; the surface is a single non-parallelizable
// resource.
func New(cfg *config.Config, drv driver.Driver) *Engine {
	serialized := driver.NewSerialized(drv)
	e := &Engine{
		cfg:      cfg,
		drv:      serialized,
		dedup:    dedup.New(cfg.Dedup.Window, time.Duration(cfg.Dedup.Horizon)*time.Second),
		sessions: session.NewRegistry(time.Duration(cfg.Session.InactiveTimeout) * time.Second),
		rules:    rules.NewEngine(cfg.AutoReply.MatchCase),
	}
	e.dispatcher = dispatch.New(
		serialized,
		cfg.Message.RetryTimes,
		time.Duration(cfg.Message.RetryDelay)*time.Second,
	)
	e.janitor = janitor.New(
		janitor.Job{
			Name: "dedup-sweep",
			Spec: "@every 10m",
			Run: func() {
				if n := e.dedup.Sweep(); n > 0 {
					log.Printf("[janitor] evicted %d expired fingerprints", n)
				}
			},
		},
		janitor.Job{
			Name: "session-stats",
			Spec: "@every 10m",
			Run: func() {
				total, active := e.sessions.Counts()
				log.Printf("[janitor] sessions: %d total, %d active", total, active)
			},
		},
	)
	return e
}

// Start acquires the driver and launches the poller loop. A driver that
// cannot be established at all is the one fatal failure.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine already running")
	}

	if e.cfg.AutoReply.Enabled {
		if err := e.rules.LoadFile(e.cfg.AutoReply.RulesFile); err != nil {
			return fmt.Errorf("load auto-reply rules: %w", err)
		}
		log.Printf("[engine] loaded %d auto-reply rules", e.rules.Count())
	}

	if err := e.drv.Open(ctx); err != nil {
		return fmt.Errorf("acquire driver: %w", err)
	}

	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true

	e.janitor.Start()
	go e.pollLoop(e.stopCh, e.done)

	log.Printf("[engine] started, check interval %ds, auto-reply %v",
		e.cfg.Poller.CheckInterval, e.cfg.AutoReply.Enabled)
	return nil
}

// Stop halts tick scheduling, waits for any in-flight tick (including
// dispatch retries) to finish, then releases the driver.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine not running")
	}
	stopCh, done := e.stopCh, e.done
	e.running = false
	e.mu.Unlock()

	close(stopCh)
	<-done

	e.janitor.Stop()

	if err := e.drv.Close(); err != nil {
		log.Printf("[engine] close driver warning: %v", err)
	}

	total, active := e.sessions.Counts()
	log.Printf("[engine] stopped, sessions: %d total, %d active", total, active)
	return nil
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Status() Status {
	total, active := e.sessions.Counts()
	return Status{
		IsRunning:        e.IsRunning(),
		TotalSessions:    total,
		ActiveSessions:   active,
		AutoReplyEnabled: e.cfg.AutoReply.Enabled,
		RuleCount:        e.rules.Count(),
		FlaggedCount:     e.flagged.Load(),
		FailedSends:      e.failedSends.Load(),
	}
}

// Sessions lists sessions most-recently-active first with derived state.
func (e *Engine) Sessions(activeOnly bool) []SessionView {
	list := e.sessions.List(activeOnly)
	out := make([]SessionView, len(list))
	for i, s := range list {
		out[i] = SessionView{Session: s, State: e.sessions.State(s)}
	}
	return out
}

// Send performs a manual send through the dispatcher. Input is validated
// before the driver is involved.
func (e *Engine) Send(ctx context.Context, contactRef, text string) error {
	if contactRef == "" {
		return &ValidationError{Msg: "contact reference is required"}
	}
	if text == "" {
		return &ValidationError{Msg: "message text is required"}
	}

	if err := e.dispatcher.Send(ctx, contactRef, text); err != nil {
		e.recordFailedSend(contactRef, text, false)
		return err
	}

	e.sessions.Touch(contactRef, "", time.Now())
	return nil
}

// ReloadRules atomically swaps in the rule file's current contents. On
// failure the running engine keeps the previously loaded set.
func (e *Engine) ReloadRules() error {
	if err := e.rules.LoadFile(e.cfg.AutoReply.RulesFile); err != nil {
		return err
	}
	log.Printf("[engine] reloaded %d auto-reply rules", e.rules.Count())
	return nil
}

func (e *Engine) recordFailedSend(contactRef, text string, autoReply bool) {
	e.failedSends.Add(1)

	ev := event.Event{
		ID:          newEventID(),
		ContactRef:  contactRef,
		Text:        text,
		Kind:        event.KindText,
		OccurredAt:  time.Now(),
		Direction:   event.Outbound,
		IsAutoReply: autoReply,
		Failed:      true,
	}

	e.failMu.Lock()
	e.failedEvents = append(e.failedEvents, ev)
	if len(e.failedEvents) > failedEventCap {
		e.failedEvents = e.failedEvents[len(e.failedEvents)-failedEventCap:]
	}
	e.failMu.Unlock()
}

// FailedSendEvents returns the rolling window of outbound events whose
// retries were exhausted, for monitoring consumers.
func (e *Engine) FailedSendEvents() []event.Event {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	out := make([]event.Event, len(e.failedEvents))
	copy(out, e.failedEvents)
	return out
}
