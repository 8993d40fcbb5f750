package session

import (
	"testing"
	"time"
)

func TestTouch_CreatesAndUpdates(t *testing.T) {
	r := NewRegistry(30 * time.Minute)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s := r.Touch("shop_1", "张三", at)
	if s.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", s.MessageCount)
	}
	if s.DisplayName != "张三" {
		t.Errorf("DisplayName = %q, want 张三", s.DisplayName)
	}
	if !s.LastMessageAt.Equal(at) {
		t.Errorf("LastMessageAt = %v, want %v", s.LastMessageAt, at)
	}

	s = r.Touch("shop_1", "", at.Add(time.Minute))
	if s.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", s.MessageCount)
	}
	if s.DisplayName != "张三" {
		t.Errorf("empty display name must not erase the stored one, got %q", s.DisplayName)
	}
}

func TestTouch_LastMessageAtNeverRegresses(t *testing.T) {
	r := NewRegistry(30 * time.Minute)
	newer := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	r.Touch("shop_1", "a", newer)
	s := r.Touch("shop_1", "a", older)
	if !s.LastMessageAt.Equal(newer) {
		t.Errorf("LastMessageAt = %v, want %v", s.LastMessageAt, newer)
	}
}

func TestStateAt_PureFunctionOfTimeout(t *testing.T) {
	timeout := 30 * time.Minute
	touched := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := Session{LastActivityAt: touched}

	if got := s.StateAt(touched.Add(timeout-time.Second), timeout); got != Active {
		t.Errorf("q-t < T: state = %q, want active", got)
	}
	if got := s.StateAt(touched.Add(timeout), timeout); got != Inactive {
		t.Errorf("q-t == T: state = %q, want inactive", got)
	}
	if got := s.StateAt(touched.Add(timeout+time.Hour), timeout); got != Inactive {
		t.Errorf("q-t > T: state = %q, want inactive", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := NewRegistry(30 * time.Minute)
	if _, ok := r.Get("nobody"); ok {
		t.Error("expected not found")
	}
}

func TestList_OrderAndTieBreak(t *testing.T) {
	r := NewRegistry(30 * time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	r.now = func() time.Time { return current }

	current = base
	r.Touch("b_shop", "", base)
	r.Touch("a_shop", "", base) // same activity instant as b_shop
	current = base.Add(time.Minute)
	r.Touch("c_shop", "", base)

	list := r.List(false)
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].ContactRef != "c_shop" {
		t.Errorf("most recently active first, got %q", list[0].ContactRef)
	}
	if list[1].ContactRef != "a_shop" || list[2].ContactRef != "b_shop" {
		t.Errorf("tie-break by contactRef, got %q then %q", list[1].ContactRef, list[2].ContactRef)
	}
}

func TestList_ActiveOnly(t *testing.T) {
	r := NewRegistry(30 * time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	r.now = func() time.Time { return current }

	r.Touch("old_shop", "", base)
	current = base.Add(time.Hour)
	r.Touch("fresh_shop", "", base.Add(time.Hour))

	list := r.List(true)
	if len(list) != 1 || list[0].ContactRef != "fresh_shop" {
		t.Fatalf("activeOnly list = %+v, want only fresh_shop", list)
	}

	total, active := r.Counts()
	if total != 2 || active != 1 {
		t.Errorf("Counts = %d/%d, want 2/1", total, active)
	}
}

func TestRefreshLastMessage(t *testing.T) {
	r := NewRegistry(30 * time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r.Touch("shop_1", "", base)
	before, _ := r.Get("shop_1")

	// Older tail: no-op.
	r.RefreshLastMessage("shop_1", base.Add(-time.Hour))
	s, _ := r.Get("shop_1")
	if !s.LastMessageAt.Equal(before.LastMessageAt) {
		t.Error("older tail must not move LastMessageAt")
	}
	if s.MessageCount != before.MessageCount {
		t.Error("refresh must not count a message")
	}

	// Newer tail advances it.
	newer := base.Add(time.Hour)
	r.RefreshLastMessage("shop_1", newer)
	s, _ = r.Get("shop_1")
	if !s.LastMessageAt.Equal(newer) {
		t.Errorf("LastMessageAt = %v, want %v", s.LastMessageAt, newer)
	}

	// Unknown contact: no-op, no session created.
	r.RefreshLastMessage("ghost", newer)
	if _, ok := r.Get("ghost"); ok {
		t.Error("refresh must not create sessions")
	}
}
