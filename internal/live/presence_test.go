package live

import (
	"sort"
	"testing"

	"vidloop-live/internal/models"
)

func TestPresenceBindFirstWins(t *testing.T) {
	p := newPresence()
	conn := newTestClient()

	first := p.Bind(conn, models.User{ID: "u1", Username: "ana"})
	if first.ID != "u1" {
		t.Fatalf("expected binding for u1, got %s", first.ID)
	}
	second := p.Bind(conn, models.User{ID: "u2", Username: "ben"})
	if second.ID != "u1" {
		t.Fatalf("rebinding should keep the first user, got %s", second.ID)
	}

	bound, ok := p.UserFor(conn)
	if !ok || bound.ID != "u1" {
		t.Fatalf("expected u1 bound, got %v", bound)
	}
}

func TestPresenceAttachDetach(t *testing.T) {
	p := newPresence()
	conn := newTestClient()
	p.Bind(conn, models.User{ID: "u1"})

	p.Attach(conn, "live-1")
	p.Attach(conn, "live-1")
	p.Attach(conn, "live-2")
	p.Detach(conn, "live-1")
	p.Detach(conn, "missing")

	ids := p.Drain(conn)
	if len(ids) != 1 || ids[0] != "live-2" {
		t.Fatalf("expected [live-2], got %v", ids)
	}
}

func TestPresenceDrainClearsEverything(t *testing.T) {
	p := newPresence()
	conn := newTestClient()
	p.Bind(conn, models.User{ID: "u1"})
	p.Attach(conn, "live-1")
	p.Attach(conn, "live-2")

	ids := p.Drain(conn)
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "live-1" || ids[1] != "live-2" {
		t.Fatalf("unexpected drained sessions: %v", ids)
	}

	if _, ok := p.UserFor(conn); ok {
		t.Fatal("binding should be gone after drain")
	}
	if again := p.Drain(conn); len(again) != 0 {
		t.Fatalf("second drain should be empty, got %v", again)
	}
}
