package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// testConn builds an AgentConn with no real transport. Send is never called
// in these tests; they exercise the map, not the wire.
func testConn() *AgentConn {
	return &AgentConn{ID: fmt.Sprintf("conn-%d", time.Now().UnixNano()), ConnectedAt: time.Now()}
}

func TestRegistryBindLookupUnbind(t *testing.T) {
	r := NewRegistry()
	x := testConn()

	if _, ok := r.Lookup("a"); ok {
		t.Fatal("lookup on empty registry should miss")
	}

	r.Bind("a", x)
	got, ok := r.Lookup("a")
	if !ok || got != x {
		t.Fatalf("lookup = %v/%v, want bound conn", got, ok)
	}

	r.Unbind("a")
	if _, ok := r.Lookup("a"); ok {
		t.Error("lookup after unbind should miss")
	}

	// Unbinding an absent id is a no-op.
	r.Unbind("a")
}

func TestRegistryBindSupersedes(t *testing.T) {
	r := NewRegistry()
	x, y := testConn(), testConn()

	r.Bind("a", x)
	r.Bind("a", y)

	got, ok := r.Lookup("a")
	if !ok || got != y {
		t.Fatalf("lookup after supersede = %v, want the newer conn", got)
	}
	if r.Count() != 1 {
		t.Errorf("count = %d, want 1 entry per id", r.Count())
	}
	// The superseded handle stays open — the registry never closes it.
	if x.Closed() {
		t.Error("superseded conn must not be closed by the registry")
	}
}

// The canonical regression: register "a" on X, re-register "a" on Y, then X's
// delayed close fires. Y's binding must survive.
func TestRegistryUnbindIfCurrentIgnoresStaleClose(t *testing.T) {
	r := NewRegistry()
	x, y := testConn(), testConn()

	r.Bind("a", x)
	r.Bind("a", y)

	if removed := r.UnbindIfCurrent("a", x); removed {
		t.Error("stale close must not remove the superseding binding")
	}

	got, ok := r.Lookup("a")
	if !ok || got != y {
		t.Fatalf("lookup after stale close = %v/%v, want Y still bound", got, ok)
	}

	if removed := r.UnbindIfCurrent("a", y); !removed {
		t.Error("current owner's close should remove the entry")
	}
	if _, ok := r.Lookup("a"); ok {
		t.Error("entry should be gone after the owner closed")
	}
}

func TestRegistryLookupSkipsClosedHandle(t *testing.T) {
	r := NewRegistry()
	x := testConn()

	r.Bind("a", x)
	x.MarkClosed()

	if _, ok := r.Lookup("a"); ok {
		t.Error("lookup must never return a handle known to be closed")
	}
}

func TestRegistryEvents(t *testing.T) {
	r := NewRegistry()
	var events []AgentEvent
	r.OnEvent = func(ev AgentEvent) { events = append(events, ev) }

	x := testConn()
	r.Bind("a", x)
	r.UnbindIfCurrent("a", x)
	r.UnbindIfCurrent("a", x) // already gone — no event

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0].Type != "agent.online" || events[1].Type != "agent.offline" {
		t.Errorf("event order = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].AgentID != "a" || events[0].ConnID != x.ID {
		t.Errorf("event = %+v, want agent a on conn %s", events[0], x.ID)
	}
}

func TestRegistryConcurrency(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := fmt.Sprintf("agent-%d", i%10)
		go func(id string) {
			defer wg.Done()
			c := testConn()
			r.Bind(id, c)
			r.Lookup(id)
			r.UnbindIfCurrent(id, c)
		}(id)
		go func(id string) {
			defer wg.Done()
			c := testConn()
			r.Bind(id, c)
			r.Entries()
			r.UnbindIfCurrent(id, c)
		}(id)
	}
	wg.Wait()

	// No id may survive with a handle nobody owns, and the map must be
	// internally consistent (no duplicate ids by construction of Entries).
	seen := make(map[string]bool)
	for _, e := range r.Entries() {
		if seen[e.AgentID] {
			t.Errorf("duplicate entry for %s", e.AgentID)
		}
		seen[e.AgentID] = true
	}
}

func TestSessionRegisterRebind(t *testing.T) {
	r := NewRegistry()
	x := testConn()
	sess := &session{conn: x}

	sess.onRegister(r, "a")
	if _, ok := r.Lookup("a"); !ok {
		t.Fatal("a should be bound")
	}

	// Same id again: idempotent refresh, still one entry.
	sess.onRegister(r, "a")
	if r.Count() != 1 {
		t.Errorf("count = %d after duplicate register, want 1", r.Count())
	}

	// New id on the same connection releases the old binding.
	sess.onRegister(r, "b")
	if _, ok := r.Lookup("a"); ok {
		t.Error("a should be unbound after the connection switched to b")
	}
	if got, ok := r.Lookup("b"); !ok || got != x {
		t.Error("b should be bound to the same connection")
	}
}

func TestSessionRebindDoesNotEvictNewerOwner(t *testing.T) {
	r := NewRegistry()
	x, y := testConn(), testConn()
	sessX := &session{conn: x}
	sessY := &session{conn: y}

	sessX.onRegister(r, "a")
	sessY.onRegister(r, "a") // supersedes X

	// X switches identity; its conditional release of "a" must not touch Y.
	sessX.onRegister(r, "c")
	if got, ok := r.Lookup("a"); !ok || got != y {
		t.Error("a should still resolve to Y")
	}
}

func TestSessionCloseWithoutRegistration(t *testing.T) {
	r := NewRegistry()
	sess := &session{conn: testConn()}

	if removed := sess.onClose(r); removed {
		t.Error("closing an unregistered connection must not mutate the registry")
	}
	if r.Count() != 0 {
		t.Errorf("count = %d, want 0", r.Count())
	}
}

func TestSessionCloseReleasesBinding(t *testing.T) {
	r := NewRegistry()
	x := testConn()
	sess := &session{conn: x}

	sess.onRegister(r, "a")
	if removed := sess.onClose(r); !removed {
		t.Error("close should release the binding")
	}
	if _, ok := r.Lookup("a"); ok {
		t.Error("a should be gone after close")
	}
}
