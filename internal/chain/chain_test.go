package chain

import (
	"testing"

	"github.com/provara/provara/internal/event"
)

func ev(id, actor, prev, ts string) event.Event {
	var p *string
	if prev != "" {
		p = &prev
	}
	return event.Event{EventID: id, Actor: actor, PrevEventHash: p, TimestampUTC: ts}
}

func TestTotalOrderByTimestampThenID(t *testing.T) {
	events := Wrap([]event.Event{
		ev("evt_b", "a1", "", "2026-01-01T00:00:01.000000000Z"),
		ev("evt_a", "a1", "", "2026-01-01T00:00:00.000000000Z"),
		ev("evt_c", "a1", "evt_a", "2026-01-01T00:00:01.000000000Z"),
	})
	ordered := TotalOrder(events)
	got := []string{ordered[0].ID(), ordered[1].ID(), ordered[2].ID()}
	want := []string{"evt_a", "evt_b", "evt_c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}
}

func TestVerifyLinkageAcceptsWellFormedChain(t *testing.T) {
	chain := Wrap([]event.Event{
		ev("evt_1", "a1", "", "t1"),
		ev("evt_2", "a1", "evt_1", "t2"),
		ev("evt_3", "a1", "evt_2", "t3"),
	})
	if err := VerifyLinkage(chain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifyLinkageRejectsNonNullFirstPrev(t *testing.T) {
	chain := Wrap([]event.Event{ev("evt_1", "a1", "evt_0", "t1")})
	if err := VerifyLinkage(chain); err == nil {
		t.Fatalf("expected error for non-null first prev_event_hash")
	}
}

func TestVerifyLinkageRejectsBrokenLink(t *testing.T) {
	chain := Wrap([]event.Event{
		ev("evt_1", "a1", "", "t1"),
		ev("evt_2", "a1", "evt_999", "t2"),
	})
	if err := VerifyLinkage(chain); err == nil {
		t.Fatalf("expected error for broken causal chain")
	}
}

func TestDetectForks(t *testing.T) {
	events := Wrap([]event.Event{
		ev("evt_1", "a1", "", "t0"),
		ev("evt_2a", "a1", "evt_1", "t1"),
		ev("evt_2b", "a1", "evt_1", "t1"),
	})
	forks := DetectForks(events)
	if len(forks) != 1 {
		t.Fatalf("expected one fork, got %d", len(forks))
	}
	if len(forks[0].EventIDs) != 2 {
		t.Fatalf("expected two forked events, got %v", forks[0].EventIDs)
	}
}

func TestResolveReferenceDetectsOrphanAndCrossActor(t *testing.T) {
	byID := map[string]Linked{
		"evt_1": wrap{event.Event{EventID: "evt_1", Actor: "a1"}},
	}
	prev := "evt_missing"
	if err := ResolveReference(byID, "a1", &prev); err == nil {
		t.Fatalf("expected orphan reference error")
	}
	prev2 := "evt_1"
	if err := ResolveReference(byID, "a2", &prev2); err == nil {
		t.Fatalf("expected cross-actor reference error")
	}
	if err := ResolveReference(byID, "a1", &prev2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ResolveReference(byID, "a1", nil); err != nil {
		t.Fatalf("unexpected error for nil prev hash: %v", err)
	}
}
