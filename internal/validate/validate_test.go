package validate

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/vcrypto"
)

type actorKey struct {
	pub ed25519.PublicKey
	priv ed25519.PrivateKey
	id   string
}

func newActorKey(t *testing.T) actorKey {
	t.Helper()
	pub, priv, id, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return actorKey{pub: pub, priv: priv, id: id}
}

func sign(t *testing.T, e event.Event, k actorKey) event.Event {
	t.Helper()
	e.ActorKeyID = k.id
	signed, err := e.Sign(k.priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestRunAcceptsWellFormedChain(t *testing.T) {
	root := newActorKey(t)
	registry := keyregistry.New()
	if err := registry.Register(root.id, root.pub, []string{keyregistry.RoleRoot}); err != nil {
		t.Fatalf("register: %v", err)
	}

	now := time.Now()
	e1 := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1",
		TimestampUTC: event.NowUTC(now), Namespace: event.NamespaceLocal,
		Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "closed"},
	}, root)

	prev := e1.EventID
	e2 := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", PrevEventHash: &prev,
		TimestampUTC: event.NowUTC(now.Add(time.Second)), Namespace: event.NamespaceLocal,
		Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "open"},
	}, root)

	report := Run([]event.Event{e1, e2}, registry, Options{})
	if !report.Valid {
		t.Fatalf("expected valid report, got errors: %v", report.Errors)
	}
	if report.EventCount != 2 {
		t.Fatalf("expected event_count 2, got %d", report.EventCount)
	}
	if report.Actors["agent-1"].EventCount != 2 {
		t.Fatalf("expected agent-1 event_count 2, got %+v", report.Actors["agent-1"])
	}
}

func TestRunRejectsTamperedEventID(t *testing.T) {
	root := newActorKey(t)
	registry := keyregistry.New()
	if err := registry.Register(root.id, root.pub, []string{keyregistry.RoleRoot}); err != nil {
		t.Fatalf("register: %v", err)
	}
	e1 := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", TimestampUTC: event.NowUTC(time.Now()),
		Namespace: event.NamespaceLocal, Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "closed"},
	}, root)
	e1.EventID = "evt_deadbeefdeadbeefdeadbeef"

	report := Run([]event.Event{e1}, registry, Options{})
	if report.Valid {
		t.Fatalf("expected invalid report for tampered event_id")
	}
	if len(report.Errors) == 0 || report.Errors[0].Code != "EVENT_ID_MISMATCH" {
		t.Fatalf("expected EVENT_ID_MISMATCH, got %+v", report.Errors)
	}
}

func TestRunRejectsBrokenChainLink(t *testing.T) {
	root := newActorKey(t)
	registry := keyregistry.New()
	if err := registry.Register(root.id, root.pub, []string{keyregistry.RoleRoot}); err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now()
	e1 := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", TimestampUTC: event.NowUTC(now),
		Namespace: event.NamespaceLocal, Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "closed"},
	}, root)
	missing := "evt_000000000000000000000000"
	e2 := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", PrevEventHash: &missing,
		TimestampUTC: event.NowUTC(now.Add(time.Second)), Namespace: event.NamespaceLocal,
		Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "open"},
	}, root)

	report := Run([]event.Event{e1, e2}, registry, Options{})
	if report.Valid {
		t.Fatalf("expected invalid report for orphan chain reference")
	}
}

func TestRunRejectsRevokedKeyPastTrustBoundary(t *testing.T) {
	root := newActorKey(t)
	other := newActorKey(t)
	registry := keyregistry.New()
	if err := registry.Register(root.id, root.pub, []string{keyregistry.RoleRoot}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(other.id, other.pub, []string{keyregistry.RoleRoot}); err != nil {
		t.Fatalf("register: %v", err)
	}

	now := time.Now()
	boundaryEvent := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", TimestampUTC: event.NowUTC(now),
		Namespace: event.NamespaceLocal, Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "closed"},
	}, root)

	if err := registry.ApplyRevocation(keyregistry.RevocationRequest{
		RevokedKeyID: root.id, TrustBoundaryEventID: boundaryEvent.EventID, RevokedBy: other.id,
	}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	prev := boundaryEvent.EventID
	lateEvent := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", PrevEventHash: &prev,
		TimestampUTC: event.NowUTC(now.Add(time.Second)), Namespace: event.NamespaceLocal,
		Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "open"},
	}, root)

	report := Run([]event.Event{boundaryEvent, lateEvent}, registry, Options{})
	if report.Valid {
		t.Fatalf("expected invalid report for revoked key use past trust boundary")
	}
	found := false
	for _, err := range report.Errors {
		if err.Code == "REVOKED_KEY_USE" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected REVOKED_KEY_USE among errors: %+v", report.Errors)
	}
}

func TestRunDetectsDuplicateEventID(t *testing.T) {
	root := newActorKey(t)
	registry := keyregistry.New()
	if err := registry.Register(root.id, root.pub, []string{keyregistry.RoleRoot}); err != nil {
		t.Fatalf("register: %v", err)
	}
	e1 := sign(t, event.Event{
		Type: event.TypeObservation, Actor: "agent-1", TimestampUTC: event.NowUTC(time.Now()),
		Namespace: event.NamespaceLocal, Payload: map[string]interface{}{"subject": "door", "predicate": "status", "value": "closed"},
	}, root)

	report := Run([]event.Event{e1, e1}, registry, Options{})
	if report.Valid {
		t.Fatalf("expected invalid report for duplicate event_id")
	}
}
