package reducer

import (
	"testing"

	"github.com/provara/provara/internal/event"
)

func observation(id, actor, subject, predicate string, value interface{}, confidence float64) event.Event {
	return event.Event{
		EventID: id, Type: event.TypeObservation, Actor: actor,
		Payload: map[string]interface{}{"subject": subject, "predicate": predicate, "value": value, "confidence": confidence},
	}
}

func assertion(id, actor, subject, predicate string, value interface{}, confidence float64) event.Event {
	e := observation(id, actor, subject, predicate, value, confidence)
	e.Type = event.TypeAssertion
	return e
}

func attestation(id, actor, subject, predicate string, value interface{}) event.Event {
	return event.Event{
		EventID: id, Type: event.TypeAttestation, Actor: actor,
		Payload: map[string]interface{}{"subject": subject, "predicate": predicate, "value": value},
	}
}

func retraction(id, actor, subject, predicate string) event.Event {
	return event.Event{
		EventID: id, Type: event.TypeRetraction, Actor: actor,
		Payload: map[string]interface{}{"subject": subject, "predicate": predicate},
	}
}

func TestEmptyLogYieldsReproducibleHash(t *testing.T) {
	s1, err := Reduce(nil)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	s2, err := Reduce(nil)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if s1.Metadata.StateHash == "" {
		t.Fatalf("expected non-empty state hash")
	}
	if s1.Metadata.StateHash != s2.Metadata.StateHash {
		t.Fatalf("expected deterministic hash for empty log")
	}
}

func TestFirstObservationGoesToLocal(t *testing.T) {
	s, err := Reduce([]event.Event{observation("evt_1", "a1", "door", "status", "closed", 1.0)})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	entry, ok := s.Local["door:status"]
	if !ok || entry.Value != "closed" {
		t.Fatalf("expected door:status in local with value closed, got %+v ok=%v", entry, ok)
	}
}

func TestDisagreementAboveThresholdContests(t *testing.T) {
	s, err := Reduce([]event.Event{
		observation("evt_1", "a1", "door", "status", "closed", 0.6),
		observation("evt_2", "a2", "door", "status", "open", 0.7),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if _, stillLocal := s.Local["door:status"]; stillLocal {
		t.Fatalf("expected door:status removed from local once contested")
	}
	c, ok := s.Contested["door:status"]
	if !ok {
		t.Fatalf("expected door:status contested")
	}
	if !c.AwaitingResolution || len(c.EvidenceGroups) != 2 {
		t.Fatalf("expected two evidence groups, got %+v", c)
	}
}

func TestDisagreementBelowThresholdOverwritesLocal(t *testing.T) {
	s, err := Reduce([]event.Event{
		observation("evt_1", "a1", "door", "status", "closed", 0.2),
		observation("evt_2", "a2", "door", "status", "open", 0.3),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	entry, ok := s.Local["door:status"]
	if !ok || entry.Value != "open" {
		t.Fatalf("expected low-confidence disagreement to overwrite local, got %+v ok=%v", entry, ok)
	}
}

func TestAttestationResolvesContestedAndClearsLocal(t *testing.T) {
	s, err := Reduce([]event.Event{
		observation("evt_1", "a1", "door", "status", "closed", 0.6),
		observation("evt_2", "a2", "door", "status", "open", 0.7),
		attestation("evt_3", "root", "door", "status", "open"),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	entry, ok := s.Canonical["door:status"]
	if !ok || entry.Value != "open" {
		t.Fatalf("expected door:status canonical with value open, got %+v ok=%v", entry, ok)
	}
	if _, ok := s.Contested["door:status"]; ok {
		t.Fatalf("expected contested entry cleared after attestation")
	}
	if _, ok := s.Local["door:status"]; ok {
		t.Fatalf("expected local entry cleared after attestation")
	}
}

func TestRetractionArchivesCanonical(t *testing.T) {
	s, err := Reduce([]event.Event{
		attestation("evt_1", "root", "door", "status", "open"),
		retraction("evt_2", "root", "door", "status"),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if _, ok := s.Canonical["door:status"]; ok {
		t.Fatalf("expected canonical cleared after retraction")
	}
	archived, ok := s.Archived["door:status"]
	if !ok {
		t.Fatalf("expected archived entry after retraction")
	}
	if !archived.Retracted || archived.SupersededBy != "evt_2" {
		t.Fatalf("expected archived entry marked retracted with superseded_by, got %+v", archived)
	}
}

func TestUnknownTypeIsCountedAndIgnored(t *testing.T) {
	s, err := Reduce([]event.Event{
		{EventID: "evt_1", Type: "com.example.app.custom_thing", Payload: map[string]interface{}{}},
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if s.Metadata.IgnoredTypes["com.example.app.custom_thing"] != 1 {
		t.Fatalf("expected ignored type counted, got %+v", s.Metadata.IgnoredTypes)
	}
	if s.Metadata.EventCount != 1 {
		t.Fatalf("expected event_count to include unknown types, got %d", s.Metadata.EventCount)
	}
}

func TestCanonicalWinsOverLaterEvidence(t *testing.T) {
	s, err := Reduce([]event.Event{
		attestation("evt_1", "root", "door", "status", "open"),
		observation("evt_2", "a1", "door", "status", "closed", 1.0),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	entry := s.Canonical["door:status"]
	if entry.Value != "open" {
		t.Fatalf("expected canonical to remain open, got %v", entry.Value)
	}
	if _, ok := s.Local["door:status"]; ok {
		t.Fatalf("expected later observation to not leak into local once canonical is set")
	}
}

func TestMetadataTracksEventCountAndLastEventID(t *testing.T) {
	s, err := Reduce([]event.Event{
		observation("evt_1", "a1", "door", "status", "closed", 1.0),
		observation("evt_2", "a1", "door", "status", "closed", 1.0),
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if s.Metadata.EventCount != 2 {
		t.Fatalf("expected event_count 2, got %d", s.Metadata.EventCount)
	}
	if s.Metadata.LastEventID != "evt_2" {
		t.Fatalf("expected last_event_id evt_2, got %s", s.Metadata.LastEventID)
	}
}
