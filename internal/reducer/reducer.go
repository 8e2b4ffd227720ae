// Package reducer implements Provara's L5 layer: the pure, deterministic
// fold from an ordered event sequence into a four-namespace belief state
// (spec §4.3). It has no teacher analogue in the retrieved pack — the
// teacher's sync.Map "task state" tracking in internal/ledger/processor.go
// is the nearest relative, so this package borrows its map-of-maps shape
// and its habit of tracking per-kind counters, but the transition rules
// themselves are built directly from the contract in §4.3.
package reducer

import (
	"encoding/json"
	"sort"

	"github.com/provara/provara/internal/canonical"
	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

const (
	defaultObservationConfidence = 1.0
	defaultAssertionConfidence   = 0.35
	contestThreshold             = 0.50
)

// Entry is a single belief record (spec §3.3).
type Entry struct {
	Value         interface{} `json:"value"`
	Confidence    float64     `json:"confidence"`
	Actor         string      `json:"actor"`
	SourceEventID string      `json:"source_event_id"`
	Timestamp     string      `json:"timestamp"`

	Retracted    bool   `json:"retracted,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`
}

// EvidenceGroup is one side of a contested belief key: the set of
// evidence entries that agree with each other but disagree with another
// group over the same key.
type EvidenceGroup struct {
	Value    interface{} `json:"value"`
	Evidence []Entry     `json:"evidence"`
}

// Contested is the state of a belief key under active dispute.
type Contested struct {
	EvidenceGroups     []EvidenceGroup `json:"evidence_groups"`
	AwaitingResolution bool            `json:"awaiting_resolution"`
}

// ReducerInfo names the reducer implementation and configuration that
// produced a state, echoed into metadata for cross-implementation
// comparison.
type ReducerInfo struct {
	Version string                 `json:"version"`
	Config  map[string]interface{} `json:"config"`
}

// Metadata is the reducer's own bookkeeping, alongside the four belief
// namespaces.
type Metadata struct {
	EventCount    int            `json:"event_count"`
	LastEventID   string         `json:"last_event_id"`
	CurrentEpoch  string         `json:"current_epoch,omitempty"`
	Reducer       ReducerInfo    `json:"reducer"`
	IgnoredTypes  map[string]int `json:"_ignored_types"`
	StateHash     string         `json:"state_hash"`
}

// State is the reducer's full output (spec §4.3 "State shape").
type State struct {
	Canonical map[string]Entry     `json:"canonical"`
	Local     map[string]Entry     `json:"local"`
	Contested map[string]Contested `json:"contested"`
	Archived  map[string]Entry     `json:"archived"`
	Metadata  Metadata             `json:"metadata"`
}

// New returns an empty, reproducible initial state.
func New() *State {
	return &State{
		Canonical: map[string]Entry{},
		Local:     map[string]Entry{},
		Contested: map[string]Contested{},
		Archived:  map[string]Entry{},
		Metadata: Metadata{
			Reducer:      ReducerInfo{Version: "1.0", Config: map[string]interface{}{}},
			IgnoredTypes: map[string]int{},
		},
	}
}

func beliefKey(payload map[string]interface{}) (string, bool) {
	subject, ok1 := payload["subject"].(string)
	predicate, ok2 := payload["predicate"].(string)
	if !ok1 || !ok2 || subject == "" || predicate == "" {
		return "", false
	}
	return subject + ":" + predicate, true
}

func confidenceOf(payload map[string]interface{}, fallback float64) float64 {
	if v, ok := payload["confidence"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return fallback
}

// Reduce folds ordered (already chain- and signature-validated, per
// OQ4's "validate then reduce" ordering) into a fresh State. It is pure:
// it never mutates its input and never performs I/O.
func Reduce(ordered []event.Event) (*State, error) {
	s := New()
	for _, e := range ordered {
		s.apply(e)
	}
	if err := s.finalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) apply(e event.Event) {
	s.Metadata.EventCount++
	s.Metadata.LastEventID = e.EventID

	switch e.Type {
	case event.TypeObservation:
		s.applyEvidence(e, defaultObservationConfidence)
	case event.TypeAssertion:
		s.applyEvidence(e, defaultAssertionConfidence)
	case event.TypeAttestation:
		s.applyAttestation(e)
	case event.TypeRetraction:
		s.applyRetraction(e)
	case event.TypeKeyRevocation, event.TypeKeyPromotion:
		// no belief change; key registry state lives outside the reducer.
	case event.TypeReducerEpoch:
		s.applyEpoch(e)
	case event.TypeGenesis:
		// counted only; establishes no belief.
	default:
		s.Metadata.IgnoredTypes[e.Type]++
	}
}

func (s *State) applyEvidence(e event.Event, defaultConfidence float64) {
	key, ok := beliefKey(e.Payload)
	if !ok {
		return
	}
	confidence := confidenceOf(e.Payload, defaultConfidence)
	incoming := Entry{
		Value:         e.Payload["value"],
		Confidence:    confidence,
		Actor:         e.Actor,
		SourceEventID: e.EventID,
		Timestamp:     e.TimestampUTC,
	}

	if _, inCanonical := s.Canonical[key]; inCanonical {
		// canonical wins; incoming is evidence only and is dropped.
		return
	}

	if existing, inLocal := s.Local[key]; inLocal {
		if valuesEqual(existing.Value, incoming.Value) {
			if incoming.Confidence > existing.Confidence {
				s.Local[key] = incoming
			}
			return
		}
		if maxFloat(existing.Confidence, incoming.Confidence) >= contestThreshold {
			delete(s.Local, key)
			s.addContestedGroup(key, existing)
			s.addContestedGroup(key, incoming)
			return
		}
		// different value, neither side past the contest threshold:
		// falls through to the general "place in local" rule.
		s.Local[key] = incoming
		return
	}

	if contested, inContested := s.Contested[key]; inContested {
		if incoming.Confidence >= contestThreshold {
			if !groupHasValue(contested, incoming.Value) {
				s.addContestedGroup(key, incoming)
			}
			return
		}
		// below threshold while contested: falls through to "place in
		// local" without disturbing the contested entry.
		s.Local[key] = incoming
		return
	}

	s.Local[key] = incoming
}

func (s *State) addContestedGroup(key string, e Entry) {
	c := s.Contested[key]
	c.AwaitingResolution = true
	for i, g := range c.EvidenceGroups {
		if valuesEqual(g.Value, e.Value) {
			c.EvidenceGroups[i].Evidence = append(c.EvidenceGroups[i].Evidence, e)
			s.Contested[key] = c
			return
		}
	}
	c.EvidenceGroups = append(c.EvidenceGroups, EvidenceGroup{Value: e.Value, Evidence: []Entry{e}})
	s.Contested[key] = c
}

func groupHasValue(c Contested, value interface{}) bool {
	for _, g := range c.EvidenceGroups {
		if valuesEqual(g.Value, value) {
			return true
		}
	}
	return false
}

func (s *State) applyAttestation(e event.Event) {
	key, ok := beliefKey(e.Payload)
	if !ok {
		return
	}
	if prior, had := s.Canonical[key]; had {
		prior.SupersededBy = e.EventID
		s.Archived[key] = prior
	}
	s.Canonical[key] = Entry{
		Value:         e.Payload["value"],
		Confidence:    1.0,
		Actor:         e.Actor,
		SourceEventID: e.EventID,
		Timestamp:     e.TimestampUTC,
	}
	delete(s.Local, key)
	delete(s.Contested, key)
}

func (s *State) applyRetraction(e event.Event) {
	key, ok := beliefKey(e.Payload)
	if !ok {
		return
	}
	delete(s.Local, key)
	delete(s.Contested, key)
	if prior, had := s.Canonical[key]; had {
		prior.Retracted = true
		prior.SupersededBy = e.EventID
		s.Archived[key] = prior
		delete(s.Canonical, key)
	}
}

func (s *State) applyEpoch(e event.Event) {
	if epochID, ok := e.Payload["epoch_id"].(string); ok {
		s.Metadata.CurrentEpoch = epochID
	}
}

// finalize computes state_hash over everything except itself, per spec
// §4.3's determinism rule and OQ2: the hash is taken over the state
// with metadata.state_hash structurally absent, not present and blank,
// so a peer that omits the key rather than zeroing it agrees on the
// digest.
func (s *State) finalize() error {
	raw, err := canonical.Marshal(s)
	if err != nil {
		return verrors.New(verrors.CodeStateHashDivergence, "encoding state for hashing: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return verrors.New(verrors.CodeStateHashDivergence, "decoding state for hashing: %v", err)
	}
	if metadata, ok := m["metadata"].(map[string]interface{}); ok {
		delete(metadata, "state_hash")
	}
	b, err := canonical.Marshal(m)
	if err != nil {
		return verrors.New(verrors.CodeStateHashDivergence, "canonicalizing state for hashing: %v", err)
	}
	s.Metadata.StateHash = vcrypto.SHA256Hex(b)
	return nil
}

func valuesEqual(a, b interface{}) bool {
	ab, errA := canonical.Marshal(a)
	bb, errB := canonical.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SortedKeys returns the belief keys of m in ascending order, the
// iteration order used anywhere a belief namespace must be rendered
// deterministically (exports, diffing, logging).
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
