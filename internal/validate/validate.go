// Package validate implements Provara's L8 layer: the phased chain
// validator that turns a raw event list into a structured pass/fail
// report (spec §4.7). It is the one place every lower layer
// (canonicalizer, crypto, keyregistry, chain, reducer, manifest) is
// exercised together, mirroring how the teacher's cmd/vouch-cli verify
// command chains audit.VerifyChain + audit.VerifyAnchors into one
// reported outcome, rather than leaving each check to a separate caller.
package validate

import (
	"encoding/json"

	"github.com/provara/provara/internal/chain"
	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/manifest"
	"github.com/provara/provara/internal/reducer"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

// ActorSummary counts events per actor in a passing validation run.
type ActorSummary struct {
	EventCount int `json:"event_count"`
}

// Report is the validator's structured output (spec §4.7).
type Report struct {
	Valid      bool                    `json:"valid"`
	Errors     []*verrors.Error        `json:"errors"`
	EventCount int                     `json:"event_count"`
	Actors     map[string]ActorSummary `json:"actors"`
}

func (r *Report) fail(err *verrors.Error) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// Options configures the optional later phases: an expected state_hash
// to compare against (Phase 3) and the stored manifest/root to compare
// against (Phase 4). Both are optional — omitting them simply skips
// that phase's comparison while still running the cheaper phases.
type Options struct {
	ExpectedStateHash string
	StoredManifest     *manifest.Manifest
	StoredMerkleRoot   string
	ManifestPaths      []string
	ReadFile           manifest.FileReader
}

// ParseLines runs Phase 0: parse each line as UTF-8 JSON, failing fast
// on the first malformed line (spec §4.7 Phase 0).
func ParseLines(lines [][]byte) ([]event.Event, *verrors.Error) {
	events := make([]event.Event, 0, len(lines))
	for i, line := range lines {
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, verrors.New(verrors.CodeMalformedJSON, "line %d: %v", i+1, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Run executes all phases against events (already parsed via
// ParseLines, or otherwise sourced) and registry, in the order spec
// §4.7 fixes. Phase 1 runs per event, in order, and fails fast (first
// critical invariant) for that event, but the validator accumulates
// across events so one bad event does not hide problems in the rest of
// the log.
func Run(events []event.Event, registry *keyregistry.Registry, opts Options) *Report {
	report := &Report{Valid: true, Actors: map[string]ActorSummary{}}

	ordered := chain.TotalOrder(chain.Wrap(events))
	byID := make(map[string]event.Event, len(events))
	byLinked := make(map[string]chain.Linked, len(ordered))
	seenIDs := make(map[string]bool, len(events))
	for _, l := range ordered {
		byLinked[l.ID()] = l
	}
	for _, e := range events {
		byID[e.EventID] = e
	}

	actorChains := map[string][]event.Event{}

	positionByID := make(map[string]int, len(ordered))
	for i, l := range ordered {
		positionByID[l.ID()] = i
	}

	for i, l := range ordered {
		e := byID[l.ID()]
		report.EventCount++
		summary := report.Actors[e.Actor]
		summary.EventCount++
		report.Actors[e.Actor] = summary

		if err := phase1(e, i, registry, seenIDs, byLinked, positionByID, len(actorChains[e.Actor]) > 0); err != nil {
			report.fail(err)
			continue
		}
		seenIDs[e.EventID] = true
		actorChains[e.Actor] = append(actorChains[e.Actor], e)
	}

	for _, chainEvents := range actorChains {
		if err := chain.VerifyLinkage(chain.Wrap(chainEvents)); err != nil {
			report.fail(err)
		}
	}

	if err := phase2(ordered, byID); err != nil {
		report.fail(err)
	}

	if err := phase3(ordered, byID, opts.ExpectedStateHash); err != nil {
		report.fail(err)
	}

	if opts.StoredManifest != nil && opts.ReadFile != nil {
		if err := phase4(*opts.StoredManifest, opts.StoredMerkleRoot, opts.ManifestPaths, opts.ReadFile); err != nil {
			report.fail(err)
		}
	}

	return report
}

// phase1 runs the seven per-event checks of spec §4.7 Phase 1, in
// order, returning the first that fails.
func phase1(e event.Event, position int, registry *keyregistry.Registry, seenIDs map[string]bool, byLinked map[string]chain.Linked, positionByID map[string]int, actorHasPriorEvent bool) *verrors.Error {
	if err := e.ValidateFormat(); err != nil {
		return err
	}

	recomputed, err2 := e.DeriveEventID()
	if err2 != nil {
		return verrors.New(verrors.CodeCanonicalFormat, "recomputing event_id: %v", err2).WithEvent(e.EventID)
	}
	if recomputed != e.EventID {
		return verrors.New(verrors.CodeEventIDMismatch, "event_id does not match recomputed hash").WithEvent(e.EventID)
	}

	if seenIDs[e.EventID] {
		return verrors.New(verrors.CodeDuplicateEventID, "duplicate event_id").WithEvent(e.EventID)
	}

	key, keyErr := registry.Get(e.ActorKeyID)
	if keyErr != nil {
		return verrors.New(verrors.CodeKeyNotFound, "unknown actor_key_id %s", e.ActorKeyID).WithEvent(e.EventID)
	}
	if key.Status == keyregistry.StatusRevoked {
		boundaryPos, known := positionByID[key.TrustBoundary]
		if !known || position > boundaryPos {
			return verrors.New(verrors.CodeRevokedKeyUse, "key %s used past its trust boundary", e.ActorKeyID).WithEvent(e.EventID)
		}
	}

	signable, sigErr := e.CanonicalWithoutSig()
	if sigErr != nil {
		return verrors.New(verrors.CodeCanonicalFormat, "canonicalizing for signature check: %v", sigErr).WithEvent(e.EventID)
	}
	sigBytes, sigDecodeErr := e.SignatureBytes()
	if sigDecodeErr != nil {
		return verrors.New(verrors.CodeSignatureFormat, "decoding sig: %v", sigDecodeErr).WithEvent(e.EventID)
	}
	if !vcrypto.Verify(key.PublicKey, signable, sigBytes) {
		return verrors.New(verrors.CodeInvalidSignature, "signature does not verify").WithEvent(e.EventID)
	}

	if e.PrevEventHash == nil {
		if actorHasPriorEvent {
			return verrors.New(verrors.CodeFirstEventPrevNotNull, "actor %s already has events prior to a null-prev event", e.Actor).WithEvent(e.EventID)
		}
	} else {
		referenced, ok := byLinked[*e.PrevEventHash]
		if !ok {
			return verrors.New(verrors.CodeOrphanChainReference, "prev_event_hash %s does not exist", *e.PrevEventHash).WithEvent(e.EventID)
		}
		if referenced.ActorName() != e.Actor {
			return verrors.New(verrors.CodeCrossActorChainRef, "prev_event_hash %s belongs to a different actor", *e.PrevEventHash).WithEvent(e.EventID)
		}
	}

	return nil
}

// phase2 scans rotation events per spec §4.7 Phase 2.
func phase2(ordered []chain.Linked, byID map[string]event.Event) *verrors.Error {
	lastRevocationByActor := map[string]event.Event{}
	for _, l := range ordered {
		e := byID[l.ID()]
		switch e.Type {
		case event.TypeKeyRevocation:
			boundary, _ := e.Payload["trust_boundary_event_id"].(string)
			if boundary == "" {
				return verrors.New(verrors.CodeRotationNoBoundary, "KEY_REVOCATION missing trust_boundary_event_id").WithEvent(e.EventID)
			}
			lastRevocationByActor[e.Actor] = e
		case event.TypeKeyPromotion:
			if _, ok := lastRevocationByActor[e.Actor]; !ok {
				return verrors.New(verrors.CodeRotationOrphanPromote, "KEY_PROMOTION has no prior KEY_REVOCATION by the same actor").WithEvent(e.EventID)
			}
			newKeyID, _ := e.Payload["new_key_id"].(string)
			if newKeyID != "" && newKeyID == e.ActorKeyID {
				return verrors.New(verrors.CodeRotationSelfSigned, "KEY_PROMOTION signed by the key it promotes").WithEvent(e.EventID)
			}
		}
	}
	return nil
}

// phase3 re-runs the reducer and, if expectedStateHash is non-empty,
// compares against it (spec §4.7 Phase 3).
func phase3(ordered []chain.Linked, byID map[string]event.Event, expectedStateHash string) *verrors.Error {
	events := make([]event.Event, len(ordered))
	for i, l := range ordered {
		events[i] = byID[l.ID()]
	}
	state, err := reducer.Reduce(events)
	if err != nil {
		return verrors.New(verrors.CodeStateHashDivergence, "re-running reducer: %v", err)
	}
	if expectedStateHash != "" && state.Metadata.StateHash != expectedStateHash {
		return verrors.New(verrors.CodeStateHashDivergence, "state_hash mismatch: got %s, want %s", state.Metadata.StateHash, expectedStateHash)
	}
	return nil
}

// phase4 recomputes the manifest and Merkle root and compares against
// stored values (spec §4.7 Phase 4).
func phase4(stored manifest.Manifest, storedRoot string, paths []string, read manifest.FileReader) *verrors.Error {
	files, err := manifest.BuildFiles(paths, read)
	if err != nil {
		if verr, ok := err.(*verrors.Error); ok {
			return verr
		}
		return verrors.New(verrors.CodeManifestFileMissing, "rebuilding manifest: %v", err)
	}
	if len(files) != len(stored.Files) {
		return verrors.New(verrors.CodeManifestFileMissing, "manifest file count mismatch: got %d, want %d", len(files), len(stored.Files))
	}
	for i := range files {
		if files[i] != stored.Files[i] {
			return verrors.New(verrors.CodeManifestHashMismatch, "manifest entry mismatch at %s", files[i].Path)
		}
	}
	root, err := manifest.MerkleRoot(files)
	if err != nil {
		return verrors.New(verrors.CodeMerkleRootMismatch, "recomputing merkle root: %v", err)
	}
	if root != storedRoot {
		return verrors.New(verrors.CodeMerkleRootMismatch, "merkle_root mismatch: got %s, want %s", root, storedRoot)
	}
	return nil
}
