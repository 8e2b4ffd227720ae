// Package syncx implements Provara's L7 layer: union-merge of two event
// logs, NDJSON delta bundle encoding/decoding, and fencing tokens that
// guard concurrent log-head writes (spec §4.6).
//
// The rate limiter guarding delta import throughput is grounded on the
// same golang.org/x/time/rate limiter the correlator-io retrieval
// example wires into its HTTP middleware
// (internal/api/middleware/ratelimit.go) — there bounding request rate
// per caller, here bounding the NDJSON line-import rate per bundle.
package syncx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"golang.org/x/time/rate"

	"github.com/provara/provara/internal/chain"
	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/ring"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

// maxDeltaEvents bounds how many events a single delta bundle may carry
// in memory during import, via internal/ring's fixed-capacity buffer,
// so a malformed or malicious bundle cannot grow DecodeDelta's working
// set unboundedly.
const maxDeltaEvents = 1 << 16

// DeltaHeader is the first line of a delta bundle (spec §4.6).
type DeltaHeader struct {
	Type       string   `json:"type"`
	SinceHash  string   `json:"since_hash"`
	EventCount int      `json:"event_count"`
	Keys       []string `json:"keys"`
}

const DeltaType = "provara_delta_v1"

// MergeReport summarizes a union merge or delta import.
type MergeReport struct {
	Accepted       int
	Duplicates     int
	MalformedLines []int // 1-based line numbers rejected individually
	Forks          []chain.Fork
	Untrusted      []string // event ids quarantined by sync policy, not merged
}

// dedupKey returns the identity a merge dedups on: the event_id when
// present, else a content-hash fallback over the canonical event minus
// event_id and sig (spec §4.6: "by event_id when present; otherwise by
// content hash of the canonical event").
func dedupKey(e event.Event) (string, error) {
	if e.EventID != "" {
		return e.EventID, nil
	}
	b, err := e.CanonicalWithoutIDAndSig()
	if err != nil {
		return "", err
	}
	return vcrypto.SHA256Hex(b), nil
}

// Merge unions a and b, deduplicates, and returns the result in the
// normative total order (timestamp_utc ascending, event_id ascending).
func Merge(a, b []event.Event) ([]event.Event, *MergeReport, error) {
	report := &MergeReport{}
	seen := make(map[string]bool, len(a)+len(b))
	var out []event.Event

	for _, batch := range [][]event.Event{a, b} {
		for _, e := range batch {
			key, err := dedupKey(e)
			if err != nil {
				return nil, nil, err
			}
			if seen[key] {
				report.Duplicates++
				continue
			}
			seen[key] = true
			out = append(out, e)
			report.Accepted++
		}
	}

	ordered := chain.TotalOrder(chain.Wrap(out))
	merged := make([]event.Event, len(out))
	byID := make(map[string]event.Event, len(out))
	for _, e := range out {
		byID[e.EventID] = e
	}
	for i, l := range ordered {
		merged[i] = byID[l.ID()]
	}

	report.Forks = chain.DetectForks(chain.Wrap(merged))
	return merged, report, nil
}

// EncodeDelta writes a delta bundle: the header line followed by one
// NDJSON line per event in events.
func EncodeDelta(w io.Writer, header DeltaHeader, events []event.Event) error {
	enc := json.NewEncoder(w)
	header.Type = DeltaType
	header.EventCount = len(events)
	if err := enc.Encode(header); err != nil {
		return verrors.New(verrors.CodeMalformedJSON, "encoding delta header: %v", err)
	}
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return verrors.New(verrors.CodeMalformedJSON, "encoding delta event: %v", err)
		}
	}
	return nil
}

// DecodeDelta parses a delta bundle. Malformed NDJSON lines are skipped
// and recorded by line number rather than aborting the whole import
// (spec §4.6: "malformed lines are rejected individually and counted in
// a report; the merge otherwise proceeds"). When limiter is non-nil,
// Wait is called once per non-blank line before it is unmarshaled,
// bounding import throughput the way correlator-io's rate.Limiter
// bounds inbound request rate; pass a nil limiter to import unbounded.
func DecodeDelta(ctx context.Context, r io.Reader, limiter *DeltaImportLimiter) (DeltaHeader, []event.Event, *MergeReport, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var header DeltaHeader
	if !scanner.Scan() {
		return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "empty delta bundle")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "decoding delta header: %v", err)
	}
	if header.Type != DeltaType {
		return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "unexpected delta type: %s", header.Type)
	}

	pending, err := ring.New[event.Event](maxDeltaEvents)
	if err != nil {
		return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "allocating delta import buffer: %v", err)
	}

	report := &MergeReport{}
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "delta import rate limit: %v", err)
			}
		}
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			report.MalformedLines = append(report.MalformedLines, lineNo)
			continue
		}
		if err := pending.Push(e); err != nil {
			return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "delta bundle exceeds %d events: %v", maxDeltaEvents, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "scanning delta bundle: %v", err)
	}

	events := make([]event.Event, 0, pending.Len())
	for !pending.IsEmpty() {
		e, err := pending.Pop()
		if err != nil {
			return header, nil, nil, verrors.New(verrors.CodeMalformedJSON, "draining delta import buffer: %v", err)
		}
		events = append(events, e)
	}
	report.Accepted = len(events)
	return header, events, report, nil
}

// DeltaImportLimiter bounds how fast NDJSON delta lines are accepted
// during import, the way correlator-io's rate.Limiter bounds inbound
// HTTP request rate. One token is consumed per imported line.
type DeltaImportLimiter struct {
	limiter *rate.Limiter
}

// NewDeltaImportLimiter builds a limiter admitting up to linesPerSecond
// lines per second, with a burst allowance of linesPerSecond rounded
// down plus one, so a fractional rate still admits one line at once.
func NewDeltaImportLimiter(linesPerSecond float64) *DeltaImportLimiter {
	return &DeltaImportLimiter{limiter: rate.NewLimiter(rate.Limit(linesPerSecond), int(linesPerSecond)+1)}
}

// Wait blocks until the limiter admits the next line or ctx is done.
func (l *DeltaImportLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// FencingToken is the signed proof a writer attaches to a log-head
// dependent write (spec §4.6).
type FencingToken struct {
	LatestEventID string
	Timestamp     string
	Nonce         string
	Sig           []byte
}

// TokenDigest computes SHA-256(latest_event_id ":" timestamp ":" nonce),
// the bytes a fencing token signs.
func TokenDigest(latestEventID, timestamp, nonce string) [32]byte {
	return vcrypto.SHA256([]byte(latestEventID + ":" + timestamp + ":" + nonce))
}

// VerifyFencingToken checks (a) the token's signature verifies under
// pub, and (b) LatestEventID still matches currentHead, the log head at
// acceptance time. A stale token (superseded head) is rejected.
func VerifyFencingToken(tok FencingToken, pub []byte, currentHead string) bool {
	if tok.LatestEventID != currentHead {
		return false
	}
	digest := TokenDigest(tok.LatestEventID, tok.Timestamp, tok.Nonce)
	return vcrypto.Verify(pub, digest[:], tok.Sig)
}
