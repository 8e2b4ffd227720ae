package syncx

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/vcrypto"
)

func ev(id, actor, prev, ts string) event.Event {
	var p *string
	if prev != "" {
		p = &prev
	}
	return event.Event{EventID: id, Actor: actor, PrevEventHash: p, TimestampUTC: ts, Payload: map[string]interface{}{}}
}

func TestMergeDedupsByEventID(t *testing.T) {
	a := []event.Event{ev("evt_1", "a1", "", "t0")}
	b := []event.Event{ev("evt_1", "a1", "", "t0"), ev("evt_2", "a1", "evt_1", "t1")}

	merged, report, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged events, got %d", len(merged))
	}
	if report.Duplicates != 1 {
		t.Fatalf("expected 1 duplicate, got %d", report.Duplicates)
	}
}

func TestMergeOrdersByTimestampThenEventID(t *testing.T) {
	a := []event.Event{ev("evt_b", "a1", "", "2026-01-01T00:00:01.000000000Z")}
	b := []event.Event{ev("evt_a", "a1", "", "2026-01-01T00:00:00.000000000Z")}

	merged, _, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged[0].EventID != "evt_a" || merged[1].EventID != "evt_b" {
		t.Fatalf("unexpected merge order: %v", merged)
	}
}

func TestMergeDetectsForks(t *testing.T) {
	a := []event.Event{ev("evt_1", "a1", "", "t0")}
	b := []event.Event{
		ev("evt_2a", "a1", "evt_1", "t1"),
		ev("evt_2b", "a1", "evt_1", "t1"),
	}
	_, report, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(report.Forks) != 1 {
		t.Fatalf("expected one fork, got %d", len(report.Forks))
	}
}

func TestEncodeDecodeDeltaRoundTrip(t *testing.T) {
	events := []event.Event{ev("evt_1", "a1", "", "t0"), ev("evt_2", "a1", "evt_1", "t1")}
	var buf bytes.Buffer
	if err := EncodeDelta(&buf, DeltaHeader{SinceHash: "abc"}, events); err != nil {
		t.Fatalf("encode: %v", err)
	}

	header, decoded, report, err := DecodeDelta(context.Background(), &buf, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if header.Type != DeltaType || header.SinceHash != "abc" || header.EventCount != 2 {
		t.Fatalf("unexpected header: %+v", header)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 decoded events, got %d", len(decoded))
	}
	if report.Accepted != 2 {
		t.Fatalf("expected report.Accepted 2, got %d", report.Accepted)
	}
}

func TestDecodeDeltaQuarantinesMalformedLines(t *testing.T) {
	raw := `{"type":"provara_delta_v1","since_hash":"x","event_count":2}
{"event_id":"evt_1"}
not-json-at-all
{"event_id":"evt_2"}
`
	header, decoded, report, err := DecodeDelta(context.Background(), bytes.NewBufferString(raw), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if header.Type != DeltaType {
		t.Fatalf("unexpected header type: %s", header.Type)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 well-formed events, got %d", len(decoded))
	}
	if len(report.MalformedLines) != 1 || report.MalformedLines[0] != 3 {
		t.Fatalf("expected malformed line 3 reported, got %v", report.MalformedLines)
	}
}

func TestFencingTokenRejectsStaleHead(t *testing.T) {
	pub, priv, _, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := TokenDigest("evt_1", "2026-01-01T00:00:00Z", "nonce-a")
	tok := FencingToken{
		LatestEventID: "evt_1",
		Timestamp:     "2026-01-01T00:00:00Z",
		Nonce:         "nonce-a",
		Sig:           vcrypto.Sign(priv, digest[:]),
	}
	if !VerifyFencingToken(tok, pub, "evt_1") {
		t.Fatalf("expected fencing token to verify against matching head")
	}
	if VerifyFencingToken(tok, pub, "evt_2") {
		t.Fatalf("expected stale fencing token to be rejected")
	}
}

func TestDeltaImportLimiterAdmitsWithinBurst(t *testing.T) {
	limiter := NewDeltaImportLimiter(1000)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
}

func TestDecodeDeltaAppliesLimiterPerLine(t *testing.T) {
	events := []event.Event{ev("evt_1", "a1", "", "t0"), ev("evt_2", "a1", "evt_1", "t1"), ev("evt_3", "a1", "evt_2", "t2")}
	var buf bytes.Buffer
	if err := EncodeDelta(&buf, DeltaHeader{SinceHash: "abc"}, events); err != nil {
		t.Fatalf("encode: %v", err)
	}

	limiter := NewDeltaImportLimiter(1000)
	_, decoded, _, err := DecodeDelta(context.Background(), &buf, limiter)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 decoded events, got %d", len(decoded))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	blocking := NewDeltaImportLimiter(0.001)
	blocking.limiter.SetBurst(0)
	var buf2 bytes.Buffer
	if err := EncodeDelta(&buf2, DeltaHeader{SinceHash: "abc"}, events); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, _, err := DecodeDelta(ctx, &buf2, blocking); err == nil {
		t.Fatalf("expected context deadline to abort rate-limited import")
	}
}
