package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return path
}

func TestLoadSafetyAndConfidenceBelowViolation(t *testing.T) {
	path := writeTemp(t, "safety.yaml", `
version: "1.0"
rules:
  - id: no-low-confidence-financial
    match_type: "com.example.finance.*"
    forbid: confidence_below
    threshold: 0.5
`)
	p, err := LoadSafety(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Version != "1.0" || len(p.Rules) != 1 {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if v := p.ConfidenceBelowViolation("com.example.finance.transfer", 0.2); v == nil {
		t.Fatalf("expected violation for low confidence")
	}
	if v := p.ConfidenceBelowViolation("com.example.finance.transfer", 0.9); v != nil {
		t.Fatalf("expected no violation for high confidence")
	}
	if v := p.ConfidenceBelowViolation("com.example.other.thing", 0.1); v != nil {
		t.Fatalf("expected no violation for unmatched type")
	}
}

func TestLoadRetention(t *testing.T) {
	path := writeTemp(t, "retention.yaml", `
version: "1.0"
archived_days: 90
contested_days: 30
keep_genesis: true
`)
	p, err := LoadRetention(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.ArchivedDays != 90 || p.ContestedDays != 30 || !p.KeepGenesis {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestLoadSyncAndIsTrusted(t *testing.T) {
	path := writeTemp(t, "sync.yaml", `
version: "1.0"
require_trust: true
trusted_peers:
  - key_id: bp1_0000000000000000
    label: laptop
`)
	p, err := LoadSync(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !p.RequireTrust {
		t.Fatalf("expected require_trust true")
	}
	if !p.IsTrusted("bp1_0000000000000000") {
		t.Fatalf("expected trusted peer to match")
	}
	if p.IsTrusted("bp1_ffffffffffffffff") {
		t.Fatalf("expected unknown key to be untrusted")
	}
}
