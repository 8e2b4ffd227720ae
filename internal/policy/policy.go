// Package policy loads the vault's three policy documents — safety,
// retention, sync — from policies/*.yaml. It is adapted from the
// teacher's internal/policy/engine.go (vouch-policy.yaml) and
// internal/proxy/policy.go (ael-policy.yaml): both parse a single
// versioned YAML document of match-method rules with gopkg.in/yaml.v3,
// and this package keeps that same load-and-match shape across the
// three narrower documents Provara actually needs.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/provara/provara/internal/assert"
)

// SafetyRule is one entry in policies/safety.yaml: a ratchet that, once
// tightened, forbids the matching event type from reverting (spec §7
// "Safety (E400): policy ratchet violations").
type SafetyRule struct {
	ID          string `yaml:"id"`
	MatchType   string `yaml:"match_type"`
	Forbid      string `yaml:"forbid"` // e.g. "confidence_below"
	Threshold   float64 `yaml:"threshold,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// SafetyPolicy is policies/safety.yaml's top-level shape.
type SafetyPolicy struct {
	Version string       `yaml:"version"`
	Rules   []SafetyRule `yaml:"rules"`
}

// RetentionPolicy is policies/retention.yaml's top-level shape: how long
// archived entries and contested groups are kept before a caller-driven
// prune pass may remove them. The core never prunes on its own (spec
// §1 non-goal: availability/backup); this only records the policy for
// an external collaborator to apply.
type RetentionPolicy struct {
	Version          string `yaml:"version"`
	ArchivedDays     int    `yaml:"archived_days"`
	ContestedDays    int    `yaml:"contested_days"`
	KeepGenesis      bool   `yaml:"keep_genesis"`
}

// TrustedPeer is one entry in policies/sync.yaml's peer allowlist.
type TrustedPeer struct {
	KeyID string `yaml:"key_id"`
	Label string `yaml:"label,omitempty"`
}

// SyncPolicy is policies/sync.yaml's top-level shape: which peer keys a
// merge accepts events signed by sight-unseen versus quarantines.
type SyncPolicy struct {
	Version       string        `yaml:"version"`
	TrustedPeers  []TrustedPeer `yaml:"trusted_peers"`
	RequireTrust  bool          `yaml:"require_trust"`
}

func load(path string, out interface{}) error {
	if err := assert.Check(path != "", "policy path must not be empty"); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing policy YAML %s: %w", path, err)
	}
	return nil
}

// LoadSafety parses policies/safety.yaml.
func LoadSafety(path string) (*SafetyPolicy, error) {
	var p SafetyPolicy
	if err := load(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadRetention parses policies/retention.yaml.
func LoadRetention(path string) (*RetentionPolicy, error) {
	var p RetentionPolicy
	if err := load(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadSync parses policies/sync.yaml.
func LoadSync(path string) (*SyncPolicy, error) {
	var p SyncPolicy
	if err := load(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// matchType mirrors the teacher's wildcard method matcher
// (internal/policy/engine.go matchPattern), generalized from RPC method
// names to Provara event types ("com.example.app.*").
func matchType(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// ConfidenceBelowViolation checks a SafetyPolicy's "confidence_below"
// ratchet rules against an incoming event type and confidence, per spec
// §7's E400 "policy ratchet violations": once a safety floor is
// configured for a type, evidence under that floor is rejected rather
// than silently accepted into local/contested.
func (p *SafetyPolicy) ConfidenceBelowViolation(eventType string, confidence float64) *SafetyRule {
	for i := range p.Rules {
		rule := &p.Rules[i]
		if rule.Forbid != "confidence_below" {
			continue
		}
		if matchType(rule.MatchType, eventType) && confidence < rule.Threshold {
			return rule
		}
	}
	return nil
}

// IsTrusted reports whether keyID appears in the sync policy's trusted
// peer allowlist.
func (p *SyncPolicy) IsTrusted(keyID string) bool {
	for _, peer := range p.TrustedPeers {
		if peer.KeyID == keyID {
			return true
		}
	}
	return false
}
