package vault

import (
	"crypto/ed25519"
	"encoding/json"
	"os"

	"github.com/provara/provara/internal/canonical"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

// CreateKey generates a fresh Ed25519 keypair and its derived key id
// (spec §6.1 `create_key()`).
func CreateKey() (pub ed25519.PublicKey, priv ed25519.PrivateKey, keyID string, err error) {
	return vcrypto.GenerateKeyPair()
}

// DeriveKeyID computes a key id from raw public key bytes (spec §6.1
// `derive_key_id(pub)`, invariant K1).
func DeriveKeyID(pub ed25519.PublicKey) string {
	return vcrypto.DeriveKeyID(pub)
}

// Canonical exposes the L0 canonicalizer directly (spec §6.1
// `canonical(value)`), for callers that need to hash or sign
// vault-external data the same way the core does.
func Canonical(value interface{}) ([]byte, error) {
	return canonical.Marshal(value)
}

// KeyEntry is one entry of identity/keys.json's "keys" array (spec
// §6.2).
type KeyEntry struct {
	KeyID        string   `json:"key_id"`
	PublicKeyB64 string   `json:"public_key_b64"`
	Roles        []string `json:"roles"`
	Status       string   `json:"status"`
}

// RevocationEntry is one entry of identity/keys.json's "revocations"
// array (spec §6.2).
type RevocationEntry struct {
	KeyID                string `json:"key_id"`
	RevokedBy            string `json:"revoked_by"`
	TrustBoundaryEventID string `json:"trust_boundary_event_id"`
}

// KeysSnapshot is identity/keys.json's bit-exact top-level shape (spec
// §6.2): a regenerable projection of every KEY_PROMOTION/KEY_REVOCATION
// event, never itself authoritative (spec §3.5). A vault's actual
// authority is always the replayed registry BuildRegistry produces;
// this snapshot exists so a reader need not replay the whole log to
// answer "what keys exist right now."
type KeysSnapshot struct {
	Keys        []KeyEntry        `json:"keys"`
	Revocations []RevocationEntry `json:"revocations"`
}

// BuildKeysSnapshot derives the keys.json shape from a replayed
// registry.
func BuildKeysSnapshot(reg *keyregistry.Registry) KeysSnapshot {
	snap := KeysSnapshot{Keys: []KeyEntry{}, Revocations: []RevocationEntry{}}
	for _, k := range reg.Keys() {
		snap.Keys = append(snap.Keys, KeyEntry{
			KeyID:        k.KeyID,
			PublicKeyB64: keyregistry.EncodePublicKey(k.PublicKey),
			Roles:        k.Roles,
			Status:       string(k.Status),
		})
		if k.Status == keyregistry.StatusRevoked {
			snap.Revocations = append(snap.Revocations, RevocationEntry{
				KeyID:                k.KeyID,
				RevokedBy:            k.RevokedBy,
				TrustBoundaryEventID: k.TrustBoundary,
			})
		}
	}
	return snap
}

// writeKeysSnapshot writes reg's projection to identity/keys.json,
// canonicalized the same way an event is before it is hashed (spec §3:
// "round-trips through the canonicalizer for its own integrity").
// Callers must already hold the vault lock.
func writeKeysSnapshot(v *Vault, reg *keyregistry.Registry) error {
	canon, err := canonical.Marshal(BuildKeysSnapshot(reg))
	if err != nil {
		return err
	}
	if err := os.WriteFile(v.keysPath(), append(canon, '\n'), 0o644); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "writing keys.json: %v", err)
	}
	return nil
}

// ReadKeysSnapshot reads and parses a vault's identity/keys.json.
func ReadKeysSnapshot(path string) (KeysSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KeysSnapshot{}, verrors.New(verrors.CodeVaultStructure, "reading keys.json: %v", err)
	}
	var snap KeysSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return KeysSnapshot{}, verrors.New(verrors.CodeCanonicalFormat, "decoding keys.json: %v", err)
	}
	return snap, nil
}
