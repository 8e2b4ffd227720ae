// Package keyregistry implements Provara's L3 layer: the map of known
// keys, their roles and status, and the two-event rotation ceremony that
// revokes one key and promotes its replacement (spec §4.4, §3.2).
//
// It generalizes the teacher's internal/crypto.Signer.RotateKey (a single
// local keypair swap with no registry of record) into a registry shared
// across actors, since Provara keys are signing identities for many
// actors rather than one proxy's own key.
package keyregistry

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/provara/provara/internal/verrors"
)

// Status is a key's current standing in the registry.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// RoleRoot grants a key rotation authority (spec §4.4 "surviving
// authority"); RoleAttestation grants authority to resolve contested
// beliefs via ATTESTATION (spec §4.3, scenario S4).
const (
	RoleRoot        = "root"
	RoleAttestation = "attestation"
	RoleQuorum      = "quorum"
)

// Key is one registry entry.
type Key struct {
	KeyID        string
	PublicKey    ed25519.PublicKey
	Roles        []string
	Status       Status
	RevokedBy    string // key_id of the revoking authority, if revoked
	TrustBoundary string // event_id after which this key is no longer trusted, if revoked
}

// HasRole reports whether k carries role.
func (k Key) HasRole(role string) bool {
	for _, r := range k.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Registry holds the full set of known keys for a vault, active and
// revoked, per spec §4.4: "The registry maps key_id -> {public_key,
// roles, status, history}."
type Registry struct {
	keys map[string]*Key
	// order preserves registration order for deterministic iteration
	// (e.g. manifest/export), since Go map iteration is randomized.
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{keys: make(map[string]*Key)}
}

// Register adds a brand-new active key to the registry. It fails with a
// KEY_NOT_FOUND-coded error if the key id already exists, since key ids
// are content-addressed and a collision indicates reuse.
func (r *Registry) Register(keyID string, pub ed25519.PublicKey, roles []string) error {
	if _, exists := r.keys[keyID]; exists {
		return verrors.New(verrors.CodeKeyNotFound, "key already registered: %s", keyID)
	}
	r.keys[keyID] = &Key{KeyID: keyID, PublicKey: pub, Roles: roles, Status: StatusActive}
	r.order = append(r.order, keyID)
	return nil
}

// Get returns the key for keyID, or KEY_NOT_FOUND.
func (r *Registry) Get(keyID string) (*Key, error) {
	k, ok := r.keys[keyID]
	if !ok {
		return nil, verrors.New(verrors.CodeKeyNotFound, "unknown key: %s", keyID)
	}
	return k, nil
}

// Keys returns all registered keys in registration order.
func (r *Registry) Keys() []*Key {
	out := make([]*Key, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.keys[id])
	}
	return out
}

// SurvivingAuthorities returns the active keys carrying role (typically
// RoleRoot) that can sign a rotation ceremony, per spec §4.4.
func (r *Registry) SurvivingAuthorities(role string) []*Key {
	var out []*Key
	for _, id := range r.order {
		k := r.keys[id]
		if k.Status == StatusActive && k.HasRole(role) {
			out = append(out, k)
		}
	}
	return out
}

// IdentityDead reports whether no surviving root authority remains
// (spec §4.4 "identity death": events remain readable and verifiable,
// but no new events can be appended).
func (r *Registry) IdentityDead() bool {
	return len(r.SurvivingAuthorities(RoleRoot)) == 0
}

// RevocationRequest describes a KEY_REVOCATION payload's fields.
type RevocationRequest struct {
	RevokedKeyID        string
	TrustBoundaryEventID string
	Reason              string
	RevokedBy           string // key_id of the signing authority
}

// ApplyRevocation validates and applies a KEY_REVOCATION event's payload
// to the registry. It enforces K3 (no key revokes itself) and the
// surviving-authority rule (spec §4.4): the signer must be an active
// root-role key other than the one being revoked.
func (r *Registry) ApplyRevocation(req RevocationRequest) error {
	if req.RevokedKeyID == req.RevokedBy {
		return verrors.New(verrors.CodeRotationSelfSigned, "key %s cannot sign its own revocation", req.RevokedKeyID)
	}
	if req.TrustBoundaryEventID == "" {
		return verrors.New(verrors.CodeRotationNoBoundary, "revocation of %s missing trust_boundary_event_id", req.RevokedKeyID)
	}
	authority, err := r.Get(req.RevokedBy)
	if err != nil {
		return err
	}
	if authority.Status != StatusActive || !authority.HasRole(RoleRoot) {
		return verrors.New(verrors.CodeNoSurvivingAuthority, "revoker %s is not a surviving root authority", req.RevokedBy)
	}
	target, err := r.Get(req.RevokedKeyID)
	if err != nil {
		return err
	}
	target.Status = StatusRevoked
	target.RevokedBy = req.RevokedBy
	target.TrustBoundary = req.TrustBoundaryEventID
	return nil
}

// PromotionRequest describes a KEY_PROMOTION payload's fields.
type PromotionRequest struct {
	NewKeyID      string
	NewPublicKey  ed25519.PublicKey
	Roles         []string
	PromotedBy    string // key_id of the signing authority
	ReplacesKeyID string
}

// ApplyPromotion validates and applies a KEY_PROMOTION event's payload.
// It enforces K3 (no key promotes itself) and, when ReplacesKeyID is
// set, requires that it name a key already revoked by a prior ceremony
// step; an empty ReplacesKeyID is accepted. The same-actor pairing of
// promotion and revocation is checked by the validator's Phase 2, not
// here.
func (r *Registry) ApplyPromotion(req PromotionRequest) error {
	if req.NewKeyID == req.PromotedBy {
		return verrors.New(verrors.CodeRotationSelfSigned, "key %s cannot sign its own promotion", req.NewKeyID)
	}
	authority, err := r.Get(req.PromotedBy)
	if err != nil {
		return err
	}
	if authority.Status != StatusActive || !authority.HasRole(RoleRoot) {
		return verrors.New(verrors.CodeNoSurvivingAuthority, "promoter %s is not a surviving root authority", req.PromotedBy)
	}
	if req.ReplacesKeyID != "" {
		replaced, err := r.Get(req.ReplacesKeyID)
		if err != nil {
			return verrors.New(verrors.CodeRotationOrphanPromote, "promotion replaces unknown key %s", req.ReplacesKeyID)
		}
		if replaced.Status != StatusRevoked {
			return verrors.New(verrors.CodeRotationOrphanPromote, "promotion replaces key %s that was never revoked", req.ReplacesKeyID)
		}
	}
	if _, exists := r.keys[req.NewKeyID]; exists {
		return verrors.New(verrors.CodeKeyNotFound, "promoted key already registered: %s", req.NewKeyID)
	}
	r.keys[req.NewKeyID] = &Key{KeyID: req.NewKeyID, PublicKey: req.NewPublicKey, Roles: req.Roles, Status: StatusActive}
	r.order = append(r.order, req.NewKeyID)
	return nil
}

// AcceptableAt reports whether keyID may legally sign an event appearing
// at logicalPosition in the validator's total order, given the position (not the
// wall-clock timestamp) at which the trust boundary event falls.
//
// K2 refers to "timestamp_utc ... after its revocation's
// trust_boundary_event_id", but wall-clock trust is an explicit
// non-goal (spec §1). This implementation substitutes a monotonic
// position test: boundaryPosition is the index of the trust boundary
// event within the validator's total order, and logicalPosition is the
// index of the event under test. A position strictly after the
// boundary is rejected; the boundary event itself and everything
// before it remains valid.
func (r *Registry) AcceptableAt(keyID string, logicalPosition, boundaryPosition int) (bool, error) {
	k, err := r.Get(keyID)
	if err != nil {
		return false, err
	}
	if k.Status != StatusRevoked {
		return true, nil
	}
	return logicalPosition <= boundaryPosition, nil
}

// EncodePublicKey returns the base64 encoding of pub, the wire form used
// in KEY_PROMOTION payloads' new_public_key_b64 field.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// DecodePublicKey parses the base64-encoded public key from a
// KEY_PROMOTION payload.
func DecodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, verrors.New(verrors.CodeSignatureFormat, "decoding new_public_key_b64: %v", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, verrors.New(verrors.CodeSignatureFormat, "new_public_key_b64 wrong length: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
