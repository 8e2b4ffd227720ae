package keyregistry

import (
	"testing"

	"github.com/provara/provara/internal/vcrypto"
)

func newRootKey(t *testing.T, r *Registry, roles ...string) string {
	t.Helper()
	pub, _, id, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(roles) == 0 {
		roles = []string{RoleRoot}
	}
	if err := r.Register(id, pub, roles); err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestRotationCeremonyHappyPath(t *testing.T) {
	r := New()
	root := newRootKey(t, r)
	quorum := newRootKey(t, r, RoleRoot, RoleQuorum)

	if err := r.ApplyRevocation(RevocationRequest{
		RevokedKeyID:         root,
		TrustBoundaryEventID: "evt_000000000000000000000000",
		Reason:               "scheduled rotation",
		RevokedBy:            quorum,
	}); err != nil {
		t.Fatalf("revocation: %v", err)
	}

	newPub, _, newID, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := r.ApplyPromotion(PromotionRequest{
		NewKeyID:      newID,
		NewPublicKey:  newPub,
		Roles:         []string{RoleRoot},
		PromotedBy:    quorum,
		ReplacesKeyID: root,
	}); err != nil {
		t.Fatalf("promotion: %v", err)
	}

	revoked, err := r.Get(root)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if revoked.Status != StatusRevoked {
		t.Fatalf("expected root to be revoked")
	}
	promoted, err := r.Get(newID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if promoted.Status != StatusActive {
		t.Fatalf("expected new key to be active")
	}
}

func TestRevocationRejectsSelfSign(t *testing.T) {
	r := New()
	root := newRootKey(t, r)

	err := r.ApplyRevocation(RevocationRequest{
		RevokedKeyID:         root,
		TrustBoundaryEventID: "evt_000000000000000000000000",
		RevokedBy:            root,
	})
	if err == nil {
		t.Fatalf("expected self-revocation to fail")
	}
}

func TestPromotionRejectsSelfSign(t *testing.T) {
	r := New()
	root := newRootKey(t, r)
	newPub, _, newID, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_ = root
	err = r.ApplyPromotion(PromotionRequest{
		NewKeyID:     newID,
		NewPublicKey: newPub,
		PromotedBy:   newID,
	})
	if err == nil {
		t.Fatalf("expected self-promotion to fail")
	}
}

func TestRevocationRequiresTrustBoundary(t *testing.T) {
	r := New()
	root := newRootKey(t, r)
	quorum := newRootKey(t, r)

	err := r.ApplyRevocation(RevocationRequest{
		RevokedKeyID: root,
		RevokedBy:    quorum,
	})
	if err == nil {
		t.Fatalf("expected missing trust_boundary_event_id to fail")
	}
}

func TestIdentityDeathWhenNoSurvivingAuthority(t *testing.T) {
	r := New()
	attestor := newRootKey(t, r, RoleAttestation)
	_ = attestor
	if !r.IdentityDead() {
		t.Fatalf("expected identity death with no root-role key registered")
	}
}

func TestAcceptableAtPositionBoundary(t *testing.T) {
	r := New()
	root := newRootKey(t, r)
	quorum := newRootKey(t, r)
	if err := r.ApplyRevocation(RevocationRequest{
		RevokedKeyID:         root,
		TrustBoundaryEventID: "evt_aaaaaaaaaaaaaaaaaaaaaaaa",
		RevokedBy:            quorum,
	}); err != nil {
		t.Fatalf("revocation: %v", err)
	}

	ok, err := r.AcceptableAt(root, 5, 10)
	if err != nil || !ok {
		t.Fatalf("expected event before boundary to be acceptable: ok=%v err=%v", ok, err)
	}
	ok, err = r.AcceptableAt(root, 11, 10)
	if err != nil || ok {
		t.Fatalf("expected event after boundary to be rejected: ok=%v err=%v", ok, err)
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	pub, _, _, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	encoded := EncodePublicKey(pub)
	decoded, err := DecodePublicKey(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(pub) {
		t.Fatalf("round trip mismatch")
	}
}
