package vault

import (
	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/verrors"
)

// BuildRegistry replays events into a fresh key registry: the first
// event must be a GENESIS carrying the root key's public bytes, and
// every KEY_REVOCATION/KEY_PROMOTION thereafter is applied in log order.
// This is how identity/keys.json is regenerated, never trusted as
// stored (spec §3.5).
func BuildRegistry(events []event.Event) (*keyregistry.Registry, error) {
	reg := keyregistry.New()
	if len(events) == 0 {
		return reg, nil
	}
	genesis := events[0]
	if genesis.Type != event.TypeGenesis {
		return nil, verrors.New(verrors.CodeVaultStructure, "first event is not GENESIS")
	}
	rootKeyID, _ := genesis.Payload["root_key_id"].(string)
	rootPubB64, _ := genesis.Payload["root_public_key_b64"].(string)
	if rootKeyID == "" || rootPubB64 == "" {
		return nil, verrors.New(verrors.CodeVaultStructure, "GENESIS missing root_key_id or root_public_key_b64")
	}
	rootPub, err := keyregistry.DecodePublicKey(rootPubB64)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(rootKeyID, rootPub, []string{keyregistry.RoleRoot}); err != nil {
		return nil, err
	}

	if quorumKeyID, ok := genesis.Payload["quorum_key_id"].(string); ok && quorumKeyID != "" {
		quorumPubB64, _ := genesis.Payload["quorum_public_key_b64"].(string)
		quorumPub, err := keyregistry.DecodePublicKey(quorumPubB64)
		if err != nil {
			return nil, err
		}
		// The quorum key also carries the root role, which is what lets it
		// sign a rotation of the root key.
		if err := reg.Register(quorumKeyID, quorumPub, []string{keyregistry.RoleQuorum, keyregistry.RoleRoot}); err != nil {
			return nil, err
		}
	}

	for _, e := range events[1:] {
		switch e.Type {
		case event.TypeKeyRevocation:
			revokedKeyID, _ := e.Payload["revoked_key_id"].(string)
			boundary, _ := e.Payload["trust_boundary_event_id"].(string)
			reason, _ := e.Payload["reason"].(string)
			if err := reg.ApplyRevocation(keyregistry.RevocationRequest{
				RevokedKeyID:         revokedKeyID,
				TrustBoundaryEventID: boundary,
				Reason:               reason,
				RevokedBy:            e.ActorKeyID,
			}); err != nil {
				return nil, err
			}
		case event.TypeKeyPromotion:
			newKeyID, _ := e.Payload["new_key_id"].(string)
			newPubB64, _ := e.Payload["new_public_key_b64"].(string)
			replaces, _ := e.Payload["replaces_key_id"].(string)
			newPub, err := keyregistry.DecodePublicKey(newPubB64)
			if err != nil {
				return nil, err
			}
			if err := reg.ApplyPromotion(keyregistry.PromotionRequest{
				NewKeyID:      newKeyID,
				NewPublicKey:  newPub,
				Roles:         rolesOf(e.Payload),
				PromotedBy:    e.ActorKeyID,
				ReplacesKeyID: replaces,
			}); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

func rolesOf(payload map[string]interface{}) []string {
	raw, ok := payload["roles"].([]interface{})
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}
