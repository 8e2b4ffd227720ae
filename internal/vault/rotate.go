package vault

import (
	"crypto/ed25519"
	"time"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/logging"
	"github.com/provara/provara/internal/vcrypto"
)

// RotateRequest describes a two-event rotation ceremony (spec §4.4,
// §6.1 `rotate(vault, revoke_key_id, new_pub, authority_key)`).
type RotateRequest struct {
	RevokedKeyID string
	Reason       string
	// TrustBoundaryEventID names the last event considered signed under
	// the revoked key's legitimate authority. If empty, it defaults to
	// the vault's current log tip.
	TrustBoundaryEventID string

	NewPublicKey ed25519.PublicKey
	NewRoles     []string

	AuthorityActor      string
	AuthorityKeyID      string
	AuthorityPrivateKey ed25519.PrivateKey
}

// RotateResult is the signed event pair a successful ceremony produces.
type RotateResult struct {
	Revocation event.Event
	Promotion  event.Event
}

// Rotate runs the revocation+promotion ceremony under the vault lock.
// It validates both transitions against a freshly replayed registry
// before writing anything, so a failing ceremony never partially
// appends (spec §4.4 "surviving authority" and K3 self-sign rules).
func (v *Vault) Rotate(req RotateRequest) (*RotateResult, error) {
	var result *RotateResult
	err := v.withLock(func() error {
		reg, events, err := v.registry()
		if err != nil {
			return err
		}

		boundary := req.TrustBoundaryEventID
		if boundary == "" {
			if len(events) > 0 {
				boundary = events[len(events)-1].EventID
			}
		}

		now := time.Now()

		revocation := event.Event{
			Type:          event.TypeKeyRevocation,
			Actor:         req.AuthorityActor,
			ActorKeyID:    req.AuthorityKeyID,
			TimestampUTC:  event.NowUTC(now),
			PrevEventHash: lastEventIDForActor(events, req.AuthorityActor),
			Namespace:     event.NamespaceCanonical,
			Payload: map[string]interface{}{
				"revoked_key_id":          req.RevokedKeyID,
				"trust_boundary_event_id": boundary,
				"reason":                  req.Reason,
				"revoked_by":              req.AuthorityKeyID,
			},
		}
		signedRevocation, err := revocation.Sign(req.AuthorityPrivateKey)
		if err != nil {
			return err
		}
		if err := reg.ApplyRevocation(keyregistry.RevocationRequest{
			RevokedKeyID:         req.RevokedKeyID,
			TrustBoundaryEventID: boundary,
			Reason:               req.Reason,
			RevokedBy:            req.AuthorityKeyID,
		}); err != nil {
			return err
		}

		newKeyID := vcrypto.DeriveKeyID(req.NewPublicKey)
		eventsAfterRevocation := append(append([]event.Event{}, events...), signedRevocation)
		// One nanosecond later than the revocation, so the total order
		// (timestamp, then event_id) keeps the promotion after it.
		promotion := event.Event{
			Type:          event.TypeKeyPromotion,
			Actor:         req.AuthorityActor,
			ActorKeyID:    req.AuthorityKeyID,
			TimestampUTC:  event.NowUTC(now.Add(time.Nanosecond)),
			PrevEventHash: lastEventIDForActor(eventsAfterRevocation, req.AuthorityActor),
			Namespace:     event.NamespaceCanonical,
			Payload: map[string]interface{}{
				"new_key_id":         newKeyID,
				"new_public_key_b64": keyregistry.EncodePublicKey(req.NewPublicKey),
				"algorithm":          "Ed25519",
				"roles":              toInterfaceSlice(req.NewRoles),
				"promoted_by":        req.AuthorityKeyID,
				"replaces_key_id":    req.RevokedKeyID,
			},
		}
		signedPromotion, err := promotion.Sign(req.AuthorityPrivateKey)
		if err != nil {
			return err
		}
		if err := reg.ApplyPromotion(keyregistry.PromotionRequest{
			NewKeyID:      newKeyID,
			NewPublicKey:  req.NewPublicKey,
			Roles:         req.NewRoles,
			PromotedBy:    req.AuthorityKeyID,
			ReplacesKeyID: req.RevokedKeyID,
		}); err != nil {
			return err
		}

		if err := appendEventUnlocked(v, signedRevocation); err != nil {
			return err
		}
		if err := appendEventUnlocked(v, signedPromotion); err != nil {
			return err
		}
		if err := writeKeysSnapshot(v, reg); err != nil {
			return err
		}

		result = &RotateResult{Revocation: signedRevocation, Promotion: signedPromotion}
		logging.Info("key rotated", logging.Fields{
			VaultPath: v.Path, Operation: "rotate",
			Actor: req.AuthorityActor, KeyID: newKeyID,
		})
		return nil
	})
	return result, err
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
