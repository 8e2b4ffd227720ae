package vault

import (
	"crypto/ed25519"
	"os"
	"time"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/logging"
	"github.com/provara/provara/internal/pool"
	"github.com/provara/provara/internal/verrors"
)

// AppendRequest describes a new event to append (spec §6.1 `append`).
type AppendRequest struct {
	Type         string
	Actor        string
	ActorKeyID   string
	Namespace    event.Namespace
	Payload      map[string]interface{}
	SigningKey   ed25519.PrivateKey
	TsLogical    *int64
	TimestampUTC string // optional override, mainly for tests; defaults to now
}

// Append builds, signs, and durably appends one event to the vault's
// log under the vault lock, for the request's entire duration (spec
// §6.1: "Every operation that writes MUST acquire the vault lock for
// its entire duration.").
func (v *Vault) Append(req AppendRequest) (event.Event, error) {
	var result event.Event
	err := v.withLock(func() error {
		reg, events, err := v.registry()
		if err != nil {
			return err
		}
		key, err := reg.Get(req.ActorKeyID)
		if err != nil {
			return err
		}
		if key.Status != keyregistry.StatusActive {
			return verrors.New(verrors.CodeRevokedKeyUse, "actor_key_id %s is not active", req.ActorKeyID)
		}

		safety, err := v.loadSafetyPolicy()
		if err != nil {
			return err
		}
		if safety != nil {
			if confidence, ok := req.Payload["confidence"].(float64); ok {
				if rule := safety.ConfidenceBelowViolation(req.Type, confidence); rule != nil {
					return verrors.New(verrors.CodeSafetyPolicyViolation, "event type %s confidence %.4f below ratchet %s (%.4f)", req.Type, confidence, rule.ID, rule.Threshold)
				}
			}
		}

		prev := lastEventIDForActor(events, req.Actor)

		ts := req.TimestampUTC
		if ts == "" {
			ts = event.NowUTC(time.Now())
		}

		e := pool.GetEvent()
		e.Type = req.Type
		e.Actor = req.Actor
		e.ActorKeyID = req.ActorKeyID
		e.TsLogical = req.TsLogical
		e.TimestampUTC = ts
		e.PrevEventHash = prev
		e.Namespace = req.Namespace
		for k, val := range req.Payload {
			e.Payload[k] = val
		}

		signed, err := e.Sign(req.SigningKey)
		if err != nil {
			pool.PutEvent(e)
			return err
		}
		// Sign copies scalar fields but Payload is a map, so signed still
		// aliases e's pooled payload. Give signed its own map before e is
		// cleared and returned to the pool.
		ownPayload := make(map[string]interface{}, len(signed.Payload))
		for k, val := range signed.Payload {
			ownPayload[k] = val
		}
		signed.Payload = ownPayload
		pool.PutEvent(e)

		if err := appendEventUnlocked(v, signed); err != nil {
			return err
		}
		result = signed
		logging.Info("event appended", logging.Fields{VaultPath: v.Path, Operation: "append", Actor: req.Actor, EventID: signed.EventID})
		return nil
	})
	return result, err
}

// lastEventIDForActor scans events (storage order) for the most recent
// event authored by actor, returning nil if actor has none yet.
func lastEventIDForActor(events []event.Event, actor string) *string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Actor == actor {
			id := events[i].EventID
			return &id
		}
	}
	return nil
}

// appendEventUnlocked writes one canonical NDJSON line to
// events/events.ndjson. Callers must already hold the vault lock.
func appendEventUnlocked(v *Vault, e event.Event) error {
	f, err := os.OpenFile(v.eventsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return verrors.New(verrors.CodeVaultStructure, "opening events.ndjson: %v", err)
	}
	defer f.Close()

	line, err := marshalEventLine(e)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "writing event line: %v", err)
	}
	return nil
}
