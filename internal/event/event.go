// Package event implements Provara's L2 layer: the event schema, its
// content-addressed identity, and the signing envelope (spec §3.1, §4.2).
// It generalizes the teacher's internal/proxy.Event (a flat, single-chain
// record) into the actor-scoped, namespace-aware record the reducer and
// chain validator need.
package event

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/provara/provara/internal/canonical"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

// Namespace is one of the four reducer namespaces an event may target.
type Namespace string

const (
	NamespaceCanonical Namespace = "canonical"
	NamespaceLocal     Namespace = "local"
	NamespaceContested Namespace = "contested"
	NamespaceArchived  Namespace = "archived"
)

// Reserved core event types (spec §4.2).
const (
	TypeGenesis       = "GENESIS"
	TypeObservation   = "OBSERVATION"
	TypeAssertion     = "ASSERTION"
	TypeAttestation   = "ATTESTATION"
	TypeRetraction    = "RETRACTION"
	TypeKeyRevocation = "KEY_REVOCATION"
	TypeKeyPromotion  = "KEY_PROMOTION"
	TypeReducerEpoch  = "REDUCER_EPOCH"
)

var reservedTypes = map[string]bool{
	TypeGenesis: true, TypeObservation: true, TypeAssertion: true,
	TypeAttestation: true, TypeRetraction: true, TypeKeyRevocation: true,
	TypeKeyPromotion: true, TypeReducerEpoch: true,
}

// customTypePattern matches reverse-domain custom event types, e.g.
// "com.example.app.note_added".
var customTypePattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)+\.[a-z_]+$`)

// IsReservedType reports whether t is one of the built-in core types.
func IsReservedType(t string) bool { return reservedTypes[t] }

// IsValidCustomType reports whether t matches the reverse-domain custom
// type pattern required by spec §4.2.
func IsValidCustomType(t string) bool { return customTypePattern.MatchString(t) }

// IsValidType reports whether t is acceptable as an event type: either a
// reserved core type or a well-formed custom type.
func IsValidType(t string) bool { return IsReservedType(t) || IsValidCustomType(t) }

var (
	eventIDPattern = regexp.MustCompile(`^evt_[0-9a-f]{24}$`)
	keyIDPattern   = regexp.MustCompile(`^bp1_[0-9a-f]{16}$`)
)

// Event is Provara's append-only log record (spec §3.1).
type Event struct {
	EventID       string                 `json:"event_id"`
	Type          string                 `json:"type"`
	Actor         string                 `json:"actor"`
	ActorKeyID    string                 `json:"actor_key_id"`
	TsLogical     *int64                 `json:"ts_logical,omitempty"`
	TimestampUTC  string                 `json:"timestamp_utc"`
	PrevEventHash *string                `json:"prev_event_hash"`
	Namespace     Namespace              `json:"namespace"`
	Payload       map[string]interface{} `json:"payload"`
	Sig           string                 `json:"sig"`
}

// NowUTC formats t as the ISO-8601 UTC string the spec requires
// (ending "Z", nanosecond precision preserved for stable round-tripping).
func NowUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// toMap renders e as a map[string]interface{} via its JSON tags, so the
// canonicalizer sees exactly the field set and nesting a decoded log line
// would, regardless of how the caller built the Go value, and so fields
// can be selectively removed before canonicalization.
func (e Event) toMap() (map[string]interface{}, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, verrors.New(verrors.CodeCanonicalFormat, "marshaling event: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, verrors.New(verrors.CodeCanonicalFormat, "decoding event: %v", err)
	}
	return m, nil
}

// CanonicalWithoutIDAndSig returns the canonical bytes of e with
// "event_id" and "sig" removed, the input to event-id derivation (I1).
func (e Event) CanonicalWithoutIDAndSig() ([]byte, error) {
	m, err := e.toMap()
	if err != nil {
		return nil, err
	}
	delete(m, "event_id")
	delete(m, "sig")
	return canonical.MarshalMap(m)
}

// CanonicalWithoutSig returns the canonical bytes of e with "sig" removed,
// the input to signing and signature verification (I2).
func (e Event) CanonicalWithoutSig() ([]byte, error) {
	m, err := e.toMap()
	if err != nil {
		return nil, err
	}
	delete(m, "sig")
	return canonical.MarshalMap(m)
}

// DeriveEventID computes e's content-addressed id per invariant I1.
func (e Event) DeriveEventID() (string, error) {
	b, err := e.CanonicalWithoutIDAndSig()
	if err != nil {
		return "", err
	}
	return vcrypto.DeriveEventID(b), nil
}

// Sign finalizes e: it derives and sets EventID, then signs the event
// (minus Sig) with priv and sets Sig to the base64 signature. actorKeyID
// must equal the key id derived from priv's public half; callers are
// expected to have already set e.ActorKeyID accordingly.
func (e Event) Sign(priv ed25519.PrivateKey) (Event, error) {
	id, err := e.DeriveEventID()
	if err != nil {
		return Event{}, err
	}
	e.EventID = id

	signable, err := e.CanonicalWithoutSig()
	if err != nil {
		return Event{}, err
	}
	sig := vcrypto.Sign(priv, signable)
	e.Sig = base64.StdEncoding.EncodeToString(sig)
	return e, nil
}

// ValidateFormat checks the structural/format invariants from spec §3.1
// that do not require a key registry or chain context: required fields
// present, identifier formats, signature encoding.
func (e Event) ValidateFormat() *verrors.Error {
	if e.Type == "" || e.Actor == "" || e.ActorKeyID == "" || e.TimestampUTC == "" || e.Namespace == "" || e.Payload == nil {
		return verrors.New(verrors.CodeRequiredFieldMissing, "event missing a required field").WithEvent(e.EventID)
	}
	if !eventIDPattern.MatchString(e.EventID) {
		return verrors.New(verrors.CodeEventIDFormat, "malformed event_id: %s", e.EventID).WithEvent(e.EventID)
	}
	if !keyIDPattern.MatchString(e.ActorKeyID) {
		return verrors.New(verrors.CodeKeyIDFormat, "malformed actor_key_id: %s", e.ActorKeyID).WithEvent(e.EventID)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.999999999Z07:00", e.TimestampUTC); err != nil || e.TimestampUTC[len(e.TimestampUTC)-1] != 'Z' {
		return verrors.New(verrors.CodeTimestampFormat, "malformed timestamp_utc: %s", e.TimestampUTC).WithEvent(e.EventID)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return verrors.New(verrors.CodeSignatureFormat, "malformed sig").WithEvent(e.EventID)
	}
	switch e.Namespace {
	case NamespaceCanonical, NamespaceLocal, NamespaceContested, NamespaceArchived:
	default:
		return verrors.New(verrors.CodeRequiredFieldMissing, "invalid namespace: %s", e.Namespace).WithEvent(e.EventID)
	}
	if !IsValidType(e.Type) {
		return verrors.New(verrors.CodeCustomTypeFormat, "invalid event type: %s", e.Type).WithEvent(e.EventID)
	}
	return nil
}

// SignatureBytes returns the raw decoded signature bytes.
func (e Event) SignatureBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Sig)
}

// ProtocolVersion and Profile are the fixed genesis payload fields this
// implementation emits (spec §4.2, Profile A).
const (
	ProtocolVersion = "1.0"
	Profile         = "PROVARA-1.0_PROFILE_A"
)

// NewVaultUID generates a fresh vault identifier for a genesis event.
func NewVaultUID() string { return uuid.New().String() }

// NewGenesis builds the unsigned genesis event for a fresh vault: a
// GENESIS-typed, canonical-namespace event with no causal predecessor,
// carrying a fresh random vault identifier. Callers sign the result with
// the root key before appending it (it is always the first event of its
// own actor chain, so PrevEventHash is nil).
//
// The payload also carries the root key's raw public bytes
// (root_public_key_b64), not just its id: identity/keys.json is a
// regenerable projection of the event log (spec §3.5), and the log has
// nowhere else to carry the root key's public material before any
// KEY_PROMOTION event exists to introduce it.
func NewGenesis(uid string, actor, actorKeyID, rootKeyID string, rootPublicKey ed25519.PublicKey, now time.Time) Event {
	return Event{
		Type:          TypeGenesis,
		Actor:         actor,
		ActorKeyID:    actorKeyID,
		TimestampUTC:  NowUTC(now),
		PrevEventHash: nil,
		Namespace:     NamespaceCanonical,
		Payload: map[string]interface{}{
			"uid":                uid,
			"birth_timestamp":    NowUTC(now),
			"root_key_id":        rootKeyID,
			"root_public_key_b64": base64.StdEncoding.EncodeToString(rootPublicKey),
			"protocol_version":   ProtocolVersion,
			"profile":            Profile,
		},
	}
}
