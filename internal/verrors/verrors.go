// Package verrors centralizes Provara's stable error taxonomy (spec §7).
// The core never coerces invalid data silently; every failure mode surfaces
// as a typed *Error carrying the failing event id, field, and group.
package verrors

import "fmt"

// Code is a stable, symbolic error identifier, stable across conformant
// implementations. Group comments record the numeric codes that groups
// below assigns to each group.
type Code string

const (
	// Integrity (E001-E013)
	CodeHashMismatch            Code = "HASH_MISMATCH"
	CodeEventIDMismatch         Code = "EVENT_ID_MISMATCH"
	CodeInvalidSignature        Code = "INVALID_SIGNATURE"
	CodeBrokenCausalChain       Code = "BROKEN_CAUSAL_CHAIN"
	CodeOrphanChainReference    Code = "ORPHAN_CHAIN_REFERENCE"
	CodeCrossActorChainRef      Code = "CROSS_ACTOR_CHAIN_REFERENCE"
	CodeFirstEventPrevNotNull   Code = "FIRST_EVENT_PREV_NOT_NULL"
	CodeDuplicateEventID        Code = "DUPLICATE_EVENT_ID"
	CodeStateHashDivergence     Code = "STATE_HASH_DIVERGENCE"
	CodeMerkleRootMismatch      Code = "MERKLE_ROOT_MISMATCH"
	CodeManifestHashMismatch    Code = "MANIFEST_HASH_MISMATCH"
	CodeManifestSigMismatch     Code = "MANIFEST_SIGNATURE_MISMATCH"
	CodeManifestFileMissing     Code = "MANIFEST_FILE_MISSING"

	// Format (E100-E105)
	CodeCanonicalFormat  Code = "CANONICAL_FORMAT"
	CodeMalformedJSON    Code = "MALFORMED_JSON"
	CodeEventIDFormat    Code = "EVENT_ID_FORMAT"
	CodeKeyIDFormat      Code = "KEY_ID_FORMAT"
	CodeTimestampFormat  Code = "TIMESTAMP_FORMAT"
	CodeSignatureFormat  Code = "SIGNATURE_FORMAT"

	// Key management (E200-E205)
	CodeKeyNotFound           Code = "KEY_NOT_FOUND"
	CodeRevokedKeyUse         Code = "REVOKED_KEY_USE"
	CodeRotationSelfSigned    Code = "ROTATION_SELF_SIGNED"
	CodeRotationNoBoundary    Code = "ROTATION_MISSING_TRUST_BOUNDARY"
	CodeRotationOrphanPromote Code = "ROTATION_ORPHAN_PROMOTION"
	CodeNoSurvivingAuthority  Code = "NO_SURVIVING_AUTHORITY"

	// Schema (E300-E303)
	CodeRequiredFieldMissing Code = "REQUIRED_FIELD_MISSING"
	CodeCustomTypeFormat     Code = "CUSTOM_TYPE_FORMAT"
	CodeVaultStructure       Code = "VAULT_STRUCTURE"
	CodeSpecVersionMismatch  Code = "SPEC_VERSION_MISMATCH"

	// Safety (E400)
	CodeSafetyPolicyViolation Code = "SAFETY_POLICY_VIOLATION"
)

// groups maps each Code to the numeric range named in spec §7, purely for
// human-readable rendering; it carries no semantic weight of its own.
var groups = map[Code]string{
	CodeHashMismatch:          "E001",
	CodeEventIDMismatch:       "E002",
	CodeInvalidSignature:      "E003",
	CodeBrokenCausalChain:     "E004",
	CodeOrphanChainReference:  "E005",
	CodeCrossActorChainRef:    "E006",
	CodeFirstEventPrevNotNull: "E007",
	CodeDuplicateEventID:      "E008",
	CodeStateHashDivergence:   "E009",
	CodeMerkleRootMismatch:    "E010",
	CodeManifestHashMismatch:  "E011",
	CodeManifestSigMismatch:   "E012",
	CodeManifestFileMissing:   "E013",

	CodeCanonicalFormat: "E100",
	CodeMalformedJSON:   "E101",
	CodeEventIDFormat:   "E102",
	CodeKeyIDFormat:     "E103",
	CodeTimestampFormat: "E104",
	CodeSignatureFormat: "E105",

	CodeKeyNotFound:           "E200",
	CodeRevokedKeyUse:         "E201",
	CodeRotationSelfSigned:    "E202",
	CodeRotationNoBoundary:    "E203",
	CodeRotationOrphanPromote: "E204",
	CodeNoSurvivingAuthority:  "E205",

	CodeRequiredFieldMissing: "E300",
	CodeCustomTypeFormat:     "E301",
	CodeVaultStructure:       "E302",
	CodeSpecVersionMismatch:  "E303",

	CodeSafetyPolicyViolation: "E400",
}

// Error is the structured, typed error every Provara core operation returns
// on failure instead of coercing invalid data or using panics for control
// flow. It names the failing event and the failing field when applicable;
// Error() prefixes the message with the code's numeric group. It carries no
// pointer to a spec section.
type Error struct {
	Code    Code
	Message string
	EventID string
	Field   string
}

func (e *Error) Error() string {
	group := groups[e.Code]
	switch {
	case e.EventID != "" && e.Field != "":
		return fmt.Sprintf("[%s/%s] %s (event=%s field=%s)", group, e.Code, e.Message, e.EventID, e.Field)
	case e.EventID != "":
		return fmt.Sprintf("[%s/%s] %s (event=%s)", group, e.Code, e.Message, e.EventID)
	default:
		return fmt.Sprintf("[%s/%s] %s", group, e.Code, e.Message)
	}
}

// New builds an *Error for the given code and message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithEvent returns a copy of e annotated with the failing event id.
func (e *Error) WithEvent(eventID string) *Error {
	c := *e
	c.EventID = eventID
	return &c
}

// WithField returns a copy of e annotated with the failing field name.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// Group returns the numeric error group (e.g. "E001") for code.
func Group(code Code) string {
	return groups[code]
}
