// Package canonical implements Provara's L0 layer: a deterministic,
// byte-exact JSON serialization that every hash and signature in the
// system depends on (spec §4.1, an RFC 8785 subset).
//
// The pipeline is the one the teacher's crypto engine already used for
// its own event hashing (json.Marshal -> json.Unmarshal into a clean
// interface{} -> jcs.Format): marshaling first normalizes Go struct tags
// and map key types into the JSON value domain, and re-decoding into
// interface{} strips any ordering assumptions a caller's struct may have
// carried, leaving jcs.Format (RFC 8785) as the single source of byte
// ordering and number formatting truth.
//
// OQ1 (negative zero): Profile A adopts whatever numeric formatting
// ucarion/jcs produces, including its treatment of -0, as the normative
// "canonical number" form. No implementation in this package second
// guesses that library's IEEE-754 formatting.
package canonical

import (
	"encoding/json"

	"github.com/provara/provara/internal/verrors"
	"github.com/ucarion/jcs"
)

// Marshal serializes any JSON-shaped Go value (struct, map, slice,
// string, number, bool, nil) to its canonical byte form. Non-finite
// floats, cyclic structures, or other values encoding/json rejects
// surface as a CANONICAL_FORMAT error.
func Marshal(value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, verrors.New(verrors.CodeCanonicalFormat, "marshaling value: %v", err)
	}
	return MarshalJSON(raw)
}

// MarshalJSON re-canonicalizes an already-encoded JSON document. It is
// the entry point used when a value arrives as raw bytes (e.g. a log
// line read back off disk) rather than as a live Go value.
func MarshalJSON(raw []byte) ([]byte, error) {
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, verrors.New(verrors.CodeCanonicalFormat, "decoding JSON: %v", err)
	}
	out, err := jcs.Format(normalized)
	if err != nil {
		return nil, verrors.New(verrors.CodeCanonicalFormat, "canonicalizing: %v", err)
	}
	return []byte(out), nil
}

// MarshalMap canonicalizes a map[string]interface{} directly, the shape
// most core callers build by hand when they need to include or exclude
// specific fields (e.g. "event minus sig").
func MarshalMap(m map[string]interface{}) ([]byte, error) {
	return Marshal(m)
}
