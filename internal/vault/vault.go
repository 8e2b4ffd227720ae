// Package vault assembles Provara's L0-L8 layers behind the single
// public API a caller is meant to import (spec §6.1): canonical,
// create_key, derive_key_id, append, verify, reduce, merge, rotate, and
// manifest. It mirrors how the teacher's internal/core.Engine composes
// its ledger, crypto, and observer packages behind one facade rather
// than letting callers reach into each layer directly.
package vault

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/provara/provara/internal/assert"
	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/logging"
	"github.com/provara/provara/internal/pool"
	"github.com/provara/provara/internal/validate"
	"github.com/provara/provara/internal/verrors"
)

// Directory and file names fixed by spec §3.5.
const (
	DirIdentity  = "identity"
	DirEvents    = "events"
	DirPolicies  = "policies"
	DirState     = "state"
	DirArtifacts = "artifacts"

	FileEvents      = "events.ndjson"
	FileGenesis     = "genesis.json"
	FileKeys        = "keys.json"
	FileManifest    = "manifest.json"
	FileManifestSig = "manifest.sig"
	FileMerkleRoot  = "merkle_root.txt"
	FileLock        = ".provara.lock"
	FileStateCache  = "cache.db"

	FileSafetyPolicy    = "safety.yaml"
	FileRetentionPolicy = "retention.yaml"
	FileSyncPolicy      = "sync.yaml"
)

// Vault is a handle onto an on-disk vault directory. It holds no
// long-lived file descriptors; every operation opens, reads, or appends
// the files it needs for its own duration.
type Vault struct {
	Path string
}

// Open returns a handle onto an existing vault directory. It does not
// itself validate the vault's contents — callers that need that
// guarantee should call Verify.
func Open(path string) (*Vault, error) {
	if err := assert.Check(path != "", "vault path must not be empty"); err != nil {
		return nil, err
	}
	info, err := os.Stat(filepath.Join(path, DirEvents, FileEvents))
	if err != nil {
		return nil, verrors.New(verrors.CodeVaultStructure, "opening vault at %s: %v", path, err)
	}
	if info.IsDir() {
		return nil, verrors.New(verrors.CodeVaultStructure, "%s is a directory, expected events.ndjson", info.Name())
	}
	return &Vault{Path: path}, nil
}

// eventsPath, keysPath, genesisPath and the helpers below return the
// paths of the vault's ambient files, joined onto v.Path.
func (v *Vault) eventsPath() string   { return filepath.Join(v.Path, DirEvents, FileEvents) }
func (v *Vault) keysPath() string     { return filepath.Join(v.Path, DirIdentity, FileKeys) }
func (v *Vault) genesisPath() string  { return filepath.Join(v.Path, DirIdentity, FileGenesis) }
func (v *Vault) manifestPath() string { return filepath.Join(v.Path, FileManifest) }
func (v *Vault) manifestSigPath() string {
	return filepath.Join(v.Path, FileManifestSig)
}
func (v *Vault) merkleRootPath() string { return filepath.Join(v.Path, FileMerkleRoot) }
func (v *Vault) lockPath() string       { return filepath.Join(v.Path, FileLock) }
func (v *Vault) statecachePath() string { return filepath.Join(v.Path, DirState, FileStateCache) }

func (v *Vault) safetyPolicyPath() string {
	return filepath.Join(v.Path, DirPolicies, FileSafetyPolicy)
}
func (v *Vault) retentionPolicyPath() string {
	return filepath.Join(v.Path, DirPolicies, FileRetentionPolicy)
}
func (v *Vault) syncPolicyPath() string {
	return filepath.Join(v.Path, DirPolicies, FileSyncPolicy)
}

// withLock acquires the vault's advisory OS-level lock for the duration
// of fn, releasing it on every exit path including a panic recovered
// here, per spec §5: "released on all exit paths."
func (v *Vault) withLock(fn func() error) (err error) {
	fl := flock.New(v.lockPath())
	if lockErr := fl.Lock(); lockErr != nil {
		return verrors.New(verrors.CodeVaultStructure, "acquiring vault lock: %v", lockErr)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = fl.Unlock()
			logging.Critical("panic recovered during locked vault operation", logging.Fields{VaultPath: v.Path, Error: fmtRecover(r)})
			err = verrors.New(verrors.CodeVaultStructure, "recovered panic: %v", r)
			return
		}
		_ = fl.Unlock()
	}()
	return fn()
}

func fmtRecover(r interface{}) string {
	if e, ok := r.(error); ok {
		return e.Error()
	}
	return "panic"
}

// readEvents loads every line of events/events.ndjson into a parsed
// slice, in storage order (not necessarily total order).
func (v *Vault) readEvents() ([]event.Event, error) {
	raw, err := os.ReadFile(v.eventsPath())
	if err != nil {
		return nil, verrors.New(verrors.CodeVaultStructure, "reading events.ndjson: %v", err)
	}
	lines := splitNDJSON(raw)
	events, verr := validate.ParseLines(lines)
	if verr != nil {
		return nil, verr
	}
	return events, nil
}

// registry replays the event log into a fresh key registry (spec §3.5:
// identity/keys.json is a regenerable projection of KEY_REVOCATION /
// KEY_PROMOTION events, never itself authoritative).
func (v *Vault) registry() (*keyregistry.Registry, []event.Event, error) {
	events, err := v.readEvents()
	if err != nil {
		return nil, nil, err
	}
	reg, err := BuildRegistry(events)
	if err != nil {
		return nil, nil, err
	}
	return reg, events, nil
}

// marshalEventLine renders e as one newline-terminated NDJSON line,
// per spec §6.2: "each line is a complete JSON object; file ends with
// newline." It encodes through a pooled buffer, since this runs once
// per event on every append and every merge rewrite.
func marshalEventLine(e event.Event) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(e); err != nil {
		return nil, verrors.New(verrors.CodeCanonicalFormat, "encoding event line: %v", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func splitNDJSON(raw []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\n' {
			if i > start {
				lines = append(lines, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, raw[start:])
	}
	return lines
}
