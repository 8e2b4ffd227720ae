package vault

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/keyregistry"
	"github.com/provara/provara/internal/logging"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

// GenesisOptions configures a vault bootstrap ceremony.
type GenesisOptions struct {
	Actor       string
	RootPublic  ed25519.PublicKey
	RootPrivate ed25519.PrivateKey

	// QuorumPublic, if non-nil, registers an additional key at bootstrap
	// carrying the quorum and root roles, so it can sign a rotation of the
	// root key (spec §4.2: "A quorum key MAY additionally be registered at
	// bootstrap.").
	QuorumPublic ed25519.PublicKey
}

// Genesis creates a brand-new vault at path: the directory layout, a
// signed GENESIS event as the sole line of events/events.ndjson, and
// empty policy/state/artifact directories. It returns an open handle
// onto the result.
func Genesis(path string, opts GenesisOptions) (*Vault, error) {
	if opts.RootPublic == nil || opts.RootPrivate == nil {
		return nil, verrors.New(verrors.CodeVaultStructure, "genesis requires a root keypair")
	}
	for _, dir := range []string{DirIdentity, DirEvents, DirPolicies, DirState, DirArtifacts} {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return nil, verrors.New(verrors.CodeVaultStructure, "creating %s: %v", dir, err)
		}
	}

	rootKeyID := vcrypto.DeriveKeyID(opts.RootPublic)
	uid := event.NewVaultUID()
	now := time.Now()
	g := event.NewGenesis(uid, opts.Actor, rootKeyID, rootKeyID, opts.RootPublic, now)

	if opts.QuorumPublic != nil {
		g.Payload["quorum_key_id"] = vcrypto.DeriveKeyID(opts.QuorumPublic)
		g.Payload["quorum_public_key_b64"] = keyregistry.EncodePublicKey(opts.QuorumPublic)
	}

	signed, err := g.Sign(opts.RootPrivate)
	if err != nil {
		return nil, err
	}

	v := &Vault{Path: path}
	if err := appendEventUnlocked(v, signed); err != nil {
		return nil, err
	}
	if err := writeGenesisSnapshot(v, signed); err != nil {
		return nil, err
	}

	reg, err := BuildRegistry([]event.Event{signed})
	if err != nil {
		return nil, err
	}
	if err := writeKeysSnapshot(v, reg); err != nil {
		return nil, err
	}

	logging.Info("vault created", logging.Fields{VaultPath: path, Operation: "genesis", Actor: opts.Actor, KeyID: rootKeyID, EventID: signed.EventID})
	return v, nil
}

func writeGenesisSnapshot(v *Vault, g event.Event) error {
	b, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return verrors.New(verrors.CodeCanonicalFormat, "encoding genesis snapshot: %v", err)
	}
	if err := os.WriteFile(v.genesisPath(), b, 0o644); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "writing genesis.json: %v", err)
	}
	return nil
}
