package vault

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"time"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/manifest"
	"github.com/provara/provara/internal/verrors"
)

// ManifestResult is what a manifest run produces and persists (spec
// §6.1 `manifest(vault) -> {files[], merkle_root, signed_manifest}`).
type ManifestResult struct {
	Manifest manifest.Manifest
	SigB64   string
}

// Manifest hashes every file currently in the vault tree, builds the
// Merkle tree over the sorted inventory, signs the header, and writes
// manifest.json, manifest.sig, and merkle_root.txt under the vault
// lock (spec §4.5, §3.4).
func (v *Vault) Manifest(signerKeyID string, priv ed25519.PrivateKey) (*ManifestResult, error) {
	var result *ManifestResult
	err := v.withLock(func() error {
		paths, err := v.manifestRelPaths()
		if err != nil {
			return err
		}

		m, sig, err := manifest.Build(paths, v.readRelFile, event.NowUTC(time.Now()), priv)
		if err != nil {
			return err
		}

		if err := v.writeManifestFiles(m, sig); err != nil {
			return err
		}

		result = &ManifestResult{Manifest: m, SigB64: sig}
		return nil
	})
	return result, err
}

func (v *Vault) writeManifestFiles(m manifest.Manifest, sig string) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return verrors.New(verrors.CodeManifestHashMismatch, "encoding manifest.json: %v", err)
	}
	if err := os.WriteFile(v.manifestPath(), raw, 0o644); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "writing manifest.json: %v", err)
	}
	if err := os.WriteFile(v.manifestSigPath(), []byte(sig), 0o644); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "writing manifest.sig: %v", err)
	}
	if err := os.WriteFile(v.merkleRootPath(), []byte(m.MerkleRoot+"\n"), 0o644); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "writing merkle_root.txt: %v", err)
	}
	return nil
}
