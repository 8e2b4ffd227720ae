package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/provara/provara/internal/manifest"
	"github.com/provara/provara/internal/validate"
	"github.com/provara/provara/internal/verrors"
)

// VerifyOptions configures a verification pass (spec §6.1 `verify`).
type VerifyOptions struct {
	// ExpectedStateHash, if non-empty, is compared against a fresh
	// reduce() of the log (Phase 3).
	ExpectedStateHash string
	// Strict also re-verifies the stored manifest and Merkle root
	// against the files actually on disk (Phase 4).
	Strict bool
}

// Verify runs the full phased chain validator against the vault's
// current log (spec §4.7, OQ4: validation always precedes reduction).
func (v *Vault) Verify(opts VerifyOptions) (*validate.Report, error) {
	events, err := v.readEvents()
	if err != nil {
		return nil, err
	}
	registry, err := BuildRegistry(events)
	if err != nil {
		return nil, err
	}

	valOpts := validate.Options{ExpectedStateHash: opts.ExpectedStateHash}
	if opts.Strict {
		storedManifest, storedRoot, merr := v.readManifest()
		if merr != nil {
			return nil, merr
		}
		paths, perr := v.manifestRelPaths()
		if perr != nil {
			return nil, perr
		}
		valOpts.StoredManifest = storedManifest
		valOpts.StoredMerkleRoot = storedRoot
		valOpts.ManifestPaths = paths
		valOpts.ReadFile = v.readRelFile
	}

	report := validate.Run(events, registry, valOpts)
	return report, nil
}

func (v *Vault) readManifest() (*manifest.Manifest, string, error) {
	raw, err := os.ReadFile(v.manifestPath())
	if err != nil {
		return nil, "", verrors.New(verrors.CodeManifestFileMissing, "reading manifest.json: %v", err)
	}
	var m manifest.Manifest
	if jerr := json.Unmarshal(raw, &m); jerr != nil {
		return nil, "", verrors.New(verrors.CodeMalformedJSON, "decoding manifest.json: %v", jerr)
	}
	rootRaw, err := os.ReadFile(v.merkleRootPath())
	if err != nil {
		return nil, "", verrors.New(verrors.CodeManifestFileMissing, "reading merkle_root.txt: %v", err)
	}
	return &m, strings.TrimSpace(string(rootRaw)), nil
}

// manifestRelPaths walks the vault directory and returns every
// vault-relative path the manifest must cover (spec §3.4: everything
// except manifest.json, manifest.sig, merkle_root.txt).
func (v *Vault) manifestRelPaths() ([]string, error) {
	var out []string
	err := filepath.Walk(v.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(v.Path, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel == FileLock || manifest.Excluded[rel] {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, verrors.New(verrors.CodeVaultStructure, "walking vault tree: %v", err)
	}
	return out, nil
}

func (v *Vault) readRelFile(relPath string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(v.Path, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, verrors.New(verrors.CodeManifestFileMissing, "reading %s: %v", relPath, err)
	}
	return b, nil
}
