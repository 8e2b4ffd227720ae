// Package manifest implements Provara's L6 layer: the vault's signed
// file inventory and the Merkle tree computed over it (spec §4.5, §3.4).
//
// File hashing fans out across goroutines the way the teacher's
// internal/ledger/worker.go runs its processing loop on a worker
// goroutine drawing from a bounded buffer, adapted here to a bounded
// sync.WaitGroup fan-out since file hashing has no queue to drain, only
// a fixed batch to complete before the tree can be built (spec §5: "MAY
// internally parallelize hashing of large file sets ... provided
// results are deterministic").
package manifest

import (
	"crypto/ed25519"
	"encoding/base64"
	"path"
	"runtime"
	"sort"
	"sync"

	"github.com/provara/provara/internal/canonical"
	"github.com/provara/provara/internal/vcrypto"
	"github.com/provara/provara/internal/verrors"
)

// Excluded lists the three self-referential files the manifest must
// never include (spec §3.4).
var Excluded = map[string]bool{
	"manifest.json":   true,
	"manifest.sig":    true,
	"merkle_root.txt": true,
}

// FileEntry is one manifest row (spec §3.4).
type FileEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Header is manifest.json's content apart from files[].
type Header struct {
	ProtocolVersion string `json:"protocol_version"`
	GeneratedAt     string `json:"generated_at"`
	MerkleRoot      string `json:"merkle_root"`
}

// Manifest is the full signed file inventory.
type Manifest struct {
	Header
	Files []FileEntry `json:"files"`
}

// FileReader abstracts the vault's filesystem so hashing never performs
// its own I/O scheduling decisions; callers supply path -> contents.
type FileReader func(relPath string) ([]byte, error)

// BuildFiles hashes every path in relPaths (vault-relative, forward
// slash) using read, fanned out across a bounded worker pool, and
// returns the sorted FileEntry list. Sorting happens before tree
// construction so hashing concurrency never affects the result (spec §5).
func BuildFiles(relPaths []string, read FileReader) ([]FileEntry, error) {
	for _, p := range relPaths {
		if err := validateRelPath(p); err != nil {
			return nil, err
		}
	}

	entries := make([]FileEntry, len(relPaths))
	errs := make([]error, len(relPaths))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(relPaths) {
		workers = len(relPaths)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				contents, err := read(relPaths[i])
				if err != nil {
					errs[i] = err
					continue
				}
				entries[i] = FileEntry{
					Path:   relPaths[i],
					SHA256: vcrypto.SHA256Hex(contents),
					Size:   int64(len(contents)),
				}
			}
		}()
	}
	for i := range relPaths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func validateRelPath(p string) error {
	if Excluded[p] {
		return verrors.New(verrors.CodeVaultStructure, "manifest path %s is self-referential", p)
	}
	if path.IsAbs(p) {
		return verrors.New(verrors.CodeVaultStructure, "manifest path %s must be relative", p)
	}
	clean := path.Clean(p)
	if clean != p {
		return verrors.New(verrors.CodeVaultStructure, "manifest path %s is not in clean form", p)
	}
	for _, seg := range pathSegments(p) {
		if seg == ".." {
			return verrors.New(verrors.CodeVaultStructure, "manifest path %s escapes vault root", p)
		}
	}
	return nil
}

func pathSegments(p string) []string {
	var segs []string
	for _, s := range splitSlash(p) {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func splitSlash(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	out = append(out, p[start:])
	return out
}

// leafHash computes the Merkle leaf bytes for entry e: the raw 32-byte
// SHA-256 digest of its canonical JSON form (spec §4.5).
func leafHash(e FileEntry) ([32]byte, error) {
	b, err := canonical.Marshal(e)
	if err != nil {
		return [32]byte{}, err
	}
	return vcrypto.SHA256(b), nil
}

// MerkleRoot builds the binary Merkle tree over files (already sorted by
// BuildFiles) and returns its 64-lowercase-hex root. The empty tree's
// root is SHA-256("") per spec §4.5.
func MerkleRoot(files []FileEntry) (string, error) {
	if len(files) == 0 {
		return vcrypto.SHA256Hex(nil), nil
	}
	level := make([][32]byte, len(files))
	for i, f := range files {
		h, err := leafHash(f)
		if err != nil {
			return "", err
		}
		level[i] = h
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			combined := append(append([]byte{}, level[2*i][:]...), level[2*i+1][:]...)
			next[i] = vcrypto.SHA256(combined)
		}
		level = next
	}
	return hexEncode(level[0]), nil
}

func hexEncode(b [32]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, c := range b {
		out[2*i] = hexDigits[c>>4]
		out[2*i+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// Build assembles the full signed manifest: file inventory, Merkle root,
// header, and detached signature over SHA-256(merkle_root_bytes ||
// canonical(header)) (spec §4.5).
func Build(relPaths []string, read FileReader, generatedAt string, priv ed25519.PrivateKey) (Manifest, string, error) {
	files, err := BuildFiles(relPaths, read)
	if err != nil {
		return Manifest{}, "", err
	}
	root, err := MerkleRoot(files)
	if err != nil {
		return Manifest{}, "", err
	}
	header := Header{ProtocolVersion: "1.0", GeneratedAt: generatedAt, MerkleRoot: root}

	sig, err := Sign(header, priv)
	if err != nil {
		return Manifest{}, "", err
	}
	return Manifest{Header: header, Files: files}, sig, nil
}

// Sign computes manifest.sig's content: a detached Ed25519 signature
// over SHA-256(merkle_root_bytes || canonical(header)).
func Sign(header Header, priv ed25519.PrivateKey) (string, error) {
	signable, err := signableDigest(header)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(vcrypto.Sign(priv, signable)), nil
}

// Verify checks a detached manifest signature against header.
func Verify(header Header, pub ed25519.PublicKey, sigB64 string) (bool, error) {
	signable, err := signableDigest(header)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, verrors.New(verrors.CodeManifestSigMismatch, "decoding manifest.sig: %v", err)
	}
	return vcrypto.Verify(pub, signable, sig), nil
}

func signableDigest(header Header) ([]byte, error) {
	rootBytes, err := hexDecode(header.MerkleRoot)
	if err != nil {
		return nil, verrors.New(verrors.CodeMerkleRootMismatch, "decoding merkle_root: %v", err)
	}
	headerBytes, err := canonical.Marshal(header)
	if err != nil {
		return nil, err
	}
	digest := vcrypto.SHA256(append(append([]byte{}, rootBytes...), headerBytes...))
	return digest[:], nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, verrors.New(verrors.CodeMerkleRootMismatch, "odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, verrors.New(verrors.CodeMerkleRootMismatch, "invalid hex digit: %c", c)
	}
}
