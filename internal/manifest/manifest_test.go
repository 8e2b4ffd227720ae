package manifest

import (
	"testing"

	"github.com/provara/provara/internal/vcrypto"
)

func fakeReader(files map[string][]byte) FileReader {
	return func(p string) ([]byte, error) {
		return files[p], nil
	}
}

func TestBuildFilesSortsAndHashes(t *testing.T) {
	files := map[string][]byte{
		"events/events.ndjson": []byte("line1\n"),
		"identity/genesis.json": []byte(`{"uid":"x"}`),
	}
	entries, err := BuildFiles([]string{"events/events.ndjson", "identity/genesis.json"}, fakeReader(files))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if entries[0].Path != "events/events.ndjson" || entries[1].Path != "identity/genesis.json" {
		t.Fatalf("expected lexicographic order, got %v, %v", entries[0].Path, entries[1].Path)
	}
	if entries[0].SHA256 != vcrypto.SHA256Hex(files["events/events.ndjson"]) {
		t.Fatalf("unexpected hash for %s", entries[0].Path)
	}
	if entries[0].Size != int64(len(files["events/events.ndjson"])) {
		t.Fatalf("unexpected size")
	}
}

func TestBuildFilesRejectsExcludedAndEscapingPaths(t *testing.T) {
	if _, err := BuildFiles([]string{"manifest.json"}, fakeReader(nil)); err == nil {
		t.Fatalf("expected error for excluded path")
	}
	if _, err := BuildFiles([]string{"../escape.txt"}, fakeReader(nil)); err == nil {
		t.Fatalf("expected error for escaping path")
	}
}

func TestMerkleRootEmptyTree(t *testing.T) {
	root, err := MerkleRoot(nil)
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	if root != vcrypto.SHA256Hex(nil) {
		t.Fatalf("expected empty tree root to equal SHA-256(\"\"), got %s", root)
	}
}

func TestMerkleRootDeterministicAndOrderSensitive(t *testing.T) {
	a := []FileEntry{{Path: "a", SHA256: "aa", Size: 1}, {Path: "b", SHA256: "bb", Size: 2}}
	b := []FileEntry{{Path: "b", SHA256: "bb", Size: 2}, {Path: "a", SHA256: "aa", Size: 1}}

	rootA1, err := MerkleRoot(a)
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	rootA2, err := MerkleRoot(a)
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	if rootA1 != rootA2 {
		t.Fatalf("expected deterministic merkle root")
	}
	rootB, err := MerkleRoot(b)
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	if rootA1 == rootB {
		t.Fatalf("expected order to affect merkle root for unsorted input")
	}
}

func TestMerkleRootOddLeafDuplicatesLast(t *testing.T) {
	three := []FileEntry{{Path: "a", SHA256: "aa", Size: 1}, {Path: "b", SHA256: "bb", Size: 2}, {Path: "c", SHA256: "cc", Size: 3}}
	four := []FileEntry{{Path: "a", SHA256: "aa", Size: 1}, {Path: "b", SHA256: "bb", Size: 2}, {Path: "c", SHA256: "cc", Size: 3}, {Path: "c", SHA256: "cc", Size: 3}}

	rootThree, err := MerkleRoot(three)
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	rootFour, err := MerkleRoot(four)
	if err != nil {
		t.Fatalf("merkle: %v", err)
	}
	if rootThree != rootFour {
		t.Fatalf("expected duplicating the last odd leaf to match an explicit duplicate entry")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, _, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	header := Header{ProtocolVersion: "1.0", GeneratedAt: "2026-01-01T00:00:00.000000000Z", MerkleRoot: vcrypto.SHA256Hex(nil)}
	sig, err := Sign(header, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := Verify(header, pub, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
	header.MerkleRoot = vcrypto.SHA256Hex([]byte("tampered"))
	ok, err = Verify(header, pub, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered header to fail verification")
	}
}

func TestBuildEndToEnd(t *testing.T) {
	pub, priv, _, err := vcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	files := map[string][]byte{"events/events.ndjson": []byte("line1\n")}
	m, sig, err := Build([]string{"events/events.ndjson"}, fakeReader(files), "2026-01-01T00:00:00.000000000Z", priv)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ok, err := Verify(m.Header, pub, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected end-to-end manifest signature to verify")
	}
	if len(m.Files) != 1 {
		t.Fatalf("expected one file entry")
	}
}
