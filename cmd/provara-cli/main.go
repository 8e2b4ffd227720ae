// Command provara-cli operates on a single vault directory, the way
// the teacher's vouch-cli operates on a single vouch.db: genesis
// creates one, append/rotate/merge write to it, verify/events/stats
// read it back. It replaces vouch-cli, logryph-cli, and logyctl, which
// each pointed at one teacher component instead of one facade.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/reducer"
	"github.com/provara/provara/internal/vault"
	"github.com/provara/provara/internal/vcrypto"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "genesis":
		genesisCommand()
	case "append":
		appendCommand()
	case "verify":
		verifyCommand()
	case "rotate":
		rotateCommand()
	case "manifest":
		manifestCommand()
	case "merge":
		mergeCommand()
	case "events":
		eventsCommand()
	case "stats":
		statsCommand()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("provara-cli - vault inspection and maintenance tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  provara-cli genesis <path> --actor <name>                 Create a new vault")
	fmt.Println("  provara-cli append <path> --actor <name> --key <b64-priv> --type T --payload <json>")
	fmt.Println("  provara-cli verify <path> [--strict]                      Run the chain validator")
	fmt.Println("  provara-cli rotate <path> --revoke <key-id> --authority-key <b64-priv> --authority-key-id <id> --actor <name>")
	fmt.Println("  provara-cli manifest <path> --key <b64-priv> --key-id <id>  Sign and persist a manifest")
	fmt.Println("  provara-cli merge <path> <delta-file>                     Union-merge an NDJSON delta")
	fmt.Println("  provara-cli events <path> [--limit N]                     List canonical belief entries")
	fmt.Println("  provara-cli stats <path>                                  Refresh and print the state cache summary")
}

func genesisCommand() {
	fs := flag.NewFlagSet("genesis", flag.ExitOnError)
	actor := fs.String("actor", "", "actor name for the root identity")
	_ = fs.Parse(os.Args[3:])
	path := requirePath()

	pub, priv, keyID, err := vcrypto.GenerateKeyPair()
	if err != nil {
		log.Fatalf("generating root keypair: %v", err)
	}

	v, err := vault.Genesis(path, vault.GenesisOptions{
		Actor:       *actor,
		RootPublic:  pub,
		RootPrivate: priv,
	})
	if err != nil {
		log.Fatalf("genesis: %v", err)
	}

	fmt.Printf("created vault at %s\n", v.Path)
	fmt.Printf("root key id:   %s\n", keyID)
	fmt.Printf("root private:  %s\n", base64.StdEncoding.EncodeToString(priv))
	fmt.Println("store the root private key now; it is never written to the vault.")
}

func appendCommand() {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	actor := fs.String("actor", "", "actor name")
	keyID := fs.String("actor-key-id", "", "actor key id")
	keyB64 := fs.String("key", "", "base64 Ed25519 private key")
	typ := fs.String("type", "", "event type")
	payload := fs.String("payload", "{}", "JSON payload object")
	_ = fs.Parse(os.Args[3:])
	path := requirePath()

	priv, err := decodePrivateKey(*keyB64)
	if err != nil {
		log.Fatalf("decoding key: %v", err)
	}
	payloadMap, err := decodePayload(*payload)
	if err != nil {
		log.Fatalf("decoding payload: %v", err)
	}

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}

	e, err := v.Append(vault.AppendRequest{
		Type:       *typ,
		Actor:      *actor,
		ActorKeyID: *keyID,
		Namespace:  event.NamespaceCanonical,
		Payload:    payloadMap,
		SigningKey: priv,
	})
	if err != nil {
		log.Fatalf("append: %v", err)
	}
	fmt.Printf("appended %s\n", e.EventID)
}

func verifyCommand() {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	strict := fs.Bool("strict", false, "also check manifest and file hashes")
	_ = fs.Parse(os.Args[3:])
	path := requirePath()

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	report, err := v.Verify(vault.VerifyOptions{Strict: *strict})
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	if report.Valid {
		fmt.Printf("valid chain (%d events, %d actors)\n", report.EventCount, len(report.Actors))
		return
	}
	fmt.Println("chain invalid")
	for _, verr := range report.Errors {
		fmt.Printf("  %s: %s\n", verr.Code, verr.Error())
	}
	os.Exit(1)
}

func rotateCommand() {
	fs := flag.NewFlagSet("rotate", flag.ExitOnError)
	revoke := fs.String("revoke", "", "key id to revoke")
	reason := fs.String("reason", "", "revocation reason")
	newPubB64 := fs.String("new-pub", "", "base64 new Ed25519 public key")
	roles := fs.String("roles", "root", "comma-separated roles for the new key")
	actor := fs.String("actor", "", "authority actor name")
	authorityKeyID := fs.String("authority-key-id", "", "authority key id")
	authorityKeyB64 := fs.String("authority-key", "", "base64 authority Ed25519 private key")
	boundary := fs.String("trust-boundary", "", "trust_boundary_event_id (defaults to log tip)")
	_ = fs.Parse(os.Args[3:])
	path := requirePath()

	newPub, err := decodePublicKey(*newPubB64)
	if err != nil {
		log.Fatalf("decoding new public key: %v", err)
	}
	authPriv, err := decodePrivateKey(*authorityKeyB64)
	if err != nil {
		log.Fatalf("decoding authority key: %v", err)
	}

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	result, err := v.Rotate(vault.RotateRequest{
		RevokedKeyID:         *revoke,
		Reason:               *reason,
		TrustBoundaryEventID: *boundary,
		NewPublicKey:         newPub,
		NewRoles:             splitCSV(*roles),
		AuthorityActor:       *actor,
		AuthorityKeyID:       *authorityKeyID,
		AuthorityPrivateKey:  authPriv,
	})
	if err != nil {
		log.Fatalf("rotate: %v", err)
	}
	fmt.Printf("revocation: %s\n", result.Revocation.EventID)
	fmt.Printf("promotion:  %s\n", result.Promotion.EventID)
}

func manifestCommand() {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	keyB64 := fs.String("key", "", "base64 Ed25519 private key")
	keyID := fs.String("key-id", "", "signing key id")
	_ = fs.Parse(os.Args[3:])
	path := requirePath()

	priv, err := decodePrivateKey(*keyB64)
	if err != nil {
		log.Fatalf("decoding key: %v", err)
	}

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	result, err := v.Manifest(*keyID, priv)
	if err != nil {
		log.Fatalf("manifest: %v", err)
	}
	fmt.Printf("merkle root: %s\n", result.Manifest.MerkleRoot)
	fmt.Printf("files:       %d\n", len(result.Manifest.Files))
}

func mergeCommand() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: provara-cli merge <path> <delta-file>")
		os.Exit(1)
	}
	path := os.Args[2]
	deltaPath := os.Args[3]

	f, err := os.Open(deltaPath)
	if err != nil {
		log.Fatalf("opening delta file: %v", err)
	}
	defer f.Close()

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	report, err := v.Merge(context.Background(), f)
	if err != nil {
		log.Fatalf("merge: %v", err)
	}
	fmt.Printf("accepted:   %d\n", report.Accepted)
	fmt.Printf("duplicates: %d\n", report.Duplicates)
	if len(report.MalformedLines) > 0 {
		fmt.Printf("malformed lines: %v\n", report.MalformedLines)
	}
	if len(report.Forks) > 0 {
		fmt.Printf("forks detected: %d\n", len(report.Forks))
	}
	if len(report.Untrusted) > 0 {
		fmt.Printf("untrusted events quarantined: %d\n", len(report.Untrusted))
	}
}

func eventsCommand() {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 10, "number of canonical belief entries to show")
	_ = fs.Parse(os.Args[3:])
	path := requirePath()

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	state, report, err := v.Reduce()
	if err != nil {
		log.Fatalf("reduce: %v", err)
	}
	if !report.Valid {
		fmt.Println("warning: chain failed validation; showing best-effort state")
	}

	keys := reducer.SortedKeys(state.Canonical)
	shown := 0
	for i := len(keys) - 1; i >= 0 && shown < *limit; i-- {
		k := keys[i]
		entry := state.Canonical[k]
		fmt.Printf("[%s] = %v (confidence %.2f)\n", k, entry.Value, entry.Confidence)
		shown++
	}
}

func statsCommand() {
	path := requirePath()

	v, err := vault.Open(path)
	if err != nil {
		log.Fatalf("opening vault: %v", err)
	}
	stats, err := v.RefreshStats()
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	fmt.Printf("events:    %d\n", stats.EventCount)
	fmt.Printf("last:      %s\n", stats.LastEventID)
	fmt.Printf("canonical: %d\n", stats.CanonicalCount)
	fmt.Printf("local:     %d\n", stats.LocalCount)
	fmt.Printf("archived:  %d\n", stats.ArchivedCount)
	fmt.Printf("state_hash: %s\n", stats.StateHash)
}

func requirePath() string {
	if len(os.Args) < 3 {
		fmt.Println("missing vault path")
		os.Exit(1)
	}
	return os.Args[2]
}

func decodePrivateKey(b64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return ed25519.PrivateKey(raw), nil
}

func decodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

func decodePayload(raw string) (map[string]interface{}, error) {
	var m map[string]interface{}
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
