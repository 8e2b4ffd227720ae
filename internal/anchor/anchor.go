// Package anchor generalizes the teacher's internal/ledger/audit.FetchBitcoinAnchor
// (one hardcoded call to blockstream.info) into a pluggable Source
// interface, so a vault can record an external checkpoint against any of
// the optional collaborators spec §1 names — a Bitcoin block hash, an
// RFC 3161 timestamp token, or a Sigstore bundle digest — as a custom
// ANCHOR event (spec §4.8). The reducer never interprets these events;
// they are opaque custom-type payloads unless a higher layer chooses to
// read them.
package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Checkpoint is the external reference a vault records. Fields beyond
// Source are source-specific and carried verbatim into the event payload.
type Checkpoint struct {
	Source    string    `json:"source"`
	Reference string    `json:"reference"` // block hash, timestamp token digest, or bundle digest
	ObservedAt time.Time `json:"observed_at"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Source fetches one external checkpoint. Implementations must not
// block longer than the context allows.
type Source interface {
	Fetch(ctx context.Context) (Checkpoint, error)
}

// BitcoinSource fetches the current chain tip from a block-explorer API,
// the same one the teacher's FetchBitcoinAnchor used, generalized behind
// the Source interface. Requests are bound to the caller's context; when
// Client is nil, a default client with a 5-second timeout is used.
type BitcoinSource struct {
	BaseURL string // defaults to https://blockstream.info/api if empty
	Client  *http.Client
}

func (s BitcoinSource) baseURL() string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	return "https://blockstream.info/api"
}

func (s BitcoinSource) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// Fetch retrieves the current Bitcoin chain tip height and hash.
func (s BitcoinSource) Fetch(ctx context.Context) (Checkpoint, error) {
	client := s.client()

	height, err := s.fetchTipHeight(ctx, client)
	if err != nil {
		return Checkpoint{}, err
	}
	hash, err := s.fetchBlockHash(ctx, client, height)
	if err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{
		Source:     "bitcoin-mainnet",
		Reference:  hash,
		ObservedAt: time.Now(),
		Extra:      map[string]interface{}{"block_height": height},
	}, nil
}

func (s BitcoinSource) fetchTipHeight(ctx context.Context, client *http.Client) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL()+"/blocks/tip/height", nil)
	if err != nil {
		return 0, fmt.Errorf("building tip height request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching tip height: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("anchor source returned status %d", resp.StatusCode)
	}
	var height uint64
	if err := json.NewDecoder(resp.Body).Decode(&height); err != nil {
		return 0, fmt.Errorf("decoding tip height: %w", err)
	}
	return height, nil
}

func (s BitcoinSource) fetchBlockHash(ctx context.Context, client *http.Client, height uint64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/block-height/%d", s.baseURL(), height), nil)
	if err != nil {
		return "", fmt.Errorf("building block hash request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching block hash: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading block hash: %w", err)
	}
	return string(raw), nil
}

// EventType is the custom event type an anchor checkpoint is recorded
// under (spec §4.8: "com.provara.core.anchor").
const EventType = "com.provara.core.anchor"

// Payload renders a checkpoint into the custom event's payload shape.
func Payload(c Checkpoint) map[string]interface{} {
	p := map[string]interface{}{
		"anchor_source":    c.Source,
		"anchor_reference": c.Reference,
		"observed_at":      c.ObservedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range c.Extra {
		p[k] = v
	}
	return p
}
