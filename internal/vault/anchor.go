package vault

import (
	"context"

	"github.com/provara/provara/internal/anchor"
	"github.com/provara/provara/internal/event"
)

// RecordAnchor fetches a checkpoint from src and appends it as a
// com.provara.core.anchor custom event (spec §4.8). Anchor sources are
// optional collaborators (spec §1): a vault with no configured anchor
// source simply never calls this.
func (v *Vault) RecordAnchor(ctx context.Context, src anchor.Source, req AppendRequest) (event.Event, error) {
	checkpoint, err := src.Fetch(ctx)
	if err != nil {
		return event.Event{}, err
	}
	req.Type = anchor.EventType
	req.Payload = anchor.Payload(checkpoint)
	return v.Append(req)
}
