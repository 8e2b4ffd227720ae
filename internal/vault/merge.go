package vault

import (
	"context"
	"io"
	"os"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/logging"
	syncx "github.com/provara/provara/internal/sync"
	"github.com/provara/provara/internal/verrors"
)

// defaultDeltaLinesPerSecond bounds how fast a single Merge call
// accepts NDJSON delta lines (spec §4.6).
const defaultDeltaLinesPerSecond = 500

// Merge decodes an NDJSON delta bundle from r and union-merges it into
// the vault's log under the vault lock (spec §6.1 `merge(vault,
// delta)`). Malformed delta lines are skipped and recorded rather than
// aborting the import (spec §4.6). Events signed by a key outside the
// vault's configured sync policy allowlist are quarantined rather than
// merged, when a sync policy is configured.
func (v *Vault) Merge(ctx context.Context, r io.Reader) (*syncx.MergeReport, error) {
	var result *syncx.MergeReport
	err := v.withLock(func() error {
		limiter := syncx.NewDeltaImportLimiter(defaultDeltaLinesPerSecond)
		_, deltaEvents, decodeReport, err := syncx.DecodeDelta(ctx, r, limiter)
		if err != nil {
			return err
		}

		syncPolicy, err := v.loadSyncPolicy()
		if err != nil {
			return err
		}
		var untrusted []string
		if syncPolicy != nil && syncPolicy.RequireTrust {
			trusted := make([]event.Event, 0, len(deltaEvents))
			for _, e := range deltaEvents {
				if syncPolicy.IsTrusted(e.ActorKeyID) {
					trusted = append(trusted, e)
				} else {
					untrusted = append(untrusted, e.EventID)
				}
			}
			deltaEvents = trusted
		}

		existing, err := v.readEvents()
		if err != nil {
			return err
		}

		merged, mergeReport, err := syncx.Merge(existing, deltaEvents)
		if err != nil {
			return err
		}
		mergeReport.MalformedLines = append(mergeReport.MalformedLines, decodeReport.MalformedLines...)
		mergeReport.Untrusted = untrusted

		if err := rewriteEventsFile(v, merged); err != nil {
			return err
		}

		result = mergeReport
		logging.Info("delta merged", logging.Fields{VaultPath: v.Path, Operation: "merge"})
		if len(mergeReport.Forks) > 0 {
			logging.Warn("merge detected forks", logging.Fields{VaultPath: v.Path, Operation: "merge"})
		}
		if len(mergeReport.Untrusted) > 0 {
			logging.Warn("merge quarantined untrusted events", logging.Fields{VaultPath: v.Path, Operation: "merge"})
		}
		return nil
	})
	return result, err
}

// rewriteEventsFile atomically replaces events/events.ndjson with
// events, in the order given. Callers must already hold the vault lock.
func rewriteEventsFile(v *Vault, events []event.Event) error {
	tmp := v.eventsPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return verrors.New(verrors.CodeVaultStructure, "opening temp events file: %v", err)
	}
	for _, e := range events {
		line, err := marshalEventLine(e)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return verrors.New(verrors.CodeVaultStructure, "writing merged event line: %v", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return verrors.New(verrors.CodeVaultStructure, "closing temp events file: %v", err)
	}
	if err := os.Rename(tmp, v.eventsPath()); err != nil {
		return verrors.New(verrors.CodeVaultStructure, "replacing events.ndjson: %v", err)
	}
	return nil
}
