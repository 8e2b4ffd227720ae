package vault

import (
	"github.com/provara/provara/internal/statecache"
)

// RefreshStats re-reduces the vault's log and writes the result into
// its regenerable state/cache.db, then returns the refreshed summary
// counts (spec §3.5: state/ is "a regenerable cache — never
// authoritative"; this is the one path that regenerates it).
func (v *Vault) RefreshStats() (*statecache.Stats, error) {
	state, _, err := v.Reduce()
	if err != nil {
		return nil, err
	}

	cache, err := statecache.Open(v.statecachePath())
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	if err := cache.Refresh(state); err != nil {
		return nil, err
	}
	return cache.Stats()
}

// Stats reads the vault's existing state/cache.db summary without
// re-reducing the log. Callers that need a stats snapshot guaranteed to
// reflect the current log should call RefreshStats instead.
func (v *Vault) Stats() (*statecache.Stats, error) {
	cache, err := statecache.Open(v.statecachePath())
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	return cache.Stats()
}
