package vault

import (
	"os"

	"github.com/provara/provara/internal/policy"
)

// loadSafetyPolicy loads policies/safety.yaml if present. A vault with
// no safety policy configured enforces no E400 ratchet; callers treat a
// nil result as "unrestricted".
func (v *Vault) loadSafetyPolicy() (*policy.SafetyPolicy, error) {
	if _, err := os.Stat(v.safetyPolicyPath()); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return policy.LoadSafety(v.safetyPolicyPath())
}

// loadSyncPolicy loads policies/sync.yaml if present. A vault with no
// sync policy configured accepts delta events from any signer (spec
// §1 non-goal: transport-level peer authentication).
func (v *Vault) loadSyncPolicy() (*policy.SyncPolicy, error) {
	if _, err := os.Stat(v.syncPolicyPath()); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return policy.LoadSync(v.syncPolicyPath())
}

// loadRetentionPolicy loads policies/retention.yaml if present. The
// core itself never prunes (spec §1 non-goal: availability/backup);
// this exposes the configured schedule for an external collaborator to
// apply against the vault's archived/contested namespaces.
func (v *Vault) loadRetentionPolicy() (*policy.RetentionPolicy, error) {
	if _, err := os.Stat(v.retentionPolicyPath()); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return policy.LoadRetention(v.retentionPolicyPath())
}

// RetentionPolicy exposes the vault's configured retention schedule, if
// any, for an external collaborator (e.g. a scheduled prune job) to
// apply; see loadRetentionPolicy.
func (v *Vault) RetentionPolicy() (*policy.RetentionPolicy, error) {
	return v.loadRetentionPolicy()
}
