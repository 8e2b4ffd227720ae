package vault

import (
	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/reducer"
	"github.com/provara/provara/internal/validate"
)

// Reduce exposes the L5 reducer directly (spec §6.1 `reduce(events)`).
//
// OQ4: this bypasses signature and chain validation entirely — it is
// pure function application over whatever events the caller hands it.
// Callers that need a trust-bearing belief state must run Verify first
// and only call Reduce over events that passed it. (*Vault).Reduce runs
// the validator first but does not filter: it folds every event in the
// log and returns the validator report next to the state.
func Reduce(events []event.Event) (*reducer.State, error) {
	return reducer.Reduce(events)
}

// Reduce re-runs the validator against the vault's current log and
// folds every event of the log, in storage order, into a belief state,
// returning both so a caller can inspect validator warnings even when
// the state is usable. Events the report flags are not left out of the
// fold; a state is trust-bearing only when report.Valid is true.
func (v *Vault) Reduce() (*reducer.State, *validate.Report, error) {
	events, err := v.readEvents()
	if err != nil {
		return nil, nil, err
	}
	registry, err := BuildRegistry(events)
	if err != nil {
		return nil, nil, err
	}
	report := validate.Run(events, registry, validate.Options{})
	state, err := reducer.Reduce(events)
	if err != nil {
		return nil, report, err
	}
	return state, report, nil
}
