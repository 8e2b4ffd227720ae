// Package chain implements Provara's L4 layer: per-actor causal
// ordering over prev_event_hash linkage, the total order the validator
// and reducer replay events in, and fork detection (spec §4.7, §4.6).
//
// It generalizes the teacher's internal/ledger single global run-chain
// (one linear sequence, one prev_hash pointer) into many independent
// per-actor chains that share one vault, the way spec §3.1's I4 and
// §4.7's chain check require.
package chain

import (
	"sort"

	"github.com/provara/provara/internal/event"
	"github.com/provara/provara/internal/verrors"
)

// Linked is the minimal view of an event chain linkage needs.
type Linked interface {
	ID() string
	ActorName() string
	PrevHash() *string
	TimestampUTC() string
}

// wrap adapts an event.Event to Linked.
type wrap struct{ e event.Event }

func (w wrap) ID() string           { return w.e.EventID }
func (w wrap) ActorName() string    { return w.e.Actor }
func (w wrap) PrevHash() *string    { return w.e.PrevEventHash }
func (w wrap) TimestampUTC() string { return w.e.TimestampUTC }

// Wrap adapts a slice of event.Event into Linked values.
func Wrap(events []event.Event) []Linked {
	out := make([]Linked, len(events))
	for i, e := range events {
		out[i] = wrap{e}
	}
	return out
}

// TotalOrder sorts events into the deterministic total order the
// validator, reducer, and manifest all replay against: by
// timestamp_utc, then by event_id to break ties (spec §4.6 union
// merge: "total order by timestamp_utc then event_id").
func TotalOrder(events []Linked) []Linked {
	out := make([]Linked, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampUTC() != out[j].TimestampUTC() {
			return out[i].TimestampUTC() < out[j].TimestampUTC()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// ActorChains groups events by actor, each sub-slice in the shared
// total order, which is also each actor's chain order.
func ActorChains(ordered []Linked) map[string][]Linked {
	chains := make(map[string][]Linked)
	for _, e := range ordered {
		chains[e.ActorName()] = append(chains[e.ActorName()], e)
	}
	return chains
}

// Fork is a pair of events by the same actor sharing the same
// prev_event_hash (spec §4.6 "Fork handling").
type Fork struct {
	Actor    string
	PrevHash string
	EventIDs []string
}

// DetectForks finds every fork across ordered, grouped by
// (actor, prev_event_hash).
func DetectForks(ordered []Linked) []Fork {
	type key struct {
		actor string
		prev  string
	}
	groups := make(map[key][]string)
	var order []key
	for _, e := range ordered {
		if e.PrevHash() == nil {
			continue
		}
		k := key{actor: e.ActorName(), prev: *e.PrevHash()}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e.ID())
	}
	var forks []Fork
	for _, k := range order {
		ids := groups[k]
		if len(ids) > 1 {
			forks = append(forks, Fork{Actor: k.actor, PrevHash: k.prev, EventIDs: ids})
		}
	}
	return forks
}

// VerifyLinkage checks the chain check from spec §4.7 item 7 for a
// single actor's events, already in their chain order: the first event
// must have a nil prev_event_hash, and every subsequent event's
// prev_event_hash must equal the id of the event immediately preceding
// it in this ordering.
func VerifyLinkage(actorEvents []Linked) *verrors.Error {
	for i, e := range actorEvents {
		if i == 0 {
			if e.PrevHash() != nil {
				return verrors.New(verrors.CodeFirstEventPrevNotNull, "actor %s first event has non-null prev_event_hash", e.ActorName()).WithEvent(e.ID())
			}
			continue
		}
		if e.PrevHash() == nil {
			return verrors.New(verrors.CodeBrokenCausalChain, "actor %s event %s has null prev_event_hash after its first event", e.ActorName(), e.ID()).WithEvent(e.ID())
		}
		if *e.PrevHash() != actorEvents[i-1].ID() {
			return verrors.New(verrors.CodeBrokenCausalChain, "actor %s event %s does not chain from its immediate predecessor", e.ActorName(), e.ID()).WithEvent(e.ID())
		}
	}
	return nil
}

// ResolveReference checks invariant I4: if prevHash is non-nil, an
// event with that id must exist in byID and belong to actor.
func ResolveReference(byID map[string]Linked, actor string, prevHash *string) *verrors.Error {
	if prevHash == nil {
		return nil
	}
	referenced, ok := byID[*prevHash]
	if !ok {
		return verrors.New(verrors.CodeOrphanChainReference, "prev_event_hash %s does not exist", *prevHash)
	}
	if referenced.ActorName() != actor {
		return verrors.New(verrors.CodeCrossActorChainRef, "prev_event_hash %s belongs to actor %s, not %s", *prevHash, referenced.ActorName(), actor)
	}
	return nil
}

// IndexOf returns the position of targetID within ordered, or -1.
func IndexOf(ordered []Linked, targetID string) int {
	for i, e := range ordered {
		if e.ID() == targetID {
			return i
		}
	}
	return -1
}
