package app

import (
	"time"

	"github.com/bft-labs/casesync/internal/domain"
)

// Outcome is what a sync pass did with one record.
type Outcome string

const (
	OutcomeSynced   Outcome = "synced"
	OutcomeFailed   Outcome = "failed"
	OutcomeDeferred Outcome = "deferred"
)

// TierResult counts record outcomes for one kind.
type TierResult struct {
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// PassResult summarizes one sync pass.
type PassResult struct {
	StartedAt time.Time                  `json:"started_at"`
	Duration  time.Duration              `json:"duration"`
	Requeued  int                        `json:"requeued"`
	Tiers     map[domain.Kind]TierResult `json:"tiers"`
}

func newPassResult(start time.Time) PassResult {
	return PassResult{StartedAt: start, Tiers: make(map[domain.Kind]TierResult, 3)}
}

func (r *PassResult) add(kind domain.Kind, o Outcome) {
	t := r.Tiers[kind]
	switch o {
	case OutcomeSynced:
		t.Synced++
	case OutcomeFailed:
		t.Failed++
	case OutcomeDeferred:
		t.Deferred++
	}
	r.Tiers[kind] = t
}

// Totals sums the outcomes of every tier.
func (r PassResult) Totals() TierResult {
	var total TierResult
	for _, t := range r.Tiers {
		total.Synced += t.Synced
		total.Failed += t.Failed
		total.Deferred += t.Deferred
	}
	return total
}

// Observer receives coordinator notifications. Calls are synchronous from
// the coordinator goroutine and must not block.
type Observer interface {
	// OnPassComplete is called after every pass; err is non-nil when the
	// pass was aborted.
	OnPassComplete(result PassResult, err error)

	// OnRecordOutcome is called once per record handled by a pass.
	OnRecordOutcome(kind domain.Kind, outcome Outcome)

	// OnConnectivityChange is called when reachability is first known and
	// on every change.
	OnConnectivityChange(online, wasOffline bool)
}

// Observers fans notifications out to several observers.
type Observers []Observer

// OnPassComplete forwards the pass result to every observer in order.
func (o Observers) OnPassComplete(result PassResult, err error) {
	for _, obs := range o {
		obs.OnPassComplete(result, err)
	}
}

// OnRecordOutcome forwards a per-record outcome.
func (o Observers) OnRecordOutcome(kind domain.Kind, outcome Outcome) {
	for _, obs := range o {
		obs.OnRecordOutcome(kind, outcome)
	}
}

// OnConnectivityChange forwards a reachability transition.
func (o Observers) OnConnectivityChange(online, wasOffline bool) {
	for _, obs := range o {
		obs.OnConnectivityChange(online, wasOffline)
	}
}
