package casesync

import (
	"github.com/bft-labs/casesync/internal/app"
	"github.com/bft-labs/casesync/internal/domain"
)

// StateChangeEvent reports a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// ConnectivityEvent reports a reachability change. WasOffline is true on a
// reconnect.
type ConnectivityEvent struct {
	Online     bool
	WasOffline bool
}

// SyncCompleteEvent summarizes a finished sync pass.
type SyncCompleteEvent struct {
	Result   PassResult
	Synced   int
	Failed   int
	Deferred int
	// Err is set when the pass was aborted.
	Err error
}

// EventHandler receives agent notifications.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnConnectivityChange(event ConnectivityEvent)
	OnSyncComplete(event SyncCompleteEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)         {}
func (BaseEventHandler) OnConnectivityChange(ConnectivityEvent) {}
func (BaseEventHandler) OnSyncComplete(SyncCompleteEvent)       {}

// eventBridge adapts an EventHandler to the lifecycle emitter and the
// coordinator observer.
type eventBridge struct {
	handler EventHandler
}

func (e eventBridge) OnStateChange(previous, current app.State, reason string) {
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e eventBridge) OnPassComplete(res app.PassResult, err error) {
	totals := res.Totals()
	e.handler.OnSyncComplete(SyncCompleteEvent{
		Result:   res,
		Synced:   totals.Synced,
		Failed:   totals.Failed,
		Deferred: totals.Deferred,
		Err:      err,
	})
}

func (e eventBridge) OnRecordOutcome(domain.Kind, app.Outcome) {}

func (e eventBridge) OnConnectivityChange(online, wasOffline bool) {
	e.handler.OnConnectivityChange(ConnectivityEvent{Online: online, WasOffline: wasOffline})
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
