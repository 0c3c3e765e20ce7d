package ports

import "context"

// Reachability delivers network status to the sync coordinator.
type Reachability interface {
	// Subscribe returns a channel that first carries the current state and
	// then every change (true = reachable). The channel is closed when ctx
	// is done.
	Subscribe(ctx context.Context) <-chan bool
}
