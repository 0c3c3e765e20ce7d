// Package casesync provides an embeddable offline-first synchronizer for
// gameplay telemetry.
//
// Gameplay is recorded into a durable local SQLite ledger through a
// [Tracker] and pushed to the remote telemetry store whenever it is
// reachable. Recording never waits for the network.
//
// # Basic Usage
//
//	agent, err := casesync.New(casesync.Config{
//	    DBPath:     "/var/lib/game/ledger.db",
//	    ServiceURL: "https://telemetry.example.com",
//	    AuthKey:    "your-api-key",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer agent.Close()
//
//	if err := agent.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	t := agent.Tracker()
//	t.StartSession(ctx, "alice")
//	t.StartCase(ctx, "case-1")
//	t.CompleteCase(ctx, casesync.CaseResult{TotalPoints: 8})
//	t.EndSession(ctx, 8, 1)
//
// # Sync
//
// A running agent syncs when the remote store becomes reachable, every
// PollInterval while it stays reachable, and shortly after every tracker
// write. Sessions are pushed before case attempts, and case attempts
// before learner actions; a child waits until its parent has a remote id.
// Failed records are retried with exponential backoff per [RetryPolicy].
//
// # Event Handling
//
// Implement [EventHandler] (embed [BaseEventHandler] for no-op defaults) and
// pass it via [WithEventHandler] to observe lifecycle changes, connectivity
// changes and pass summaries. Events are called synchronously and should
// return quickly.
//
// # Plugins
//
// Plugins registered with [WithPlugin] are initialized on Start in
// registration order and shut down on Stop in reverse order. See
// plugins/configwatcher for a plugin that reloads the retry policy when the
// config file changes.
package casesync
