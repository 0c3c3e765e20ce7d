// Package domain contains the core entities and value objects for casesync.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (SQL, HTTP, logging) and contains
// only the record shapes and the rules that hold for them.
//
// # Entities
//
//   - [User]: the learner a session belongs to
//   - [Session]: one play-through, optionally ended with a final score
//   - [CaseAttempt]: one case worked inside a session
//   - [LearnerAction]: a free-form telemetry event inside a session
//
// Every entity embeds [SyncMeta], which carries the local identity, the
// optional remote identity and the synchronization status.
//
// # Invariants
//
//   - A record whose status is [StatusSynced] has a non-zero ServerID
//     (Users excepted: the remote protocol never exposes user ids).
//   - Only [StatusPending] records are eligible for propagation.
//   - LastModified only increases.
//   - A child record is never propagated before its parent has a ServerID.
package domain
