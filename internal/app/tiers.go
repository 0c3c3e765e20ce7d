package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bft-labs/casesync/internal/domain"
	"github.com/bft-labs/casesync/internal/ports"
)

// dependency is a resolved parent record. A parent is ready once the remote
// store has given it an id; it does not need to be fully synced.
type dependency struct {
	serverID int64
}

func (d dependency) ready() bool {
	return d.serverID > 0
}

// passState is the per-pass working set: the policy snapshot, the result
// being built and memoized parent lookups.
type passState struct {
	*Coordinator
	res      *PassResult
	policy   RetryPolicy
	sessions map[int64]dependency
	attempts map[int64]dependency
}

func (p *passState) record(kind domain.Kind, o Outcome) {
	p.res.add(kind, o)
	p.observer.OnRecordOutcome(kind, o)
}

// syncSessions creates missing remote sessions and propagates end markers.
func (p *passState) syncSessions(ctx context.Context) error {
	sessions, err := p.queue.ListPendingSessions(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := p.syncSession(ctx, s)
		if err != nil {
			return err
		}
		p.record(domain.KindSession, o)
	}
	return nil
}

func (p *passState) syncSession(ctx context.Context, s domain.Session) (Outcome, error) {
	ref := s.Ref(domain.KindSession)
	serverID := s.ServerID

	if !s.HasServerID() {
		user, err := p.queue.GetUser(ctx, s.UserID)
		if err != nil {
			return "", fmt.Errorf("load user of %s: %w", ref, err)
		}

		cctx, cancel := p.callCtx(ctx)
		id, err := p.remote.CreateSession(cctx, ports.CreateSessionRequest{
			Username:       user.Username,
			IdempotencyKey: s.RequestID,
		})
		cancel()
		if err != nil {
			return p.fail(ctx, ref, s.SyncAttempts, "create session", err)
		}
		serverID = id

		if user.SyncStatus != domain.StatusSynced {
			if err := p.queue.MarkUserSynced(ctx, user.LocalID); err != nil {
				return "", err
			}
		}
		if s.NeedsEnd() {
			// Keep the remote id if the end call below fails.
			if err := p.queue.SetServerID(ctx, domain.KindSession, s.LocalID, id); err != nil {
				return "", err
			}
		}
	}

	if s.NeedsEnd() {
		cctx, cancel := p.callCtx(ctx)
		err := p.remote.EndSession(cctx, ports.EndSessionRequest{
			SessionID:      serverID,
			TotalScore:     s.TotalScore,
			CasesCompleted: s.CasesCompleted,
			IdempotencyKey: revisionKey(s.RequestID, "end", s.Revision),
		})
		cancel()
		if err != nil {
			return p.fail(ctx, ref, s.SyncAttempts, "end session", err)
		}
	}

	p.sessions[s.LocalID] = dependency{serverID: serverID}
	return p.succeed(ctx, ref, serverID)
}

// syncCaseAttempts creates missing remote case attempts and propagates completions.
func (p *passState) syncCaseAttempts(ctx context.Context) error {
	attempts, err := p.queue.ListPendingCaseAttempts(ctx)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := p.syncCaseAttempt(ctx, a)
		if err != nil {
			return err
		}
		p.record(domain.KindCaseAttempt, o)
	}
	return nil
}

func (p *passState) syncCaseAttempt(ctx context.Context, a domain.CaseAttempt) (Outcome, error) {
	ref := a.Ref(domain.KindCaseAttempt)
	serverID := a.ServerID

	if !a.HasServerID() {
		session, err := p.resolveSession(ctx, a.SessionID)
		if err != nil {
			return "", err
		}
		if !session.ready() {
			p.logger.Debug("parent session not synced, deferring", ports.String("record", ref.String()))
			return OutcomeDeferred, nil
		}

		cctx, cancel := p.callCtx(ctx)
		id, err := p.remote.CreateCaseAttempt(cctx, ports.CreateCaseAttemptRequest{
			SessionID:      session.serverID,
			CaseID:         a.CaseID,
			IdempotencyKey: a.RequestID,
		})
		cancel()
		if err != nil {
			return p.fail(ctx, ref, a.SyncAttempts, "create case attempt", err)
		}
		serverID = id

		if a.NeedsCompletion() {
			if err := p.queue.SetServerID(ctx, domain.KindCaseAttempt, a.LocalID, id); err != nil {
				return "", err
			}
		}
	}

	if a.NeedsCompletion() {
		cctx, cancel := p.callCtx(ctx)
		err := p.remote.CompleteCaseAttempt(cctx, ports.CompleteCaseAttemptRequest{
			CaseAttemptID:  serverID,
			CaseResult:     a.CaseResult,
			IdempotencyKey: revisionKey(a.RequestID, "complete", a.Revision),
		})
		cancel()
		if err != nil {
			return p.fail(ctx, ref, a.SyncAttempts, "complete case attempt", err)
		}
	}

	p.attempts[a.LocalID] = dependency{serverID: serverID}
	return p.succeed(ctx, ref, serverID)
}

// syncLearnerActions appends pending actions whose session is known remotely.
func (p *passState) syncLearnerActions(ctx context.Context) error {
	actions, err := p.queue.ListPendingLearnerActions(ctx)
	if err != nil {
		return err
	}
	for _, act := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := p.syncLearnerAction(ctx, act)
		if err != nil {
			return err
		}
		p.record(domain.KindLearnerAction, o)
	}
	return nil
}

func (p *passState) syncLearnerAction(ctx context.Context, act domain.LearnerAction) (Outcome, error) {
	ref := act.Ref(domain.KindLearnerAction)

	session, err := p.resolveSession(ctx, act.SessionID)
	if err != nil {
		return "", err
	}
	if !session.ready() {
		p.logger.Debug("parent session not synced, deferring", ports.String("record", ref.String()))
		return OutcomeDeferred, nil
	}

	// An action whose case attempt is not known remotely yet is sent
	// without the link rather than held back.
	var attemptID *int64
	if act.CaseAttemptID != nil {
		attempt, err := p.resolveCaseAttempt(ctx, *act.CaseAttemptID)
		if err != nil {
			return "", err
		}
		if attempt.ready() {
			id := attempt.serverID
			attemptID = &id
		}
	}

	cctx, cancel := p.callCtx(ctx)
	id, err := p.remote.AppendAction(cctx, ports.AppendActionRequest{
		SessionID:      session.serverID,
		CaseAttemptID:  attemptID,
		ActionType:     act.ActionType,
		ActionData:     act.ActionData,
		IdempotencyKey: act.RequestID,
	})
	cancel()
	if err != nil {
		return p.fail(ctx, ref, act.SyncAttempts, "append action", err)
	}
	if id == 0 {
		id = domain.AcknowledgedID
	}
	return p.succeed(ctx, ref, id)
}

// resolveSession looks up the remote id of a local session. A missing
// session resolves to not ready.
func (p *passState) resolveSession(ctx context.Context, localID int64) (dependency, error) {
	if d, ok := p.sessions[localID]; ok && d.ready() {
		return d, nil
	}
	s, err := p.queue.GetSession(ctx, localID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("parent session missing", ports.Int64("session", localID))
		return dependency{}, nil
	}
	if err != nil {
		return dependency{}, fmt.Errorf("resolve session %d: %w", localID, err)
	}
	d := dependency{serverID: s.ServerID}
	p.sessions[localID] = d
	return d, nil
}

// resolveCaseAttempt looks up the remote id of a local case attempt.
func (p *passState) resolveCaseAttempt(ctx context.Context, localID int64) (dependency, error) {
	if d, ok := p.attempts[localID]; ok && d.ready() {
		return d, nil
	}
	a, err := p.queue.GetCaseAttempt(ctx, localID)
	if errors.Is(err, domain.ErrNotFound) {
		return dependency{}, nil
	}
	if err != nil {
		return dependency{}, fmt.Errorf("resolve case attempt %d: %w", localID, err)
	}
	d := dependency{serverID: a.ServerID}
	p.attempts[localID] = d
	return d, nil
}

func (p *passState) succeed(ctx context.Context, ref domain.RecordRef, serverID int64) (Outcome, error) {
	applied, err := p.queue.MarkSynced(ctx, ref, serverID)
	if err != nil {
		return "", err
	}
	if !applied {
		// Edited while in flight; the newer revision goes out next pass.
		p.logger.Debug("record changed during sync, left pending", ports.String("record", ref.String()))
		return OutcomeDeferred, nil
	}
	return OutcomeSynced, nil
}

// fail records a remote failure on the record. Cancellation of the pass
// itself is not the record's fault and aborts instead.
func (p *passState) fail(ctx context.Context, ref domain.RecordRef, attempts int, op string, cause error) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	failures := attempts + 1
	next := p.policy.NextAttempt(p.now(), failures, p.jitter)
	applied, err := p.queue.MarkFailed(ctx, ref, next)
	if err != nil {
		return "", err
	}
	if !applied {
		// Edited while in flight; the new revision is retried as pending.
		p.logger.Debug("record changed during sync, left pending",
			ports.String("record", ref.String()), ports.Err(cause))
		return OutcomeDeferred, nil
	}

	fields := []ports.Field{
		ports.String("record", ref.String()),
		ports.String("op", op),
		ports.Int("failures", failures),
		ports.Err(cause),
	}
	if p.policy.Exhausted(failures) {
		p.logger.Warn("sync failed, retries exhausted", fields...)
	} else {
		p.logger.Warn("sync failed", append(fields, ports.Time("next_attempt", next))...)
	}
	return OutcomeFailed, nil
}

// revisionKey derives the idempotency key of a follow-up write so that a
// changed payload is never deduplicated against an older one.
func revisionKey(requestID, op string, revision int64) string {
	return requestID + ":" + op + ":" + strconv.FormatInt(revision, 10)
}
