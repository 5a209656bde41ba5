package saga

import (
	"context"
	"errors"
	"fmt"

	"recharge-core/internal/audit"
	"recharge-core/internal/ecare"
	"recharge-core/internal/repo"
)

// ForceStatusCheck runs a single provider probe for a stuck transaction
// and settles or refunds if the answer is terminal. Terminal transactions
// are rejected; the settlement path's own terminal check makes a repeated
// force-check harmless.
func (o *Orchestrator) ForceStatusCheck(ctx context.Context, actorUID, refid string) (*repo.RechargeTransaction, error) {
	txn, err := o.store.GetRecharge(ctx, refid)
	if err != nil {
		return nil, err
	}
	if repo.IsTerminal(txn.Status) {
		return nil, fmt.Errorf("%w: status is %s", repo.ErrTerminalState, txn.Status)
	}
	if txn.Status == repo.StatusInitiated {
		return nil, errors.New("transaction was never submitted, nothing to check")
	}

	o.auditor.Record(ctx, repo.AuditEntry{
		ActorUID:  actorUID,
		ActorRole: "admin",
		Action:    audit.ActionAdminStatusCheck,
		TargetUID: txn.UID,
		TargetRef: refid,
	})

	res, err := o.provider.Status(ctx, refid)
	if err != nil {
		if recErr := o.store.RecordPoll(ctx, refid, err.Error(), "", false); recErr != nil {
			return nil, recErr
		}
		return nil, fmt.Errorf("provider status check: %w", err)
	}
	if recErr := o.store.RecordPoll(ctx, refid, res.Message, res.RawStatus, res.Terminal == ecare.TerminalNone); recErr != nil {
		return nil, recErr
	}

	switch res.Terminal {
	case ecare.TerminalSuccess:
		return o.settle(ctx, refid, res)
	case ecare.TerminalFailed:
		return o.refund(ctx, refid, CodeProviderFailed, nonEmpty(res.Message, res.RawStatus))
	}
	return o.store.GetRecharge(ctx, refid)
}

// Retry resumes the full poll loop for a non-terminal transaction,
// typically one parked in pending_verification. The loop restarts with a
// fresh attempt budget.
func (o *Orchestrator) Retry(ctx context.Context, actorUID, refid string) (*repo.RechargeTransaction, error) {
	txn, err := o.store.GetRecharge(ctx, refid)
	if err != nil {
		return nil, err
	}
	if repo.IsTerminal(txn.Status) {
		return nil, fmt.Errorf("%w: status is %s", repo.ErrTerminalState, txn.Status)
	}
	if txn.Status == repo.StatusInitiated {
		return nil, errors.New("transaction was never submitted, cannot retry polling")
	}

	o.auditor.Record(ctx, repo.AuditEntry{
		ActorUID:  actorUID,
		ActorRole: "admin",
		Action:    audit.ActionAdminRetry,
		TargetUID: txn.UID,
		TargetRef: refid,
	})
	o.logger.Info("admin retry started", "refid", refid, "actor", actorUID, "previous_status", txn.Status)

	return o.poll(ctx, refid, 0)
}
