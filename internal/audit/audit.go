// Package audit records who did what to which transaction. Audit failures
// never fail the business operation that triggered them; they are logged
// and counted instead.
package audit

import (
	"context"
	"log/slog"

	"recharge-core/internal/metrics"
	"recharge-core/internal/repo"
)

// Actions recorded by the recharge subsystem.
const (
	ActionRechargeSuccess   = "recharge.success"
	ActionRechargeRefund    = "recharge.refund"
	ActionRechargeFailed    = "recharge.failed"
	ActionDriveOfferSuccess = "drive_offer.success"
	ActionDriveOfferRefund  = "drive_offer.refund"
	ActionDriveOfferFailed  = "drive_offer.failed"
	ActionProviderLowFloat  = "ecare.low_balance"
	ActionAdminStatusCheck  = "recharge.admin_status_check"
	ActionAdminRetry        = "recharge.admin_retry"
)

const systemActor = "system"

// Store is the storage surface the recorder needs.
type Store interface {
	InsertAuditLog(ctx context.Context, entry repo.AuditEntry) (string, error)
}

// Recorder writes audit rows and raises operational alerts.
type Recorder struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Recorder.
func New(store Store, metricRegistry *metrics.Metrics, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		metrics: metricRegistry,
		logger:  logger.With("component", "audit"),
	}
}

// Record appends one audit entry, returning its id when stored.
func (r *Recorder) Record(ctx context.Context, entry repo.AuditEntry) string {
	if entry.ActorUID == "" {
		entry.ActorUID = systemActor
	}
	if entry.ActorRole == "" {
		entry.ActorRole = systemActor
	}
	id, err := r.store.InsertAuditLog(ctx, entry)
	if err != nil {
		r.logger.Warn("audit record failed", "action", entry.Action, "error", err)
		if r.metrics != nil {
			r.metrics.Errors.WithLabelValues("audit").Inc()
		}
		return ""
	}
	return id
}

// Alert records an operational condition that needs operator attention.
// Distinct from the user-facing outcome: it is an audit row plus a metric
// plus an error-level log line.
func (r *Recorder) Alert(ctx context.Context, action string, targetRef string, metadata map[string]any) {
	r.logger.Error("operational alert", "action", action, "target_ref", targetRef)
	if r.metrics != nil {
		r.metrics.Alerts.WithLabelValues(action).Inc()
	}
	r.Record(ctx, repo.AuditEntry{
		ActorUID:  systemActor,
		ActorRole: systemActor,
		Action:    action,
		TargetRef: targetRef,
		Metadata:  metadata,
	})
}
