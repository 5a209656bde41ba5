package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// InsertAuditLog appends one audit row. Audit history is append-only.
func (r *Repository) InsertAuditLog(ctx context.Context, entry AuditEntry) (string, error) {
	var metaJSON []byte
	if entry.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	id := uuid.NewString()
	const q = `
INSERT INTO audit_logs (id, actor_uid, actor_role, action, target_uid, target_ref, metadata)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7);
`
	if _, err := r.pool.Exec(ctx, q,
		id, entry.ActorUID, entry.ActorRole, entry.Action, entry.TargetUID, entry.TargetRef, metaJSON,
	); err != nil {
		return "", fmt.Errorf("insert audit log: %w", err)
	}
	return id, nil
}
