package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lexflow.io/internal/audit"
)

var _ audit.Store = (*Store)(nil)

func (s *Store) InsertAuditEntry(ctx context.Context, e audit.Entry) error {
	var diff []byte
	if len(e.Diff) > 0 {
		var err error
		if diff, err = json.Marshal(e.Diff); err != nil {
			return fmt.Errorf("encode audit diff: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, org_id, actor_id, action, entity_type, entity_id, diff_json, ip, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, optional(e.OrgID), e.ActorID, e.Action, e.EntityType, optional(e.EntityID), diff,
		e.IP, e.UserAgent, e.CreatedAt)
	return mapError(err)
}

// ListAuditEntries returns the newest entries of orgID first.
func (s *Store) ListAuditEntries(ctx context.Context, orgID string, q audit.Query) ([]audit.Entry, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	if q.EntityType != "" {
		args = append(args, q.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if q.EntityID != "" {
		args = append(args, q.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if !q.Before.IsZero() {
		args = append(args, q.Before)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, q.Limit)
	query := fmt.Sprintf(`
		select id, coalesce(org_id, ''), actor_id, action, entity_type, coalesce(entity_id, ''), diff_json, ip, user_agent, created_at
		from audit_log where %s
		order by created_at desc, id desc
		limit $%d`, strings.Join(where, " and "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e    audit.Entry
			diff []byte
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &diff,
			&e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(diff) > 0 {
			if err := json.Unmarshal(diff, &e.Diff); err != nil {
				return nil, fmt.Errorf("decode audit diff %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
