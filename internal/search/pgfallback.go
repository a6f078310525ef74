package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFallback searches cases with ILIKE when Meilisearch is not available.
type PgFallback struct {
	db *sql.DB
}

func NewPgFallback(db *sql.DB) *PgFallback {
	return &PgFallback{db: db}
}

func (p *PgFallback) SearchCaseIDs(ctx context.Context, q Query) ([]string, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(text) + "%"
	rows, err := p.db.QueryContext(ctx, `
		select id from cases
		where org_id = $1
		  and (caratula ilike $2 or cliente_nombre ilike $2 or cliente_documento ilike $2
		       or materia ilike $2 or coalesce(tribunal, '') ilike $2)
		order by updated_at desc
		limit $3`, q.OrgID, pattern, q.limit())
	if err != nil {
		return nil, fmt.Errorf("search cases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
