package search

import (
	"context"

	"lexflow.io/internal/obs"
)

// Service tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili *Meili
	pg    *PgFallback
}

// NewService builds the facade. meili may be nil when not configured.
func NewService(meili *Meili, pg *PgFallback) *Service {
	return &Service{meili: meili, pg: pg}
}

func (s *Service) SearchCaseIDs(ctx context.Context, q Query) ([]string, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchCaseIDs(q)
		if err == nil {
			return ids, nil
		}
		obs.Warn("meilisearch failed, falling back to postgres", map[string]any{"error": err.Error()})
	}
	if s.pg == nil {
		return nil, nil
	}
	return s.pg.SearchCaseIDs(ctx, q)
}

// IndexCase pushes doc to Meilisearch in the background.
func (s *Service) IndexCase(doc CaseDocument) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(doc); err != nil {
			obs.Warn("index case failed", map[string]any{"case_id": doc.ID, "error": err.Error()})
		}
	}()
}

// Close stops the Meilisearch health loop.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
