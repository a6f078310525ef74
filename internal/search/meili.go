package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"lexflow.io/internal/obs"
)

const idxCases = "lexflow_cases"

// Meili indexes and searches cases in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to Meilisearch. An unreachable server is tolerated; the
// health loop picks it up once it comes back.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		obs.Warn("meilisearch unavailable", map[string]any{"url": url, "error": err.Error()})
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxCases, PrimaryKey: "id"}); err != nil {
		obs.Warn("meilisearch create index", map[string]any{"index": idxCases, "error": err.Error()})
	}
	index := m.client.Index(idxCases)
	filterable := []interface{}{"orgId", "estado"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		obs.Warn("meilisearch filterable attributes", map[string]any{"error": err.Error()})
	}
	searchable := []string{"caratula", "clienteNombre", "clienteDocumento", "materia", "tribunal"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		obs.Warn("meilisearch searchable attributes", map[string]any{"error": err.Error()})
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			was := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !was {
				obs.Info("meilisearch recovered", nil)
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchCaseIDs returns matching case ids within q.OrgID in relevance order.
func (m *Meili) SearchCaseIDs(q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, errors.New("meilisearch unhealthy")
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxCases,
			Query:    q.Text,
			Limit:    int64(q.limit()),
			Filter:   fmt.Sprintf("orgId = %q", q.OrgID),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}
	var out []string
	for _, res := range resp.Results {
		for _, hit := range res.Hits {
			if id := decodeString(hit, "id"); id != "" {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (m *Meili) IndexCase(doc CaseDocument) error {
	_, err := m.client.Index(idxCases).AddDocuments([]CaseDocument{doc}, nil)
	return err
}

func (m *Meili) DeleteCase(id string) error {
	_, err := m.client.Index(idxCases).DeleteDocument(id, nil)
	return err
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
