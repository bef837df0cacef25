// Package bleve indexes archived origins with an embedded Bleve index so
// save request listings can be searched by origin.
package bleve

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Index implements savecode.SearchIndex.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

type originDocument struct {
	URL        string   `json:"url"`
	URLExact   string   `json:"url_exact"`
	VisitTypes []string `json:"visit_types"`
	HasVisits  bool     `json:"has_visits"`
	LastVisit  string   `json:"last_visit,omitempty"`
}

// Open opens the index at path, creating it when missing. An empty path
// yields an in-memory index.
func Open(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory origin index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	var (
		idx bleve.Index
		err error
	)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create origin index: %w", err)
		}
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open origin index: %w", err)
		}
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	originMapping := bleve.NewDocumentMapping()

	urlField := bleve.NewTextFieldMapping()
	urlField.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()

	originMapping.AddFieldMappingsAt("url", urlField)
	originMapping.AddFieldMappingsAt("url_exact", keyword)
	originMapping.AddFieldMappingsAt("visit_types", keyword)
	originMapping.AddFieldMappingsAt("has_visits", bleve.NewBooleanFieldMapping())
	originMapping.AddFieldMappingsAt("last_visit", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = originMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// IndexOrigin upserts an origin. Visit types accumulate across calls.
func (i *Index) IndexOrigin(_ context.Context, doc savecode.OriginDocument) error {
	if strings.TrimSpace(doc.URL) == "" {
		return fmt.Errorf("origin url is required")
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	visitTypes := append([]string(nil), doc.VisitTypes...)
	if existing, err := i.index.Document(doc.URL); err == nil && existing != nil {
		visitTypes = mergeVisitTypes(i.storedVisitTypes(doc.URL), visitTypes)
	}

	stored := originDocument{
		URL:        doc.URL,
		URLExact:   doc.URL,
		VisitTypes: visitTypes,
		HasVisits:  doc.HasVisits,
	}
	if !doc.LastVisit.IsZero() {
		stored.LastVisit = doc.LastVisit.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if err := i.index.Index(doc.URL, stored); err != nil {
		return fmt.Errorf("index origin %s: %w", doc.URL, err)
	}
	return nil
}

func (i *Index) storedVisitTypes(url string) []string {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{url}))
	req.Fields = []string{"visit_types"}
	res, err := i.index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return nil
	}
	switch v := res.Hits[0].Fields["visit_types"].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mergeVisitTypes(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, vt := range append(a, b...) {
		if _, ok := seen[vt]; ok || vt == "" {
			continue
		}
		seen[vt] = struct{}{}
		out = append(out, vt)
	}
	return out
}

// SearchOrigins returns origin URLs whose tokens all match q, best first.
func (i *Index) SearchOrigins(_ context.Context, q string, limit int) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	match := bleve.NewMatchQuery(q)
	match.SetField("url")
	match.SetOperator(query.MatchQueryOperatorAnd)
	exact := bleve.NewTermQuery(q)
	exact.SetField("url_exact")
	exact.SetBoost(10)

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(match, exact), limit, 0, false)

	i.mu.RLock()
	res, err := i.index.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search origins: %w", err)
	}
	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.ID)
	}
	return out, nil
}

// Close releases the index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}
