package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/models"
)

// Indexer mirrors canonical leads into the search index. The mirror is
// best-effort: rejected documents are logged and counted.
type Indexer struct {
	client *es.Client
	log    *slog.Logger
}

func NewIndexer(client *es.Client, log *slog.Logger) *Indexer {
	return &Indexer{client: client, log: log}
}

func (ix *Indexer) IndexLeads(ctx context.Context, leads []models.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     ix.client,
		Index:      IdxLeads,
		FlushBytes: 5 << 20,
		NumWorkers: 2,
	})
	if err != nil {
		return fmt.Errorf("bulk indexer: %w", err)
	}

	for _, lead := range leads {
		body, err := BuildLeadDoc(lead)
		if err != nil {
			return err
		}
		docID := lead.ID.String()
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: docID,
			Body:       bytes.NewReader(body),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				msg := ""
				switch {
				case err != nil:
					msg = err.Error()
				case res.Error.Reason != "":
					msg = fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
				default:
					msg = fmt.Sprintf("status=%d failed to index", res.Status)
				}
				metrics.SearchIndexFailures.Inc()
				ix.log.Warn("lead index failed", "lead_id", docID, "reason", msg)
			},
		})
		if err != nil {
			return fmt.Errorf("bulk add %s: %w", docID, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return err
	}
	stats := bi.Stats()
	ix.log.Debug("lead bulk index", "ok", stats.NumFlushed, "failed", stats.NumFailed)
	if stats.NumFailed > 0 {
		return fmt.Errorf("bulk index: %d of %d documents failed", stats.NumFailed, stats.NumAdded)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Source LeadDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchLeads runs a free-text query over name, company, job title and
// email.
func (ix *Indexer) SearchLeads(ctx context.Context, q string, size int) ([]LeadDoc, error) {
	if size <= 0 || size > 100 {
		size = 20
	}
	query := map[string]any{
		"size": size,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  strings.TrimSpace(q),
				"fields": []string{"name^2", "company", "job_title", "email", "interests"},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	res, err := ix.client.Search(
		ix.client.Search.WithContext(ctx),
		ix.client.Search.WithIndex(IdxLeads),
		ix.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search leads: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search leads: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	docs := make([]LeadDoc, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		doc := hit.Source
		doc.ID = hit.ID
		docs = append(docs, doc)
	}
	return docs, nil
}
