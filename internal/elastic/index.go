package elastic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	es "github.com/elastic/go-elasticsearch/v8"
)

const IdxLeads = "leads_v1"

const leadsMapping = `{"settings":{"number_of_shards":1},"mappings":{"dynamic":"strict","properties":{
	"email":{"type":"keyword"},"name":{"type":"text"},"company":{"type":"text"},
	"job_title":{"type":"text"},"industry":{"type":"keyword"},"interests":{"type":"keyword"},
	"qualified":{"type":"boolean"},"mission_progress":{"type":"integer"},
	"mission_completed_at":{"type":"date"},"updated_at":{"type":"date"}
}}}`

func EnsureIndexes(ctx context.Context, c *es.Client) error {
	return ensure(ctx, c, IdxLeads, leadsMapping)
}

func ensure(ctx context.Context, c *es.Client, index, body string) error {
	exists, err := c.Indices.Exists([]string{index}, c.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}
	res, err := c.Indices.Create(index, c.Indices.Create.WithBody(bytes.NewBufferString(body)), c.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", index, res.Status())
	}
	return nil
}
