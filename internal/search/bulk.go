package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"productload/internal/batch"
)

type bulkAction struct {
	Index bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// BulkLoad indexes docs in chunks of batchSize, one _bulk request per chunk.
// A transport error, a non-2xx response or any failed item aborts the load.
func (c *Client) BulkLoad(ctx context.Context, index string, docs []Document, batchSize int) (batch.Stats, error) {
	if batchSize <= 0 {
		batchSize = batch.DefaultSearchSize
	}
	return batch.Load(ctx, index, docs, batchSize, func(ctx context.Context, chunk []Document) error {
		return c.bulk(ctx, index, chunk)
	}, c.logger)
}

func (c *Client) bulk(ctx context.Context, index string, docs []Document) error {
	body, err := encodeBulk(index, docs)
	if err != nil {
		return err
	}

	res, err := c.es.Bulk(bytes.NewReader(body),
		c.es.Bulk.WithIndex(index),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("bulk: %w", err)
	}

	var out bulkResponse
	if err := decode(res, "bulk", &out); err != nil {
		return err
	}
	if !out.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range out.Items {
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				continue
			}
			failed++
			if first == "" {
				first = fmt.Sprintf("id=%s status=%d", r.ID, r.Status)
				if r.Error != nil {
					first += fmt.Sprintf(" %s: %s", r.Error.Type, r.Error.Reason)
				}
			}
		}
	}
	return fmt.Errorf("bulk: %d of %d documents failed, first: %s", failed, len(docs), first)
}

// encodeBulk renders docs as an NDJSON _bulk body.
func encodeBulk(index string, docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(bulkAction{Index: bulkMeta{Index: index, ID: d.ID}}); err != nil {
			return nil, fmt.Errorf("bulk: encode action: %w", err)
		}
		if err := enc.Encode(d.Source); err != nil {
			return nil, fmt.Errorf("bulk: encode document %s: %w", d.ID, err)
		}
	}
	return buf.Bytes(), nil
}
