package aep

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const catalogPath = "/data/foundation/catalog"

// DefaultDatasetProperties are fetched by DatasetWithProperties when none are given
const DefaultDatasetProperties = "name,description,tags,files"

// encodeURIComponent escapes s like the ECMAScript function of the same name. The
// platform's property filters are documented with this encoding.
func encodeURIComponent(s string) string {
	const unreserved = "-_.!~*'()"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9') ||
			strings.IndexByte(unreserved, ch) >= 0 {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", ch)
	}
	return b.String()
}

func pathID(id string) string {
	return url.PathEscape(id)
}

// Datasets lists the most recently created datasets. The response is keyed by dataset id.
func (c *Client) Datasets(ctx context.Context, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/datasets/?limit=%d&orderBy=desc:created", catalogPath, limit))
}

// Dataset fetches one dataset. The response is keyed by dataset id.
func (c *Client) Dataset(ctx context.Context, datasetID string) (Object, error) {
	return c.getObject(ctx, catalogPath+"/datasets/"+pathID(datasetID))
}

// DatasetWithProperties fetches selected properties of a dataset
func (c *Client) DatasetWithProperties(ctx context.Context, datasetID, properties string) (Object, error) {
	if properties == "" {
		properties = DefaultDatasetProperties
	}
	return c.getObject(ctx, fmt.Sprintf("%s/datasets/%s?properties=%s", catalogPath, pathID(datasetID), properties))
}

// Batches lists the most recently created batches, optionally restricted to one dataset.
// The response is keyed by batch id.
func (c *Client) Batches(ctx context.Context, datasetID string, limit int) (Object, error) {
	endpoint := fmt.Sprintf("%s/batches?limit=%d&orderBy=desc:created", catalogPath, limit)
	if datasetID != "" {
		endpoint = fmt.Sprintf("%s/batches?property=relatedObjects.id==%s&limit=%d&orderBy=desc:created",
			catalogPath, encodeURIComponent(datasetID), limit)
	}
	return c.getObject(ctx, endpoint)
}

// Batch fetches one batch. The response is keyed by batch id.
func (c *Client) Batch(ctx context.Context, batchID string) (Object, error) {
	return c.getObject(ctx, catalogPath+"/batches/"+pathID(batchID))
}

// RelatedBatches fetches the batches derived from batchID, for example the
// identity and profile batches of an ingestion batch.
func (c *Client) RelatedBatches(ctx context.Context, batchID string) (Object, error) {
	return c.getObject(ctx, catalogPath+"/batches?batch="+encodeURIComponent(batchID))
}
