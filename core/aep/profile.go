package aep

import (
	"context"
	"fmt"
	"net/http"

	"github.com/relabs-tech/aepmonitor/core/logger"
)

// Event types which can be enriched with platform data
const (
	EventProfileCreated   = "profile.created"
	EventProfileUpdated   = "profile.updated"
	EventSegmentEvaluated = "segment.evaluated"
	EventDataIngested     = "data.ingested"
	EventJourneyTriggered = "journey.triggered"
)

// Profile fetches the profile entity identified by an ECID
func (c *Client) Profile(ctx context.Context, profileID string) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/access/entities?entityId=%s&entityIdNS=ECID", upsPath, encodeURIComponent(profileID)))
}

// SegmentDefinitionLegacy fetches a segment definition through the segmentation API
func (c *Client) SegmentDefinitionLegacy(ctx context.Context, segmentID string) (Object, error) {
	return c.getObject(ctx, "/data/core/segmentation/segment-definitions/"+pathID(segmentID))
}

// Journey fetches the flow backing a journey
func (c *Client) Journey(ctx context.Context, journeyID string) (Object, error) {
	return c.Flow(ctx, journeyID)
}

// EnrichEvent looks up the platform objects an event refers to. Which objects are looked
// up depends on eventType, their ids are read from payload (profileId, segmentId,
// datasetId, journeyId). A failed lookup yields a nil value for its key. Unknown event
// types yield an empty result.
func (c *Client) EnrichEvent(ctx context.Context, eventType string, payload Object) Object {
	rlog := logger.FromContext(ctx)
	enriched := Object{}

	lookup := func(key, idField string, get func(context.Context, string) (Object, error)) {
		id := String(payload, idField)
		if id == "" {
			return
		}
		result, err := get(ctx, id)
		if err != nil {
			rlog.WithError(err).Warnf("cannot fetch %s %s for enrichment", key, id)
			enriched[key] = nil
			return
		}
		enriched[key] = result
	}

	switch eventType {
	case EventProfileCreated, EventProfileUpdated:
		lookup("profile", "profileId", c.Profile)
	case EventSegmentEvaluated:
		lookup("segment", "segmentId", c.SegmentDefinitionLegacy)
		lookup("profile", "profileId", c.Profile)
	case EventDataIngested:
		lookup("dataset", "datasetId", c.Dataset)
	case EventJourneyTriggered:
		lookup("journey", "journeyId", c.Journey)
		lookup("profile", "profileId", c.Profile)
	default:
		rlog.Infoln("no enrichment available for event type", eventType)
	}
	return enriched
}

// ValidateToken checks the client's token against an endpoint every token with
// profile access may read
func (c *Client) ValidateToken(ctx context.Context) error {
	return c.Do(ctx, http.MethodGet, upsPath+"/config/computedAttributes", nil, nil)
}

// TestConnection obtains a token and reads a single dataset. Token failures are returned
// as *TokenError, platform failures as *Error.
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := c.Token(ctx); err != nil {
		return err
	}
	_, err := c.getObject(ctx, catalogPath+"/datasets/?limit=1")
	return err
}
