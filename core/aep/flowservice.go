package aep

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/aepmonitor/core/logger"
)

const flowServicePath = "/data/foundation/flowservice"

// StreamingConnectionSpecID identifies HTTP API streaming source connections. Everything
// else is treated as a destination connection.
const StreamingConnectionSpecID = "8a9c3494-9708-43d7-ae3f-cda01e5030e1"

// QueryServiceFlowSpecID identifies scheduled Query Service flows
const QueryServiceFlowSpecID = "c1a19761-d2c7-4702-b9fa-fe91f0613e81"

// maxParallelRequests bounds the fan-out of composite lookups
const maxParallelRequests = 8

// SourceConnections lists the streaming source connections
func (c *Client) SourceConnections(ctx context.Context) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/connections?property=connectionSpec.id=="+StreamingConnectionSpecID)
}

// DestinationConnections lists all connections which are not streaming sources
func (c *Client) DestinationConnections(ctx context.Context) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/connections?property=connectionSpec.id!="+StreamingConnectionSpecID)
}

// Connection fetches a source, target or destination connection
func (c *Client) Connection(ctx context.Context, connectionID string) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/connections/"+pathID(connectionID))
}

// ConnectionsBySpec lists the connections of a connection spec
func (c *Client) ConnectionsBySpec(ctx context.Context, connectionSpecID string, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/connections?property=connectionSpec.id==%s&limit=%d",
		flowServicePath, encodeURIComponent(connectionSpecID), limit))
}

// Flows lists all flows with the platform's default page size
func (c *Client) Flows(ctx context.Context) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/flows")
}

// AllFlows lists up to limit flows
func (c *Client) AllFlows(ctx context.Context, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/flows?limit=%d", flowServicePath, limit))
}

// Flow fetches one flow. The flow is the first element of items.
func (c *Client) Flow(ctx context.Context, flowID string) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/flows/"+pathID(flowID))
}

// FlowRunsForFlow lists the runs of one flow
func (c *Client) FlowRunsForFlow(ctx context.Context, flowID string) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/runs?property=flowId=="+encodeURIComponent(flowID))
}

// FlowRunsForFlowLimit lists up to limit runs of one flow
func (c *Client) FlowRunsForFlowLimit(ctx context.Context, flowID string, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/runs?property=flowId==%s&limit=%d",
		flowServicePath, encodeURIComponent(flowID), limit))
}

// FlowRun fetches one flow run
func (c *Client) FlowRun(ctx context.Context, flowRunID string) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/runs/"+pathID(flowRunID))
}

// AllFlowRuns lists the most recent flow runs over all flows
func (c *Client) AllFlowRuns(ctx context.Context, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/runs?limit=%d&orderBy=createdAt:desc", flowServicePath, limit))
}

// ConnectionSpecs lists all connection specs
func (c *Client) ConnectionSpecs(ctx context.Context) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/connectionSpecs")
}

// ConnectionSpec fetches one connection spec
func (c *Client) ConnectionSpec(ctx context.Context, connectionSpecID string) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/connectionSpecs/"+pathID(connectionSpecID))
}

// FlowSpec fetches one flow spec
func (c *Client) FlowSpec(ctx context.Context, flowSpecID string) (Object, error) {
	return c.getObject(ctx, flowServicePath+"/flowSpecs/"+pathID(flowSpecID))
}

// QueryServiceFlows lists scheduled Query Service flows starting at offset
func (c *Client) QueryServiceFlows(ctx context.Context, limit, offset int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/flows?property=flowSpec.id==%s&limit=%d&start=%d",
		flowServicePath, QueryServiceFlowSpecID, limit, offset))
}

// FlowsByConnectionSpec returns the flows that deliver into a connection of the given
// connection spec. Flows of all matching connections are fetched in parallel, a failing
// connection contributes no flows. The result is de-duplicated by flow id, keeps the
// connection order and holds at most limit flows.
func (c *Client) FlowsByConnectionSpec(ctx context.Context, connectionSpecID string, limit int) (Object, error) {
	rlog := logger.FromContext(ctx)
	connections, err := c.ConnectionsBySpec(ctx, connectionSpecID, 100)
	if err != nil {
		return nil, err
	}
	var connectionIDs []string
	for _, conn := range Items(connections) {
		if id := String(conn, "id"); id != "" {
			connectionIDs = append(connectionIDs, id)
		}
	}
	if len(connectionIDs) == 0 {
		rlog.Infoln("no connections found for connection spec", connectionSpecID)
		return Object{"items": []interface{}{}}, nil
	}

	perConnection := make([][]Object, len(connectionIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRequests)
	for i, connectionID := range connectionIDs {
		i, connectionID := i, connectionID
		g.Go(func() error {
			flows, err := c.getObject(gctx, fmt.Sprintf("%s/flows?property=targetConnectionIds==%s&limit=%d",
				flowServicePath, encodeURIComponent(connectionID), limit))
			if err != nil {
				rlog.WithError(err).Warnln("cannot fetch flows for connection", connectionID)
				return nil
			}
			perConnection[i] = Items(flows)
			return nil
		})
	}
	_ = g.Wait()

	seen := map[string]bool{}
	unique := []interface{}{}
	for _, flows := range perConnection {
		for _, flow := range flows {
			id := String(flow, "id")
			if seen[id] {
				continue
			}
			seen[id] = true
			unique = append(unique, flow)
		}
	}
	if limit >= 0 && len(unique) > limit {
		unique = unique[:limit]
	}
	return Object{"items": unique}, nil
}
