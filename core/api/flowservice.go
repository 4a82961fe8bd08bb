package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/logger"
)

func (a *API) handleFlowServiceRoutes(router *mux.Router) {
	handle(router, "/api/sources", a.sources, http.MethodGet)
	handle(router, "/api/sources/{id}", a.source, http.MethodGet)
	handle(router, "/api/destinations", a.destinations, http.MethodGet)
	handle(router, "/api/destinations/flows/{id}", a.destinationFlow, http.MethodGet)
	handle(router, "/api/destinations/{id}", a.destination, http.MethodGet)
	handle(router, "/api/ingestion/flows", a.ingestionFlows, http.MethodGet)
	handle(router, "/api/ingestion/flow-runs", a.ingestionFlowRuns, http.MethodGet)
	handle(router, "/api/ingestion/flows/{id}", a.ingestionFlowDetails, http.MethodGet)
}

type fetchFunc func(ctx context.Context) (aep.Object, error)

// flowServiceItem fetches one connection, flow or flow run, or the runs of one flow
func flowServiceItem(client *aep.Client, id, kind string) fetchFunc {
	switch kind {
	case "connection":
		return func(ctx context.Context) (aep.Object, error) { return client.Connection(ctx, id) }
	case "flow":
		return func(ctx context.Context) (aep.Object, error) { return client.Flow(ctx, id) }
	case "flow-runs":
		return func(ctx context.Context) (aep.Object, error) { return client.FlowRunsForFlow(ctx, id) }
	case "flow-run":
		return func(ctx context.Context) (aep.Object, error) { return client.FlowRun(ctx, id) }
	}
	return nil
}

func (a *API) sources(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	var fetch fetchFunc
	switch stringParam(r, "type", "connections") {
	case "connections":
		fetch = client.SourceConnections
	case "flows":
		fetch = client.Flows
	default:
		writeError(w, http.StatusBadRequest, "Invalid type parameter", nil)
		return
	}
	data, err := fetch(ctx)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch sources data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) source(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	fetch := flowServiceItem(client, mux.Vars(r)["id"], stringParam(r, "type", "connection"))
	if fetch == nil {
		writeError(w, http.StatusBadRequest, "Invalid type parameter", nil)
		return
	}
	data, err := fetch(ctx)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch source data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) destinations(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	limit := intParam(r, "limit", 20)
	var fetch fetchFunc
	switch stringParam(r, "type", "connections") {
	case "connections":
		fetch = client.DestinationConnections
	case "flows":
		if specID := r.URL.Query().Get("connectionSpecId"); specID != "" {
			fetch = func(ctx context.Context) (aep.Object, error) {
				return client.FlowsByConnectionSpec(ctx, specID, limit)
			}
		} else {
			fetch = client.Flows
		}
	case "connection-specs":
		fetch = client.ConnectionSpecs
	case "flow-runs":
		fetch = func(ctx context.Context) (aep.Object, error) { return client.AllFlowRuns(ctx, limit) }
	default:
		writeError(w, http.StatusBadRequest, "Invalid type parameter", nil)
		return
	}
	data, err := fetch(ctx)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch destinations data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) destination(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	fetch := flowServiceItem(client, mux.Vars(r)["id"], stringParam(r, "type", "connection"))
	if fetch == nil {
		writeError(w, http.StatusBadRequest, "Invalid type parameter", nil)
		return
	}
	data, err := fetch(ctx)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch destination data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// destinationFlow returns the details or the runs of a destination flow. Platform
// failures degrade to an empty answer.
func (a *API) destinationFlow(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	id := mux.Vars(r)["id"]
	rlog := logger.FromContext(ctx)
	if stringParam(r, "type", "details") == "runs" {
		runs, err := client.FlowRunsForFlow(ctx, id)
		if err != nil {
			rlog.WithError(err).Warnln("cannot fetch runs of flow", id)
			runs = aep.Object{"items": []interface{}{}}
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}
	flow, err := client.Flow(ctx, id)
	if err != nil {
		rlog.WithError(err).Warnln("cannot fetch flow", id)
		flow = aep.Object{}
	}
	writeJSON(w, http.StatusOK, flow)
}

func (a *API) ingestionFlows(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	response, err := client.AllFlows(ctx, intParam(r, "limit", 20))
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch flows", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": aep.ReshapeFlows(response, a.now())})
}

func (a *API) ingestionFlowRuns(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	response, err := client.AllFlowRuns(ctx, intParam(r, "limit", 10))
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch flow runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flowRuns": aep.ReshapeFlowRuns(response)})
}

// firstID returns the first element of the string array o[key]
func firstID(o aep.Object, key string) string {
	ids, _ := o[key].([]interface{})
	if len(ids) == 0 {
		return ""
	}
	id, _ := ids[0].(string)
	return id
}

// ingestionFlowDetails returns a flow together with its connections, their specs, the
// target dataset and the runs of the flow. Only the flow itself is required.
func (a *API) ingestionFlowDetails(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	id := mux.Vars(r)["id"]
	rlog := logger.FromContext(ctx)

	response, err := client.Flow(ctx, id)
	if err != nil && !aep.IsNotFound(err) {
		failUpstream(ctx, w, "Internal server error", err)
		return
	}
	flow := aep.FirstItem(response)
	if flow == nil {
		writeError(w, http.StatusNotFound, "Flow not found", nil)
		return
	}

	lookup := func(what string, fetch fetchFunc) aep.Object {
		response, err := fetch(ctx)
		if err != nil {
			rlog.WithError(err).Warnln("cannot fetch", what, "of flow", id)
			return nil
		}
		return response
	}
	connection := func(what, connectionID string) aep.Object {
		if connectionID == "" {
			return nil
		}
		return aep.FirstItem(lookup(what, func(ctx context.Context) (aep.Object, error) {
			return client.Connection(ctx, connectionID)
		}))
	}
	connectionSpec := func(what string, conn aep.Object) aep.Object {
		specID, _ := aep.Path(conn, "connectionSpec", "id").(string)
		if specID == "" {
			return nil
		}
		return aep.FirstItem(lookup(what, func(ctx context.Context) (aep.Object, error) {
			return client.ConnectionSpec(ctx, specID)
		}))
	}

	sourceConnection := connection("source connection", firstID(flow, "sourceConnectionIds"))
	targetConnection := connection("target connection", firstID(flow, "targetConnectionIds"))

	var dataset aep.Object
	if datasetID, _ := aep.Path(targetConnection, "params", "dataSetId").(string); datasetID != "" {
		response := lookup("dataset", func(ctx context.Context) (aep.Object, error) {
			return client.Dataset(ctx, datasetID)
		})
		if entry, ok := response[datasetID].(aep.Object); ok {
			dataset = aep.Object{"id": datasetID}
			for k, v := range entry {
				dataset[k] = v
			}
		}
	}

	flowRuns := []aep.Object{}
	if runs := lookup("runs", func(ctx context.Context) (aep.Object, error) {
		return client.FlowRunsForFlow(ctx, id)
	}); runs != nil {
		flowRuns = aep.Items(runs)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flow":                 flow,
		"sourceConnection":     sourceConnection,
		"targetConnection":     targetConnection,
		"sourceConnectionSpec": connectionSpec("source connection spec", sourceConnection),
		"targetConnectionSpec": connectionSpec("target connection spec", targetConnection),
		"dataset":              dataset,
		"flowRuns":             flowRuns,
	})
}
