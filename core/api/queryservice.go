package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
)

func (a *API) handleQueryServiceRoutes(router *mux.Router) {
	handle(router, "/api/query-service", a.queryServiceFlows, http.MethodGet)
	handle(router, "/api/query-service/{id}", a.queryServiceFlow, http.MethodGet)
}

func (a *API) queryServiceFlows(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	limit := intParam(r, "limit", 20)
	offset := intParam(r, "offset", 0)
	response, err := client.QueryServiceFlows(ctx, limit, offset)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch Query Service data", err)
		return
	}
	total := aep.Path(response, "_page", "totalCount")
	if total == nil {
		total = 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flows": aep.Items(response),
		"pagination": map[string]interface{}{
			"limit":  limit,
			"offset": offset,
			"total":  total,
		},
	})
}

func (a *API) queryServiceFlow(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	id := mux.Vars(r)["id"]
	flow, err := client.Flow(ctx, id)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch Query Service flow data", err)
		return
	}
	runs, err := client.FlowRunsForFlowLimit(ctx, id, 10)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch Query Service flow data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"flow":     flow,
		"flowRuns": aep.Items(runs),
	})
}
