package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
)

func (a *API) handleCatalogRoutes(router *mux.Router) {
	handle(router, "/api/ingestion/datasets", a.datasets, http.MethodGet)
	handle(router, "/api/batches", a.batches, http.MethodGet)
	handle(router, "/api/batches/related", a.relatedBatches, http.MethodGet)
	handle(router, "/api/batches/{id}", a.batch, http.MethodGet)
}

func (a *API) datasets(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	response, err := client.Datasets(ctx, intParam(r, "limit", 20))
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch datasets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": aep.ReshapeDatasets(response, a.now())})
}

func (a *API) batches(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	response, err := client.Batches(ctx, r.URL.Query().Get("datasetId"), intParam(r, "limit", 50))
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch batches", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": aep.KeyedToList(response)})
}

func (a *API) relatedBatches(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	batchID := r.URL.Query().Get("batchId")
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "batchId parameter is required", nil)
		return
	}
	response, err := client.RelatedBatches(ctx, batchID)
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch related batches", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": aep.KeyedToList(response)})
}

func (a *API) batch(w http.ResponseWriter, r *http.Request) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	batch, err := client.Batch(ctx, mux.Vars(r)["id"])
	if aep.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Batch not found", nil)
		return
	}
	if err != nil {
		failUpstream(ctx, w, "Failed to fetch batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batch": batch})
}
