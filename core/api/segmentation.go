package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
)

func (a *API) handleSegmentationRoutes(router *mux.Router) {
	handle(router, "/api/segment-jobs", a.segmentJobs, http.MethodGet)
	handle(router, "/api/segment-jobs/{id}", a.segmentJob, http.MethodGet)
	handle(router, "/api/segmentation/segment-jobs", a.recentSegmentJobs, http.MethodGet)
	handle(router, "/api/segment-details/definitions", a.segmentDefinitions, http.MethodGet)
	handle(router, "/api/segment-details/{id}/jobs", a.segmentJobsForSegment, http.MethodGet)

	handle(router, "/api/batch-segmentation/schedules", a.batchSegmentationSchedules, http.MethodGet)
	handle(router, "/api/batch-segmentation/jobs", a.batchSegmentationJobs, http.MethodGet)
	handle(router, "/api/batch-segmentation/datasets/{id}", a.batchSegmentationDataset, http.MethodGet)
	handle(router, "/api/batch-segmentation/merge-policies/{id}", a.mergePolicy, http.MethodGet)
	handle(router, "/api/batch-segmentation/export-schedules", a.exportSchedules, http.MethodGet)
	handle(router, "/api/batch-segmentation/export-jobs", a.exportJobs, http.MethodGet)
	handle(router, "/api/batch-segmentation/export-jobs/{id}", a.exportJob, http.MethodGet)
}

// proxy answers with the platform response of fetch, or with status 500 and message
func (a *API) proxy(w http.ResponseWriter, r *http.Request, message string, fetch func(context.Context, *aep.Client) (aep.Object, error)) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	data, err := fetch(ctx, client)
	if err != nil {
		failUpstream(ctx, w, message, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// proxyOrNotFound is proxy with status 404 and notFound when the platform does not know
// the object
func (a *API) proxyOrNotFound(w http.ResponseWriter, r *http.Request, message, notFound string, fetch func(context.Context, *aep.Client) (aep.Object, error)) {
	client, ctx := a.clientFromRequest(w, r)
	if client == nil {
		return
	}
	data, err := fetch(ctx, client)
	if aep.IsNotFound(err) || (err == nil && data == nil) {
		writeError(w, http.StatusNotFound, notFound, nil)
		return
	}
	if err != nil {
		failUpstream(ctx, w, message, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) segmentJobs(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 20)
	var fetch func(context.Context, *aep.Client) (aep.Object, error)
	switch stringParam(r, "type", "jobs") {
	case "jobs":
		fetch = func(ctx context.Context, c *aep.Client) (aep.Object, error) { return c.SegmentJobs(ctx, limit) }
	case "definitions":
		fetch = func(ctx context.Context, c *aep.Client) (aep.Object, error) { return c.SegmentDefinitions(ctx, limit) }
	default:
		writeError(w, http.StatusBadRequest, "Invalid type parameter", nil)
		return
	}
	a.proxy(w, r, "Failed to fetch segment jobs data", fetch)
}

func (a *API) segmentJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var fetch func(context.Context, *aep.Client) (aep.Object, error)
	switch stringParam(r, "type", "job") {
	case "job":
		fetch = func(ctx context.Context, c *aep.Client) (aep.Object, error) { return c.SegmentJob(ctx, id) }
	case "definition":
		fetch = func(ctx context.Context, c *aep.Client) (aep.Object, error) { return c.SegmentDefinition(ctx, id) }
	default:
		writeError(w, http.StatusBadRequest, "Invalid type parameter", nil)
		return
	}
	a.proxy(w, r, "Failed to fetch segment job data", fetch)
}

func (a *API) recentSegmentJobs(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 20)
	a.proxy(w, r, "Failed to fetch segment jobs", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.SegmentJobs(ctx, limit)
	})
}

func (a *API) segmentDefinitions(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	a.proxy(w, r, "Failed to fetch segment definitions", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.SegmentDefinitions(ctx, limit)
	})
}

func (a *API) segmentJobsForSegment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := intParam(r, "limit", 20)
	a.proxy(w, r, "Failed to fetch segment jobs", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.SegmentJobsForSegment(ctx, id, limit)
	})
}

func (a *API) batchSegmentationSchedules(w http.ResponseWriter, r *http.Request) {
	a.proxy(w, r, "Failed to fetch batch segmentation schedules", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.BatchSegmentationSchedules(ctx)
	})
}

func (a *API) batchSegmentationJobs(w http.ResponseWriter, r *http.Request) {
	scheduleID := r.URL.Query().Get("scheduleId")
	if scheduleID == "" {
		writeError(w, http.StatusBadRequest, "scheduleId parameter is required", nil)
		return
	}
	limit := intParam(r, "limit", 20)
	a.proxy(w, r, "Failed to fetch segment jobs", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.SegmentJobsBySchedule(ctx, scheduleID, limit)
	})
}

func (a *API) batchSegmentationDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	properties := r.URL.Query().Get("properties")
	a.proxyOrNotFound(w, r, "Failed to fetch dataset", "Dataset not found", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.DatasetWithProperties(ctx, id, properties)
	})
}

func (a *API) mergePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a.proxyOrNotFound(w, r, "Failed to fetch merge policy", "Merge policy not found", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.MergePolicy(ctx, id)
	})
}

func (a *API) exportSchedules(w http.ResponseWriter, r *http.Request) {
	a.proxy(w, r, "Failed to fetch export schedules", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.ExportSchedules(ctx)
	})
}

// exportJobs lists export jobs of a schedule, the jobs chained to a segmentation
// schedule, or the most recent profile export jobs
func (a *API) exportJobs(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 20)
	query := r.URL.Query()
	scheduleID, predecessorID := query.Get("scheduleId"), query.Get("predecessorScheduleId")
	a.proxy(w, r, "Failed to fetch export jobs", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		switch {
		case scheduleID != "":
			return c.ExportJobsBySchedule(ctx, scheduleID, limit)
		case predecessorID != "":
			return c.ExportJobsByPredecessorSchedule(ctx, predecessorID, limit)
		}
		return c.ProfileExportJobs(ctx, limit)
	})
}

func (a *API) exportJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a.proxyOrNotFound(w, r, "Failed to fetch export job", "Export job not found", func(ctx context.Context, c *aep.Client) (aep.Object, error) {
		return c.ExportJob(ctx, id)
	})
}
