package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/events"
	"github.com/relabs-tech/aepmonitor/core/logger"
)

func (a *API) handleEventRoutes(router *mux.Router) {
	handle(router, "/api/events", a.ingestEvent, http.MethodPost)
	handle(router, "/api/events", a.listEvents, http.MethodGet)
	handle(router, "/api/events/stats", a.eventStats, http.MethodGet)
	handle(router, "/api/events/{id}", a.getEvent, http.MethodGet)
	handle(router, "/api/events/{id}/enrich", a.enrichEvent, http.MethodPost)

	handle(router, "/api/lineage", a.listLineage, http.MethodGet)
	handle(router, "/api/lineage", a.assignLineage, http.MethodPost)
	handle(router, "/api/lineage/{id}", a.deleteLineage, http.MethodDelete)

	handle(router, "/api/use-cases", a.listUseCases, http.MethodGet)
	handle(router, "/api/use-cases", a.createUseCase, http.MethodPost)
}

func (a *API) writeEventsError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var validationErr *events.ValidationError
	switch {
	case errors.Is(err, events.ErrNotFound):
		writeError(w, http.StatusNotFound, "Event not found", nil)
	case errors.Is(err, events.ErrConflict):
		writeError(w, http.StatusConflict, "Event already exists", nil)
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "Invalid payload", validationErr.Err)
	default:
		logger.FromContext(r.Context()).WithError(err).Errorln(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var webhook events.Webhook
	if err := decodeBody(r, &webhook); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	event, err := a.events.Ingest(r.Context(), webhook)
	if err != nil {
		a.writeEventsError(w, r, "Failed to store event", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "event": event})
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := events.Filter{
		EventType:    query.Get("event_type"),
		SourceSystem: query.Get("source_system"),
		Significance: events.Significance(query.Get("significance")),
	}
	if s := query.Get("lineage_assigned"); s != "" {
		assigned, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid lineage_assigned parameter", err)
			return
		}
		filter.LineageAssigned = &assigned
	}
	list, err := a.events.List(r.Context(), filter)
	if err != nil {
		a.writeEventsError(w, r, "Failed to fetch events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

func (a *API) eventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.events.Stats(r.Context())
	if err != nil {
		a.writeEventsError(w, r, "Failed to fetch event stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := a.events.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeEventsError(w, r, "Failed to fetch event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"event": event})
}

func (a *API) enrichEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.events.Get(r.Context(), id); err != nil {
		a.writeEventsError(w, r, "Failed to fetch event", err)
		return
	}
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	// the body is optional
	decodeBody(r, &body)
	var client *aep.Client
	var ctx context.Context
	if body.AccessToken != "" {
		client, ctx = a.clientForConfig(w, r, a.tokenConfig(body.AccessToken))
	} else {
		client, ctx = a.clientFromRequest(w, r)
	}
	if client == nil {
		return
	}
	event, enriched, err := a.events.Enrich(ctx, id, client)
	if err != nil {
		a.writeEventsError(w, r, "Failed to enrich event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"event":         event,
		"enriched_data": enriched,
	})
}

func (a *API) listLineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := a.events.Lineage(r.Context(), r.URL.Query().Get("event_id"))
	if err != nil {
		a.writeEventsError(w, r, "Failed to fetch lineage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assignments": lineage})
}

func (a *API) assignLineage(w http.ResponseWriter, r *http.Request) {
	var assignment events.Assignment
	if err := decodeBody(r, &assignment); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	saved, err := a.events.AssignLineage(r.Context(), assignment)
	if err != nil {
		a.writeEventsError(w, r, "Failed to assign lineage", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "assignment": saved})
}

func (a *API) deleteLineage(w http.ResponseWriter, r *http.Request) {
	err := a.events.DeleteLineage(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, events.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Lineage not found", nil)
		return
	}
	if err != nil {
		a.writeEventsError(w, r, "Failed to delete lineage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listUseCases(w http.ResponseWriter, r *http.Request) {
	useCases, err := a.events.UseCases(r.Context())
	if err != nil {
		a.writeEventsError(w, r, "Failed to fetch use cases", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"useCases": useCases})
}

func (a *API) createUseCase(w http.ResponseWriter, r *http.Request) {
	var useCase events.UseCase
	if err := decodeBody(r, &useCase); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	saved, err := a.events.CreateUseCase(r.Context(), useCase)
	if err != nil {
		a.writeEventsError(w, r, "Failed to create use case", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"useCase": saved})
}
