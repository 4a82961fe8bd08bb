package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/configstore"
	"github.com/relabs-tech/aepmonitor/core/logger"
)

func (a *API) handleConfigurationRoutes(router *mux.Router) {
	handle(router, "/api/configurations", a.listConfigurations, http.MethodGet)
	handle(router, "/api/configurations", a.createConfiguration, http.MethodPost)
	handle(router, "/api/configurations/active", a.activeConfiguration, http.MethodGet)
	handle(router, "/api/configurations/{id}", a.getConfiguration, http.MethodGet)
	handle(router, "/api/configurations/{id}", a.updateConfiguration, http.MethodPut)
	handle(router, "/api/configurations/{id}", a.deleteConfiguration, http.MethodDelete)
	handle(router, "/api/configurations/{id}/activate", a.activateConfiguration, http.MethodPost)
}

func (a *API) writeConfigurationError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *configstore.ValidationError
	switch {
	case errors.Is(err, configstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "Configuration not found", nil)
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "Invalid configuration", validationErr.Err)
	default:
		logger.FromContext(r.Context()).WithError(err).Errorln("configuration store failed")
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}

func (a *API) listConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := a.configurations.List(r.Context())
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	redacted := make([]configstore.Configuration, 0, len(configs))
	for _, c := range configs {
		redacted = append(redacted, c.Redacted())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"configurations": redacted})
}

func (a *API) createConfiguration(w http.ResponseWriter, r *http.Request) {
	var c configstore.Configuration
	if err := decodeBody(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c.ID = ""
	saved, err := a.configurations.Save(r.Context(), c)
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved.Redacted())
}

func (a *API) activeConfiguration(w http.ResponseWriter, r *http.Request) {
	active, err := a.configurations.Active(r.Context())
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	if active == nil {
		writeError(w, http.StatusNotFound, "No active configuration", nil)
		return
	}
	writeJSON(w, http.StatusOK, active.Redacted())
}

func (a *API) getConfiguration(w http.ResponseWriter, r *http.Request) {
	c, err := a.configurations.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Redacted())
}

// updateConfiguration replaces a configuration. Secrets sent back in their redacted
// form keep their stored value.
func (a *API) updateConfiguration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := a.configurations.Get(r.Context(), id)
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	var c configstore.Configuration
	if err := decodeBody(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c.ID = id
	var ok bool
	if c.ClientSecret, ok = unredact(c.ClientSecret, existing.ClientSecret); !ok {
		writeError(w, http.StatusBadRequest, "No stored client secret to keep", nil)
		return
	}
	if c.AuthToken, ok = unredact(c.AuthToken, existing.AuthToken); !ok {
		writeError(w, http.StatusBadRequest, "No stored auth token to keep", nil)
		return
	}
	saved, err := a.configurations.Save(r.Context(), c)
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved.Redacted())
}

// unredact returns the stored secret if sent is the redaction marker. It fails if there
// is no stored secret the marker could stand for.
func unredact(sent, stored string) (string, bool) {
	if sent != configstore.RedactedMarker {
		return sent, true
	}
	return stored, stored != ""
}

func (a *API) deleteConfiguration(w http.ResponseWriter, r *http.Request) {
	if err := a.configurations.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) activateConfiguration(w http.ResponseWriter, r *http.Request) {
	c, err := a.configurations.SetActive(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeConfigurationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Redacted())
}
