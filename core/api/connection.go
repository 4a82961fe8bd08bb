package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/logger"
)

const msgNoConfiguration = "No AEP configuration provided"

var errNoConfiguration = errors.New("no AEP configuration provided")

// configFromRequest returns the credentials of the request: the x-aep-config header if
// present, the active stored configuration otherwise
func (a *API) configFromRequest(r *http.Request) (aep.Config, error) {
	if value := r.Header.Get(aep.ConfigHeader); value != "" {
		config, err := aep.DecodeConfigHeader(value)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("cannot extract configuration from request")
			return config, errNoConfiguration
		}
		return config, nil
	}
	active, err := a.configurations.Active(r.Context())
	if err != nil {
		return aep.Config{}, err
	}
	if active == nil {
		return aep.Config{}, errNoConfiguration
	}
	return active.AEPConfig(), nil
}

func (a *API) newClient(config aep.Config, opts ...aep.Option) (*aep.Client, error) {
	opts = append([]aep.Option{
		aep.WithBaseURL(a.baseURL),
		aep.WithTokenURL(a.tokenURL),
		aep.WithHTTPClient(a.httpClient),
		aep.WithTokenCache(a.tokenCache),
	}, opts...)
	return aep.New(config, opts...)
}

// clientFromRequest resolves the credentials of the request and returns a client for
// them, together with a context whose logger names org and sandbox. On failure it has
// already answered the request and returns nil.
func (a *API) clientFromRequest(w http.ResponseWriter, r *http.Request) (*aep.Client, context.Context) {
	config, err := a.configFromRequest(r)
	if errors.Is(err, errNoConfiguration) {
		writeError(w, http.StatusBadRequest, msgNoConfiguration, nil)
		return nil, nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Cannot read active configuration", err)
		return nil, nil
	}
	return a.clientForConfig(w, r, config)
}

// tokenConfig returns the default identity authenticated by a user supplied access token
func (a *API) tokenConfig(accessToken string) aep.Config {
	return aep.Config{
		ClientID:  a.defaults.ClientID,
		OrgID:     a.defaults.OrgID,
		Sandbox:   a.defaults.Sandbox,
		AuthToken: accessToken,
	}
}

func (a *API) clientForConfig(w http.ResponseWriter, r *http.Request, config aep.Config) (*aep.Client, context.Context) {
	client, err := a.newClient(config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid AEP configuration", err)
		return nil, nil
	}
	ctx, rlog := logger.ContextWithConnection(r.Context(), config.OrgID, config.Sandbox)
	rlog.Debugln("using", config.AuthMethod())
	return client, ctx
}

func (a *API) handleConnectionRoutes(router *mux.Router) {
	handle(router, "/api/health-check", a.healthCheck, http.MethodGet)
	handle(router, "/api/test-connection", a.testConnection, http.MethodPost)
	handle(router, "/api/generate-token", a.generateToken, http.MethodPost)
	handle(router, "/api/oauth/aep-token", a.validateToken, http.MethodPost)
	handle(router, "/api/configuration", a.getDefaults, http.MethodGet)
	handle(router, "/api/configuration", a.checkConfiguration, http.MethodPost)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	config, err := a.configFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "unhealthy", "error": msgNoConfiguration})
		return
	}
	client, err := a.newClient(config)
	if err == nil {
		ctx, _ := logger.ContextWithConnection(r.Context(), config.OrgID, config.Sandbox)
		_, err = client.Schedules(ctx, 20)
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "Failed to connect to AEP"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "timestamp": a.now().UTC().Format(aep.TimeLayout)})
}

func (a *API) testConnection(w http.ResponseWriter, r *http.Request) {
	var config aep.Config
	if err := decodeBody(r, &config); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !config.HasPreGeneratedToken() && (config.ClientID == "" || config.ClientSecret == "") {
		writeError(w, http.StatusBadRequest, "Either provide an auth token or both client ID and secret", nil)
		return
	}
	client, err := a.newClient(config, aep.WithScope(aep.PlatformScope))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid AEP configuration", err)
		return
	}
	ctx, rlog := logger.ContextWithConnection(r.Context(), config.OrgID, config.Sandbox)
	rlog.Infoln("testing connection with", config.AuthMethod())

	err = client.TestConnection(ctx)
	switch {
	case aep.IsTokenError(err):
		rlog.WithError(err).Errorln("IMS token request failed")
		writeError(w, http.StatusUnauthorized, "Failed to authenticate with Adobe IMS", err)
	case err != nil:
		rlog.WithError(err).Errorln("AEP API test failed")
		writeError(w, http.StatusForbidden, "Failed to connect to Adobe Experience Platform APIs", err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Successfully connected to Adobe Experience Platform",
			"orgId":   config.OrgID,
			"sandbox": config.Sandbox,
		})
	}
}

func (a *API) generateToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
	}
	if err := decodeBody(r, &body); err != nil || body.ClientID == "" || body.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "Client ID and Client Secret are required", nil)
		return
	}
	ims := aep.IMS{URL: a.tokenURL, HTTPClient: a.httpClient}
	token, err := ims.GenerateToken(r.Context(), body.ClientID, body.ClientSecret)
	if err != nil {
		var aepErr *aep.Error
		if errors.As(err, &aepErr) {
			writeJSON(w, aepErr.StatusCode, errorResponse{
				Error:   "Failed to generate token: " + aepErr.Status,
				Details: aepErr.Body,
			})
			return
		}
		failUpstream(r.Context(), w, "Token generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (a *API) validateToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := decodeBody(r, &body); err != nil || body.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "Access token is required", nil)
		return
	}
	client, err := a.newClient(a.tokenConfig(body.AccessToken))
	if err == nil {
		err = client.ValidateToken(r.Context())
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Infoln("access token rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error":  "Invalid or expired access token",
			"status": aep.StatusCode(err),
		})
		return
	}

	expiresIn := int64(3600)
	if expiry, ok := aep.TokenExpiry(body.AccessToken); ok {
		if remaining := expiry.Sub(a.now()); remaining > 0 {
			expiresIn = int64(remaining / time.Second)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Access token is valid",
		"expires_in": expiresIn,
		"scopes":     []string{"read_pc", "read_ups"},
	})
}

func (a *API) getDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"clientId": a.defaults.ClientID,
		"orgId":    a.defaults.OrgID,
		"sandbox":  a.defaults.Sandbox,
	})
}

func (a *API) checkConfiguration(w http.ResponseWriter, r *http.Request) {
	var config aep.Config
	if err := decodeBody(r, &config); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save configuration", err)
		return
	}
	if config.ClientID == "" || config.OrgID == "" || config.Sandbox == "" {
		writeError(w, http.StatusBadRequest, "Missing required configuration fields", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Configuration saved"})
}
