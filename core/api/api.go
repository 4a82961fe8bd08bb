/*
Package api implements the HTTP surface of aepmonitor.

Every AEP route resolves the credentials of the request from the x-aep-config header. If
the header is absent, the active stored configuration is used. The handler then forwards
the request to the platform through an aep.Client, optionally reshapes the answer and
returns it as JSON.

Besides the proxy routes, the API manages stored configurations, receives events through
a webhook and keeps their lineage and the documented use cases.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/configstore"
	"github.com/relabs-tech/aepmonitor/core/events"
	"github.com/relabs-tech/aepmonitor/core/logger"
	"github.com/relabs-tech/aepmonitor/core/tokencache"
)

// Defaults are the connection settings of the deployment, exposed by GET /api/configuration
type Defaults struct {
	ClientID string
	OrgID    string
	Sandbox  string
}

// Builder is a builder helper for the API
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Configurations is the configuration store. This is mandatory.
	Configurations *configstore.Store
	// Events is the event, lineage and use case store. This is mandatory.
	Events *events.Store
	// TokenCache shares access tokens between requests. Defaults to an in-memory cache.
	TokenCache tokencache.Cache
	// HTTPClient is used for platform requests. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// BaseURL of the platform gateway. Defaults to aep.DefaultBaseURL.
	BaseURL string
	// TokenURL of the IMS token endpoint. Defaults to aep.DefaultTokenURL.
	TokenURL string
	// Defaults of the deployment
	Defaults Defaults
	// CORSAllowOrigin is sent as Access-Control-Allow-Origin. Defaults to "*".
	CORSAllowOrigin string
}

// API serves the aepmonitor routes
type API struct {
	router          *mux.Router
	configurations  *configstore.Store
	events          *events.Store
	tokenCache      tokencache.Cache
	httpClient      *http.Client
	baseURL         string
	tokenURL        string
	defaults        Defaults
	corsAllowOrigin string
	now             func() time.Time
}

// New realizes the API and adds all routes and middlewares to the router
func New(bb *Builder) *API {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Configurations == nil {
		panic("Configurations is missing")
	}
	if bb.Events == nil {
		panic("Events is missing")
	}

	a := &API{
		router:          bb.Router,
		configurations:  bb.Configurations,
		events:          bb.Events,
		tokenCache:      bb.TokenCache,
		httpClient:      bb.HTTPClient,
		baseURL:         bb.BaseURL,
		tokenURL:        bb.TokenURL,
		defaults:        bb.Defaults,
		corsAllowOrigin: bb.CORSAllowOrigin,
		now:             time.Now,
	}
	if a.tokenCache == nil {
		a.tokenCache = tokencache.NewMemory()
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if a.baseURL == "" {
		a.baseURL = aep.DefaultBaseURL
	}
	if a.tokenURL == "" {
		a.tokenURL = aep.DefaultTokenURL
	}
	if a.defaults.Sandbox == "" {
		a.defaults.Sandbox = aep.ProdSandbox
	}
	if a.corsAllowOrigin == "" {
		a.corsAllowOrigin = "*"
	}

	logger.AddRequestID(a.router)
	a.handleCORS()
	a.handleCompression()
	a.handleRoutes(a.router)
	return a
}

func (a *API) handleCORS() {
	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", a.corsAllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Aep-Config")
			w.Header().Set("Access-Control-Expose-Headers", logger.RequestIDHeader)
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method, " (handled by CORS middleware)")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
	a.router.Use(corsMiddleware)
}

func (a *API) handleCompression() {
	a.router.Use(func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	})
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("api: handle routes")
	a.handleConnectionRoutes(router)
	a.handleConfigurationRoutes(router)
	a.handleFlowServiceRoutes(router)
	a.handleCatalogRoutes(router)
	a.handleSegmentationRoutes(router)
	a.handleQueryServiceRoutes(router)
	a.handleEventRoutes(router)
}

// handle registers a route for the given methods plus OPTIONS for CORS preflights
func handle(router *mux.Router, path string, f http.HandlerFunc, methods ...string) {
	for _, m := range methods {
		logger.Default().Debugf("  handle route: %s %s", path, m)
	}
	router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL.Path, r.Method)
		f(w, r)
	}).Methods(append([]string{http.MethodOptions}, methods...)...)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, "cannot marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	res := errorResponse{Error: message}
	if err != nil {
		res.Details = err.Error()
	}
	writeJSON(w, status, res)
}

// failUpstream logs a failed platform call and answers with status 500
func failUpstream(ctx context.Context, w http.ResponseWriter, message string, err error) {
	logger.FromContext(ctx).WithError(err).Errorln(message)
	writeError(w, http.StatusInternalServerError, message, err)
}

func decodeBody(r *http.Request, value interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(value)
}

// intParam returns the integer query parameter name, or def if it is absent or invalid
func intParam(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// stringParam returns the query parameter name, or def if it is absent
func stringParam(r *http.Request, name string, def string) string {
	if s := r.URL.Query().Get(name); s != "" {
		return s
	}
	return def
}
