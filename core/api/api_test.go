package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/aepmonitor/core"
	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/client"
	"github.com/relabs-tech/aepmonitor/core/configstore"
	"github.com/relabs-tech/aepmonitor/core/events"
	"github.com/relabs-tech/aepmonitor/core/registry"
	"github.com/relabs-tech/aepmonitor/core/schema"
)

// platform fakes IMS and the platform gateway. Responses are selected by URL path.
type platform struct {
	*httptest.Server
	mu          sync.Mutex
	tokenStatus int
	responses   map[string]interface{}
	status      map[string]int
	lastHeaders http.Header
	lastURI     string
}

func newPlatform(t *testing.T) *platform {
	p := &platform{
		tokenStatus: http.StatusOK,
		responses:   map[string]interface{}{},
		status:      map[string]int{},
	}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if r.URL.Path == "/ims/token/v3" {
			if p.tokenStatus != http.StatusOK {
				w.WriteHeader(p.tokenStatus)
				w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			json.NewEncoder(w).Encode(aep.TokenResponse{AccessToken: "token", TokenType: "bearer", ExpiresIn: 86399})
			return
		}
		p.lastHeaders = r.Header.Clone()
		p.lastURI = r.URL.RequestURI()
		if status, ok := p.status[r.URL.Path]; ok {
			w.WriteHeader(status)
			w.Write([]byte(`{"title":"failed"}`))
			return
		}
		body, ok := p.responses[r.URL.Path]
		if !ok {
			body = map[string]interface{}{}
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *platform) respond(path string, body interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[path] = body
}

func (p *platform) fail(path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status[path] = status
}

func (p *platform) header(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeaders.Get(key)
}

var testConfig = aep.Config{
	ClientID:     "client",
	ClientSecret: "secret",
	OrgID:        "org@AdobeOrg",
	Sandbox:      "dev",
}

type fixture struct {
	api      *API
	router   *mux.Router
	platform *platform
	// plain sends no x-aep-config header
	plain client.Client
	// configured sends testConfig in the x-aep-config header
	configured client.Client
}

func newFixture(t *testing.T) *fixture {
	p := newPlatform(t)
	router := mux.NewRouter()
	validator := schema.MustDefault()
	reg := registry.NewMemory()
	a := New(&Builder{
		Router:         router,
		Configurations: configstore.New(reg, validator),
		Events:         events.New(reg, validator, core.NopNotifier{}),
		BaseURL:        p.URL,
		TokenURL:       p.URL + "/ims/token/v3",
		Defaults:       Defaults{ClientID: "default-client", OrgID: "default@AdobeOrg"},
	})
	a.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	plain := client.NewWithRouter(router)
	configured, err := plain.WithConfig(testConfig)
	require.NoError(t, err)
	return &fixture{api: a, router: router, platform: p, plain: plain, configured: configured}
}

func TestBuilderPanicsWithoutMandatoryFields(t *testing.T) {
	assert.Panics(t, func() { New(&Builder{}) })
	assert.Panics(t, func() { New(&Builder{Router: mux.NewRouter()}) })
}

func TestMissingConfiguration(t *testing.T) {
	f := newFixture(t)

	var result map[string]interface{}
	status, err := f.plain.RawGet("/api/sources", &result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, err.Error(), "No AEP configuration provided")

	status, _ = f.plain.WithHeader(aep.ConfigHeader, "%%%").RawGet("/api/sources", nil)
	assert.Equal(t, http.StatusBadRequest, status, "an undecodable header counts as missing")
}

func TestActiveConfigurationFallback(t *testing.T) {
	f := newFixture(t)

	var created configstore.Configuration
	status, err := f.plain.RawCreate("/api/configurations", configstore.Configuration{
		Name:         "stored",
		ClientID:     "stored-client",
		ClientSecret: "stored-secret",
		OrgID:        "stored@AdobeOrg",
		Sandbox:      "stage",
		IsActive:     true,
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "********", created.ClientSecret)

	_, err = f.plain.RawGet("/api/sources?type=flows", nil)
	require.NoError(t, err)
	assert.Equal(t, "stored@AdobeOrg", f.platform.header("x-gw-ims-org-id"))
	assert.Equal(t, "stage", f.platform.header("x-sandbox-name"))

	_, err = f.configured.RawGet("/api/sources?type=flows", nil)
	require.NoError(t, err)
	assert.Equal(t, "org@AdobeOrg", f.platform.header("x-gw-ims-org-id"), "the header wins over the stored configuration")
}

func TestConfigurationRoutes(t *testing.T) {
	f := newFixture(t)
	c := f.plain

	status, _ := c.RawGet("/api/configurations/active", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = c.RawCreate("/api/configurations", map[string]string{"name": "no credentials", "orgId": "o", "sandbox": "s"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var first, second configstore.Configuration
	_, err := c.RawCreate("/api/configurations", map[string]interface{}{
		"name": "first", "clientId": "c1", "clientSecret": "s1", "orgId": "o", "sandbox": "dev", "isActive": true,
	}, &first)
	require.NoError(t, err)
	_, err = c.RawCreate("/api/configurations", map[string]interface{}{
		"name": "second", "authToken": "t2", "orgId": "o", "sandbox": "dev",
	}, &second)
	require.NoError(t, err)

	var list struct {
		Configurations []configstore.Configuration `json:"configurations"`
	}
	_, err = c.RawGet("/api/configurations", &list)
	require.NoError(t, err)
	require.Len(t, list.Configurations, 2)
	for _, config := range list.Configurations {
		assert.NotEqual(t, "s1", config.ClientSecret)
		assert.NotEqual(t, "t2", config.AuthToken)
	}

	var activated configstore.Configuration
	_, err = c.RawPost("/api/configurations/"+second.ID+"/activate", nil, &activated)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	var active configstore.Configuration
	_, err = c.RawGet("/api/configurations/active", &active)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	// sending back the redacted secret keeps the stored one
	first.Name = "renamed"
	_, err = c.RawPut("/api/configurations/"+first.ID, first, nil)
	require.NoError(t, err)
	stored, err := f.api.configurations.Get(c.Context(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
	assert.Equal(t, "s1", stored.ClientSecret)

	// the marker cannot stand for a token that was never stored
	first.AuthToken = configstore.RedactedMarker
	status, _ = c.RawPut("/api/configurations/"+first.ID, first, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	stored, err = f.api.configurations.Get(c.Context(), first.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AuthToken)

	_, err = c.RawDelete("/api/configurations/" + first.ID)
	require.NoError(t, err)
	status, _ = c.RawGet("/api/configurations/"+first.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDefaultsAndConfigurationCheck(t *testing.T) {
	f := newFixture(t)

	var defaults map[string]string
	_, err := f.plain.RawGet("/api/configuration", &defaults)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"clientId": "default-client", "orgId": "default@AdobeOrg", "sandbox": "prod"}, defaults)

	status, _ := f.plain.RawPost("/api/configuration", map[string]string{"clientId": "c"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	_, err = f.plain.RawPost("/api/configuration", map[string]string{"clientId": "c", "orgId": "o", "sandbox": "s"}, nil)
	assert.NoError(t, err)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	var result map[string]string
	_, err := f.configured.RawGet("/api/health-check", &result)
	require.NoError(t, err)
	assert.Equal(t, "healthy", result["status"])
	assert.Equal(t, "2024-03-01T10:00:00.000Z", result["timestamp"])

	f.platform.fail("/data/core/ups/config/schedules", http.StatusInternalServerError)
	status, _ := f.configured.RawGet("/api/health-check", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = f.plain.RawGet("/api/health-check", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t)

	status, _ := f.plain.RawPost("/api/test-connection", aep.Config{OrgID: "o"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var result map[string]interface{}
	_, err := f.plain.RawPost("/api/test-connection", testConfig, &result)
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "dev", result["sandbox"])

	f.platform.fail("/data/foundation/catalog/datasets/", http.StatusForbidden)
	status, _ = f.plain.RawPost("/api/test-connection", testConfig, nil)
	assert.Equal(t, http.StatusForbidden, status)

	f.platform.mu.Lock()
	f.platform.tokenStatus = http.StatusBadRequest
	f.platform.mu.Unlock()
	config := testConfig
	config.ClientID = "other-client"
	status, _ = f.plain.RawPost("/api/test-connection", config, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGenerateToken(t *testing.T) {
	f := newFixture(t)

	status, _ := f.plain.RawPost("/api/generate-token", map[string]string{"clientId": "c"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var token aep.TokenResponse
	_, err := f.plain.RawPost("/api/generate-token", map[string]string{"clientId": "c", "clientSecret": "s"}, &token)
	require.NoError(t, err)
	assert.Equal(t, "token", token.AccessToken)

	f.platform.mu.Lock()
	f.platform.tokenStatus = http.StatusUnauthorized
	f.platform.mu.Unlock()
	var raw []byte
	status, err = f.plain.RawPost("/api/generate-token", map[string]string{"clientId": "c", "clientSecret": "s"}, &raw)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status, "the IMS status is propagated")
	assert.Contains(t, err.Error(), "invalid_client")
}

func TestValidateAccessToken(t *testing.T) {
	f := newFixture(t)

	var result map[string]interface{}
	_, err := f.plain.RawPost("/api/oauth/aep-token", map[string]string{"accessToken": "opaque"}, &result)
	require.NoError(t, err)
	assert.EqualValues(t, 3600, result["expires_in"])
	assert.Equal(t, "Bearer opaque", f.platform.header("Authorization"))
	assert.Equal(t, "default-client", f.platform.header("x-api-key"))

	f.platform.fail("/data/core/ups/config/computedAttributes", http.StatusUnauthorized)
	status, _ := f.plain.RawPost("/api/oauth/aep-token", map[string]string{"accessToken": "expired"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTypeParameters(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/sources?type=bogus",
		"/api/sources/x?type=bogus",
		"/api/destinations?type=bogus",
		"/api/destinations/x?type=bogus",
		"/api/segment-jobs?type=bogus",
		"/api/segment-jobs/x?type=bogus",
	} {
		status, _ := f.configured.RawGet(path, nil)
		assert.Equal(t, http.StatusBadRequest, status, path)
	}

	f.platform.respond("/data/foundation/flowservice/runs/run-1", map[string]interface{}{"items": []interface{}{map[string]interface{}{"id": "run-1"}}})
	var run map[string]interface{}
	_, err := f.configured.RawGet("/api/destinations/run-1?type=flow-run", &run)
	require.NoError(t, err)
	assert.Equal(t, "/data/foundation/flowservice/runs/run-1", f.platform.lastURI)
	assert.Len(t, run["items"], 1)
}

func TestDestinationFlowDegrades(t *testing.T) {
	f := newFixture(t)
	f.platform.fail("/data/foundation/flowservice/flows/f1", http.StatusInternalServerError)
	f.platform.fail("/data/foundation/flowservice/runs", http.StatusInternalServerError)

	var raw []byte
	_, err := f.configured.RawGet("/api/destinations/flows/f1", &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	_, err = f.configured.RawGet("/api/destinations/flows/f1?type=runs", &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(raw))
}

func TestIngestionRoutes(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/foundation/catalog/datasets/", map[string]interface{}{
		"ds1": map[string]interface{}{"name": "Orders", "created": 1700000000000},
	})
	f.platform.respond("/data/foundation/flowservice/flows", map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"id": "f1", "name": "Flow", "createdAt": 1700000000000}},
	})
	f.platform.respond("/data/foundation/flowservice/runs", map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"id": "r1", "flowId": "f1"}},
	})

	var datasets struct {
		Datasets []map[string]interface{} `json:"datasets"`
	}
	_, err := f.configured.RawGet("/api/ingestion/datasets?limit=5", &datasets)
	require.NoError(t, err)
	require.Len(t, datasets.Datasets, 1)
	assert.Equal(t, "ds1", datasets.Datasets[0]["id"])
	assert.Equal(t, "No description available", datasets.Datasets[0]["description"])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", datasets.Datasets[0]["created"])
	assert.Equal(t, "2024-03-01T10:00:00.000Z", datasets.Datasets[0]["modified"])

	var flows struct {
		Flows []map[string]interface{} `json:"flows"`
	}
	_, err = f.configured.RawGet("/api/ingestion/flows", &flows)
	require.NoError(t, err)
	require.Len(t, flows.Flows, 1)
	assert.Equal(t, "f1", flows.Flows[0]["id"])

	var runs struct {
		FlowRuns []map[string]interface{} `json:"flowRuns"`
	}
	_, err = f.configured.RawGet("/api/ingestion/flow-runs", &runs)
	require.NoError(t, err)
	require.Len(t, runs.FlowRuns, 1)
	assert.Contains(t, f.platform.lastURI, "limit=10")
}

func TestIngestionFlowDetails(t *testing.T) {
	f := newFixture(t)
	item := func(o map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"items": []interface{}{o}}
	}
	f.platform.respond("/data/foundation/flowservice/flows/f1", item(map[string]interface{}{
		"id":                  "f1",
		"sourceConnectionIds": []string{"src"},
		"targetConnectionIds": []string{"dst"},
	}))
	f.platform.respond("/data/foundation/flowservice/connections/src", item(map[string]interface{}{
		"id": "src", "connectionSpec": map[string]string{"id": "spec-src"},
	}))
	f.platform.respond("/data/foundation/flowservice/connections/dst", item(map[string]interface{}{
		"id": "dst", "params": map[string]string{"dataSetId": "ds1"},
	}))
	f.platform.respond("/data/foundation/flowservice/connectionSpecs/spec-src", item(map[string]interface{}{"name": "HTTP API"}))
	f.platform.respond("/data/foundation/catalog/datasets/ds1", map[string]interface{}{
		"ds1": map[string]interface{}{"name": "Orders"},
	})
	f.platform.fail("/data/foundation/flowservice/runs", http.StatusInternalServerError)

	var details map[string]interface{}
	_, err := f.configured.RawGet("/api/ingestion/flows/f1", &details)
	require.NoError(t, err)
	assert.Equal(t, "f1", details["flow"].(map[string]interface{})["id"])
	assert.Equal(t, "src", details["sourceConnection"].(map[string]interface{})["id"])
	assert.Equal(t, "HTTP API", details["sourceConnectionSpec"].(map[string]interface{})["name"])
	assert.Nil(t, details["targetConnectionSpec"])
	assert.Equal(t, map[string]interface{}{"id": "ds1", "name": "Orders"}, details["dataset"])
	assert.Equal(t, []interface{}{}, details["flowRuns"], "failed secondary lookups degrade")

	f.platform.fail("/data/foundation/flowservice/flows/missing", http.StatusNotFound)
	status, _ := f.configured.RawGet("/api/ingestion/flows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.configured.RawGet("/api/ingestion/flows/empty", nil)
	assert.Equal(t, http.StatusNotFound, status, "a response without items means the flow is unknown")
}

func TestDestinationFlowsBySpec(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/foundation/flowservice/connections", map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"id": "c1"}},
	})
	f.platform.respond("/data/foundation/flowservice/flows", map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"id": "f1"}, map[string]interface{}{"id": "f2"}},
	})

	var result map[string]interface{}
	_, err := f.configured.RawGet("/api/destinations?type=flows&connectionSpecId=spec&limit=1", &result)
	require.NoError(t, err)
	assert.Len(t, result["items"], 1)
}

func TestBatchRoutes(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/foundation/catalog/batches", map[string]interface{}{
		"b1": map[string]interface{}{"status": "success", "created": 2},
		"b2": map[string]interface{}{"status": "failed", "created": 1},
	})
	f.platform.respond("/data/foundation/catalog/batches/b1", map[string]interface{}{
		"b1": map[string]interface{}{"status": "success"},
	})

	var batches struct {
		Batches []map[string]interface{} `json:"batches"`
	}
	_, err := f.configured.RawGet("/api/batches?datasetId=ds1", &batches)
	require.NoError(t, err)
	require.Len(t, batches.Batches, 2)
	assert.Equal(t, "b1", batches.Batches[0]["id"])
	assert.Contains(t, f.platform.lastURI, "relatedObjects.id==ds1")
	assert.Contains(t, f.platform.lastURI, "limit=50")

	status, _ := f.configured.RawGet("/api/batches/related", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	_, err = f.plain.RawGet("/api/batches/related", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No AEP configuration provided", "credentials are checked first")
	_, err = f.configured.RawGet("/api/batches/related?batchId=b1", &batches)
	require.NoError(t, err)
	assert.Contains(t, f.platform.lastURI, "batch=b1")

	var batch map[string]interface{}
	_, err = f.configured.RawGet("/api/batches/b1", &batch)
	require.NoError(t, err)
	assert.Contains(t, batch["batch"], "b1")

	f.platform.fail("/data/foundation/catalog/batches/missing", http.StatusNotFound)
	status, _ = f.configured.RawGet("/api/batches/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	f.platform.fail("/data/foundation/catalog/batches/broken", http.StatusBadGateway)
	status, _ = f.configured.RawGet("/api/batches/broken", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestSegmentationRoutes(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/core/ups/config/schedules", map[string]interface{}{
		"children": []interface{}{
			map[string]interface{}{"id": "s1", "type": "batch_segmentation", "state": "active"},
			map[string]interface{}{"id": "s2", "type": "export", "state": "active"},
		},
	})

	var schedules map[string]interface{}
	_, err := f.configured.RawGet("/api/batch-segmentation/schedules", &schedules)
	require.NoError(t, err)
	assert.Len(t, schedules["children"], 1)

	status, _ := f.configured.RawGet("/api/batch-segmentation/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	_, err = f.configured.RawGet("/api/batch-segmentation/jobs?scheduleId=s1", nil)
	require.NoError(t, err)
	assert.Contains(t, f.platform.lastURI, "properties.scheduleId=='s1'")

	_, err = f.configured.RawGet("/api/segment-details/definitions", nil)
	require.NoError(t, err)
	assert.Contains(t, f.platform.lastURI, "limit=50")

	_, err = f.configured.RawGet("/api/segment-details/seg1/jobs", nil)
	require.NoError(t, err)
	assert.Contains(t, f.platform.lastURI, "segments=='seg1'")

	_, err = f.configured.RawGet("/api/segment-jobs/j1?type=definition", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.platform.lastURI, "/segment/definitions/j1"), f.platform.lastURI)

	_, err = f.configured.RawGet("/api/batch-segmentation/datasets/ds1", nil)
	require.NoError(t, err)
	assert.Contains(t, f.platform.lastURI, "properties="+aep.DefaultDatasetProperties)

	f.platform.fail("/data/core/ups/config/mergePolicies/mp", http.StatusNotFound)
	status, _ = f.configured.RawGet("/api/batch-segmentation/merge-policies/mp", nil)
	assert.Equal(t, http.StatusNotFound, status)

	f.platform.fail("/data/core/ups/export/jobs/e1", http.StatusNotFound)
	status, _ = f.configured.RawGet("/api/batch-segmentation/export-jobs/e1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestExportJobs(t *testing.T) {
	f := newFixture(t)
	job := func(id, runID string) map[string]interface{} {
		return map[string]interface{}{
			"id":         id,
			"schema":     map[string]interface{}{"name": aep.ProfileSchemaName},
			"properties": map[string]interface{}{"runId": runID},
		}
	}
	f.platform.respond("/data/core/ups/export/jobs/", map[string]interface{}{
		"children": []interface{}{
			job("e1", "SegmentationExportChaining_sched1_1700000000"),
			job("e2", "plain"),
		},
	})

	var result struct {
		Children []map[string]interface{} `json:"children"`
	}
	_, err := f.configured.RawGet("/api/batch-segmentation/export-jobs", &result)
	require.NoError(t, err)
	require.Len(t, result.Children, 2)
	assert.Equal(t, "sched1", result.Children[0]["properties"].(map[string]interface{})["predecessorScheduleId"])
	assert.Nil(t, result.Children[1]["properties"].(map[string]interface{})["predecessorScheduleId"])

	_, err = f.configured.RawGet("/api/batch-segmentation/export-jobs?predecessorScheduleId=sched1&limit=5", &result)
	require.NoError(t, err)
	require.Len(t, result.Children, 1)
	assert.Equal(t, "e1", result.Children[0]["id"])
	assert.Contains(t, f.platform.lastURI, "limit=10")

	_, err = f.configured.RawGet("/api/batch-segmentation/export-jobs?scheduleId=x", nil)
	require.NoError(t, err)
	assert.Contains(t, f.platform.lastURI, "properties.scheduleId==x")
}

func TestQueryService(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/foundation/flowservice/flows", map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"id": "q1"}},
		"_page": map[string]interface{}{"totalCount": 7},
	})
	f.platform.respond("/data/foundation/flowservice/runs", map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"id": "r1"}},
	})

	var list struct {
		Flows      []map[string]interface{} `json:"flows"`
		Pagination map[string]int           `json:"pagination"`
	}
	_, err := f.configured.RawGet("/api/query-service?limit=5&offset=10", &list)
	require.NoError(t, err)
	assert.Len(t, list.Flows, 1)
	assert.Equal(t, map[string]int{"limit": 5, "offset": 10, "total": 7}, list.Pagination)
	assert.Contains(t, f.platform.lastURI, "start=10")

	var flow map[string]interface{}
	_, err = f.configured.RawGet("/api/query-service/q1", &flow)
	require.NoError(t, err)
	assert.Len(t, flow["flowRuns"], 1)
	assert.Contains(t, f.platform.lastURI, "limit=10")
}

func TestEventRoutes(t *testing.T) {
	f := newFixture(t)
	c := f.plain
	webhook := map[string]interface{}{
		"event_id":      "evt-1",
		"event_type":    aep.EventProfileUpdated,
		"source_system": "aep",
		"data":          map[string]interface{}{"profileId": "ecid-1"},
	}

	var created struct {
		Event events.Event `json:"event"`
	}
	_, err := c.RawCreate("/api/events", webhook, &created)
	require.NoError(t, err)
	assert.Equal(t, events.SignificanceHigh, created.Event.Significance)
	id := created.Event.ID

	status, _ := c.RawCreate("/api/events", webhook, nil)
	assert.Equal(t, http.StatusConflict, status)
	status, _ = c.RawCreate("/api/events", map[string]interface{}{"event_id": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var list struct {
		Events []events.Event `json:"events"`
	}
	_, err = c.RawGet("/api/events?significance=high&lineage_assigned=false", &list)
	require.NoError(t, err)
	assert.Len(t, list.Events, 1)
	status, _ = c.RawGet("/api/events?lineage_assigned=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var stats events.Stats
	_, err = c.RawGet("/api/events/stats", &stats)
	require.NoError(t, err)
	assert.Equal(t, events.Stats{Total: 1, HighSignificance: 1, Sources: 1}, stats)

	status, _ = c.RawGet("/api/events/unknown", nil)
	assert.Equal(t, http.StatusNotFound, status)

	var lineage struct {
		Success    bool              `json:"success"`
		Assignment events.Assignment `json:"assignment"`
	}
	_, err = c.RawCreate("/api/lineage", events.Assignment{
		EventID:             id,
		UpstreamSystem:      "crm",
		DownstreamSystem:    "aep",
		DataFlowDescription: "nightly import",
	}, &lineage)
	require.NoError(t, err)
	assert.True(t, lineage.Success)
	assert.Equal(t, id, lineage.Assignment.EventID)

	var event struct {
		Event events.Event `json:"event"`
	}
	_, err = c.RawGet("/api/events/"+id, &event)
	require.NoError(t, err)
	assert.True(t, event.Event.LineageAssigned)
	assert.Equal(t, "nightly import", event.Event.LineageNotes)

	var assignments struct {
		Assignments []events.Assignment `json:"assignments"`
	}
	_, err = c.RawGet("/api/lineage?event_id="+id, &assignments)
	require.NoError(t, err)
	assert.Len(t, assignments.Assignments, 1)

	_, err = c.RawDelete("/api/lineage/" + lineage.Assignment.ID)
	require.NoError(t, err)
	status, _ = c.RawDelete("/api/lineage/" + lineage.Assignment.ID)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEnrichEvent(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/core/ups/access/entities", map[string]interface{}{"entity": "profile"})

	var created struct {
		Event events.Event `json:"event"`
	}
	_, err := f.plain.RawCreate("/api/events", map[string]interface{}{
		"event_id":      "evt-1",
		"event_type":    aep.EventProfileCreated,
		"source_system": "aep",
		"data":          map[string]interface{}{"profileId": "ecid-1"},
	}, &created)
	require.NoError(t, err)

	status, _ := f.plain.RawPost("/api/events/"+created.Event.ID+"/enrich", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status, "enrichment needs credentials")

	var result struct {
		Event        events.Event           `json:"event"`
		EnrichedData map[string]interface{} `json:"enriched_data"`
	}
	_, err = f.configured.RawPost("/api/events/"+created.Event.ID+"/enrich", nil, &result)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"entity": "profile"}, result.EnrichedData["profile"])
	assert.NotContains(t, result.EnrichedData, "enriched_at")
	stored, ok := result.Event.Payload["_enriched"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", stored["enriched_at"])
	assert.Equal(t, "aep", stored["enrichment_source"])
	assert.Equal(t, result.EnrichedData["profile"], stored["profile"])
	assert.Contains(t, f.platform.lastURI, "entityId=ecid-1")

	status, _ = f.configured.RawPost("/api/events/unknown/enrich", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEnrichEventWithAccessToken(t *testing.T) {
	f := newFixture(t)
	f.platform.respond("/data/core/ups/access/entities", map[string]interface{}{"entity": "profile"})

	var created struct {
		Event events.Event `json:"event"`
	}
	_, err := f.plain.RawCreate("/api/events", map[string]interface{}{
		"event_id":      "evt-1",
		"event_type":    aep.EventProfileUpdated,
		"source_system": "aep",
		"data":          map[string]interface{}{"profileId": "ecid-1"},
	}, &created)
	require.NoError(t, err)

	var result struct {
		Success      bool                   `json:"success"`
		EnrichedData map[string]interface{} `json:"enriched_data"`
	}
	_, err = f.plain.RawPost("/api/events/"+created.Event.ID+"/enrich", map[string]string{"accessToken": "user-token"}, &result)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"entity": "profile"}, result.EnrichedData["profile"])
	assert.Equal(t, "Bearer user-token", f.platform.header("Authorization"))
	assert.Equal(t, "default@AdobeOrg", f.platform.header("x-gw-ims-org-id"))
}

func TestUseCases(t *testing.T) {
	f := newFixture(t)

	status, _ := f.plain.RawCreate("/api/use-cases", map[string]string{"description": "no name"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var created struct {
		UseCase events.UseCase `json:"useCase"`
	}
	_, err := f.plain.RawCreate("/api/use-cases", map[string]string{"name": "Abandoned cart"}, &created)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, created.UseCase.FunctionsUsed)

	var list struct {
		UseCases []events.UseCase `json:"useCases"`
	}
	_, err = f.plain.RawGet("/api/use-cases", &list)
	require.NoError(t, err)
	require.Len(t, list.UseCases, 1)
	assert.Equal(t, "Abandoned cart", list.UseCases[0].Name)
}

func TestMiddlewares(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodOptions, "/api/sources", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Aep-Config")

	r = httptest.NewRequest(http.MethodGet, "/api/configuration", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
