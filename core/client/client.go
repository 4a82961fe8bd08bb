/*
Package client provides easy and fast access to the aepmonitor REST api

The client either talks directly to the mux router, without marshalling HTTP, or to a
running service through its URL. In-process use is perfectly suited for unit tests.

WithConfig attaches AEP credentials to every request, the same way the dashboard does
with the x-aep-config header.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/aepmonitor/core/aep"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the service,
// through the mux router
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to a running service
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithConfig returns a new client which sends config in the x-aep-config header
func (c Client) WithConfig(config aep.Config) (Client, error) {
	value, err := aep.EncodeConfigHeader(config)
	if err != nil {
		return c, fmt.Errorf("cannot encode configuration: %w", err)
	}
	return c.WithHeader(aep.ConfigHeader, value), nil
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c Client) do(method, path string, body interface{}, result interface{}, expected int) (int, error) {
	var reader io.Reader
	if body != nil {
		j, err := json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, err
		}
		reader = bytes.NewReader(j)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	var (
		res     *http.Response
		resBody []byte
	)
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}

	status := res.StatusCode
	if status == http.StatusNoContent {
		return status, nil
	}
	if status != expected {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expected, strings.TrimSpace(string(resBody)))
	}
	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result, http.StatusOK)
}

// RawPost posts body to path. Expects http.StatusOK as response.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result, http.StatusOK)
}

// RawCreate posts body to path. Expects http.StatusCreated as response.
func (c Client) RawCreate(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result, http.StatusCreated)
}

// RawPut puts body to path. Expects http.StatusOK as response.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPut, path, body, result, http.StatusOK)
}

// RawDelete deletes the resource at path. Expects http.StatusOK or http.StatusNoContent.
func (c Client) RawDelete(path string) (int, error) {
	return c.do(http.MethodDelete, path, nil, nil, http.StatusOK)
}
