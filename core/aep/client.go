package aep

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/aepmonitor/core/logger"
	"github.com/relabs-tech/aepmonitor/core/tokencache"
)

// DefaultBaseURL is the platform gateway
const DefaultBaseURL = "https://platform.adobe.io"

// Object is a JSON object as returned by the platform
type Object = map[string]interface{}

// Client talks to the platform on behalf of one Config
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	ims        IMS
	cache      tokencache.Cache
	scope      string
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the platform gateway
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithTokenURL overrides the IMS token endpoint
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) { c.ims.URL = tokenURL }
}

// WithHTTPClient sets the http client used for platform and IMS requests
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
		c.ims.HTTPClient = httpClient
	}
}

// WithScope sets the scope requested for generated tokens, CatalogScope by default
func WithScope(scope string) Option {
	return func(c *Client) { c.scope = scope }
}

// WithTokenCache shares generated tokens through cache
func WithTokenCache(cache tokencache.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// New creates a client for the given configuration
func New(config Config, opts ...Option) (*Client, error) {
	if config.OrgID == "" {
		return nil, ErrMissingOrgID
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	c := &Client{
		config:     config,
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		ims:        IMS{URL: DefaultTokenURL, HTTPClient: httpClient},
		scope:      CatalogScope,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = tokencache.NewMemory()
	}
	return c, nil
}

// Config returns the configuration of this client
func (c *Client) Config() Config {
	return c.config
}

func (c *Client) headers(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("x-api-key", c.config.ClientID)
	h.Set("x-gw-ims-org-id", c.config.OrgID)
	h.Set("x-sandbox-name", c.config.Sandbox)
	if c.config.UsesSandboxID() {
		h.Set("x-sandbox-id", c.config.SandboxID)
	}
	return h
}

// Do sends a request to endpoint (a path relative to the gateway, including the query).
// body is marshalled as JSON when not nil, the response is unmarshalled into out when
// out is not nil. Non-2xx answers are returned as *Error. If a generated token is
// rejected with 401, the token is renewed and the request is repeated once.
func (c *Client) Do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("cannot marshal request body: %w", err)
		}
	}

	status, err := c.do(ctx, method, endpoint, payload, out)
	if err != nil && status == http.StatusUnauthorized && !c.config.HasPreGeneratedToken() {
		logger.FromContext(ctx).Warnln("access token rejected, renewing it")
		if err := c.InvalidateToken(ctx); err != nil {
			return err
		}
		_, err = c.do(ctx, method, endpoint, payload, out)
		return err
	}
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, out interface{}) (int, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return 0, err
	}
	url := c.baseURL + endpoint
	rlog := logger.FromContext(ctx)
	rlog.Debugln("AEP request", method, url)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	r, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	r.Header = c.headers(token)

	res, err := c.httpClient.Do(r)
	if err != nil {
		return 0, fmt.Errorf("AEP request %s failed: %w", endpoint, err)
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		rlog.Errorln("AEP API request failed:", res.Status, url)
		return res.StatusCode, &Error{StatusCode: res.StatusCode, Status: res.Status, URL: url, Body: string(resBody)}
	}
	if out != nil && len(bytes.TrimSpace(resBody)) > 0 {
		if err := json.Unmarshal(resBody, out); err != nil {
			return res.StatusCode, fmt.Errorf("cannot parse AEP response from %s: %w", endpoint, err)
		}
	}
	return res.StatusCode, nil
}

// Get fetches endpoint into out
func (c *Client) Get(ctx context.Context, endpoint string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, out)
}

// getObject fetches endpoint as a JSON object
func (c *Client) getObject(ctx context.Context, endpoint string) (Object, error) {
	var result Object
	if err := c.Get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = Object{}
	}
	return result, nil
}
