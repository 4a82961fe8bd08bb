package aep

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"

	"github.com/relabs-tech/aepmonitor/core/logger"
)

// DefaultTokenURL is the IMS token endpoint for client_credentials exchanges
const DefaultTokenURL = "https://ims-na1.adobelogin.com/ims/token/v3"

// PlatformScope is requested when generating tokens for the dashboard user
const PlatformScope = "openid,AdobeID,read_organizations,additional_info.projectedProductContext,additional_info.job_function,https://ns.adobe.com/s/ent_platform_apis"

// CatalogScope is requested by the client itself, it adds catalog access
const CatalogScope = PlatformScope + ",acp.foundation.catalog"

const (
	// MaxTokenLifetime bounds how long a generated token is cached
	MaxTokenLifetime = 23 * time.Hour
	// tokenExpiryMargin is subtracted from the lifetime announced by IMS
	tokenExpiryMargin = 5 * time.Minute
)

// TokenResponse is the answer of the IMS token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// IMS exchanges client credentials for access tokens
type IMS struct {
	URL        string
	HTTPClient *http.Client
}

// Exchange performs a client_credentials grant. Non-2xx answers are returned as *Error,
// with the IMS response body preserved.
func (i IMS) Exchange(ctx context.Context, clientID, clientSecret, scope string) (*TokenResponse, error) {
	tokenURL := i.URL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	httpClient := i.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("scope", scope)

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := httpClient.Do(r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		logger.FromContext(ctx).Errorln("IMS token request failed:", res.Status)
		return nil, &Error{StatusCode: res.StatusCode, Status: res.Status, URL: tokenURL, Body: string(body)}
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("cannot parse IMS token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("IMS token response has no access_token")
	}
	return &token, nil
}

// GenerateToken obtains a token with the platform scope for a dashboard user
func (i IMS) GenerateToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	return i.Exchange(ctx, clientID, clientSecret, PlatformScope)
}

// TokenExpiry reads the expiry of an access token without verifying its signature. IMS
// tokens carry created_at and expires_in in milliseconds, standard tokens carry exp.
// The second return value is false if no expiry could be determined.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := (&jwt.Parser{}).ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if exp, ok := claimInt(claims["exp"]); ok && exp > 0 {
		return time.Unix(exp, 0).UTC(), true
	}
	createdAt, ok1 := claimInt(claims["created_at"])
	expiresIn, ok2 := claimInt(claims["expires_in"])
	if ok1 && ok2 {
		return time.UnixMilli(createdAt + expiresIn).UTC(), true
	}
	return time.Time{}, false
}

func claimInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// tokenTTL returns how long a freshly generated token may be cached
func tokenTTL(token *TokenResponse, now time.Time) time.Duration {
	ttl := MaxTokenLifetime
	if token.ExpiresIn > 0 {
		// IMS v3 announces seconds, older endpoints milliseconds
		lifetime := time.Duration(token.ExpiresIn) * time.Second
		if token.ExpiresIn > int64(365*24*time.Hour/time.Second) {
			lifetime = time.Duration(token.ExpiresIn) * time.Millisecond
		}
		ttl = lifetime - tokenExpiryMargin
	} else if expiry, ok := TokenExpiry(token.AccessToken); ok {
		ttl = expiry.Sub(now) - tokenExpiryMargin
	}
	if ttl > MaxTokenLifetime {
		ttl = MaxTokenLifetime
	}
	return ttl
}

func (c *Client) tokenCacheKey() string {
	sum := sha256.Sum256([]byte(c.config.ClientID + "\x00" + c.config.ClientSecret + "\x00" + c.scope))
	return "aep:token:" + hex.EncodeToString(sum[:])
}

// Token returns the access token for this client. A pre-generated token is returned as is,
// otherwise a cached token or a new token obtained via client credentials.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.config.HasPreGeneratedToken() {
		return c.config.AuthToken, nil
	}
	rlog := logger.FromContext(ctx)
	key := c.tokenCacheKey()
	if token, err := c.cache.Get(ctx, key); err == nil && token != "" {
		return token, nil
	}

	if c.config.ClientID == "" || c.config.ClientSecret == "" {
		return "", &TokenError{Err: fmt.Errorf("either provide an auth token or both client ID and secret")}
	}

	rlog.Infoln("requesting AEP access token via client_credentials")
	token, err := c.ims.Exchange(ctx, c.config.ClientID, c.config.ClientSecret, c.scope)
	if err != nil {
		return "", &TokenError{Err: err}
	}
	ttl := tokenTTL(token, c.now())
	if ttl > 0 {
		if err := c.cache.Set(ctx, key, token.AccessToken, ttl); err != nil {
			rlog.WithError(err).Warnln("cannot cache access token")
		}
	}
	rlog.Infoln("obtained AEP access token, cached for", ttl.Round(time.Minute))
	return token.AccessToken, nil
}

// InvalidateToken removes a generated token from the cache
func (c *Client) InvalidateToken(ctx context.Context) error {
	if c.config.HasPreGeneratedToken() {
		return nil
	}
	return c.cache.Del(ctx, c.tokenCacheKey())
}
