package aep

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ConfigHeader is the request header carrying the base64 encoded JSON Config
const ConfigHeader = "x-aep-config"

// ProdSandbox is the name of the production sandbox
const ProdSandbox = "prod"

// Config holds the credentials of one AEP connection
type Config struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	OrgID        string `json:"orgId"`
	Sandbox      string `json:"sandbox"`
	SandboxID    string `json:"sandboxId,omitempty"`
	AuthToken    string `json:"authToken,omitempty"`
}

// ErrMissingOrgID is returned when a Config has no organization ID
var ErrMissingOrgID = errors.New("organization ID is required for AEP API authentication")

// HasPreGeneratedToken returns true if the configuration carries its own bearer token
func (c Config) HasPreGeneratedToken() bool {
	return c.AuthToken != ""
}

// AuthMethod describes how the access token is obtained
func (c Config) AuthMethod() string {
	if c.HasPreGeneratedToken() {
		return "pre-generated token"
	}
	return "client credentials"
}

// UsesSandboxID returns true if requests carry the x-sandbox-id header. Only service
// tokens obtained through client credentials may name a sandbox id, user tokens are
// rejected by the platform when they do.
func (c Config) UsesSandboxID() bool {
	return !c.HasPreGeneratedToken() && c.SandboxID != "" && c.Sandbox != ProdSandbox
}

// EncodeConfigHeader returns the value for the x-aep-config header
func EncodeConfigHeader(c Config) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// DecodeConfigHeader parses the value of the x-aep-config header
func DecodeConfigHeader(value string) (Config, error) {
	var c Config
	value = strings.TrimSpace(value)
	if value == "" {
		return c, errors.New("empty configuration header")
	}
	body, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		// tolerate clients that strip the padding
		body, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
		if err != nil {
			return c, fmt.Errorf("configuration header is not base64: %w", err)
		}
	}
	if err := json.Unmarshal(body, &c); err != nil {
		return c, fmt.Errorf("configuration header is not valid JSON: %w", err)
	}
	return c, nil
}
