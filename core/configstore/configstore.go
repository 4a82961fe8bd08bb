/*
Package configstore keeps the AEP connection configurations of the dashboard.

Configurations are stored in the registry under the prefix "configuration". At most one
configuration is active at any time, the active configuration is used for requests that
do not carry their own credentials.
*/
package configstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/logger"
	"github.com/relabs-tech/aepmonitor/core/registry"
	"github.com/relabs-tech/aepmonitor/core/schema"
)

// ErrNotFound is returned when a configuration does not exist
var ErrNotFound = errors.New("configuration not found")

// ValidationError is returned when a configuration does not match its schema
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Configuration is one stored set of AEP credentials. Timestamps are milliseconds since epoch.
type Configuration struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	OrgID        string `json:"orgId"`
	Sandbox      string `json:"sandbox"`
	SandboxID    string `json:"sandboxId"`
	AuthToken    string `json:"authToken"`
	IsActive     bool   `json:"isActive"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// AEPConfig returns the credentials of the configuration
func (c Configuration) AEPConfig() aep.Config {
	return aep.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		OrgID:        c.OrgID,
		Sandbox:      c.Sandbox,
		SandboxID:    c.SandboxID,
		AuthToken:    c.AuthToken,
	}
}

// RedactedMarker replaces present secrets in redacted configurations
const RedactedMarker = "********"

// Redacted returns a copy without secrets. Present secrets are replaced by RedactedMarker
// so that clients can tell whether one is set.
func (c Configuration) Redacted() Configuration {
	if c.ClientSecret != "" {
		c.ClientSecret = RedactedMarker
	}
	if c.AuthToken != "" {
		c.AuthToken = RedactedMarker
	}
	return c
}

// Store manages configurations
type Store struct {
	accessor  registry.Accessor
	validator *schema.Validator
	// serializes writes, so that at most one configuration is active
	mu  sync.Mutex
	now func() time.Time
}

// New creates a configuration store on top of reg
func New(reg registry.Registry, validator *schema.Validator) *Store {
	return &Store{
		accessor:  reg.Accessor("configuration"),
		validator: validator,
		now:       time.Now,
	}
}

func (s *Store) generateID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 7)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return "config_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + string(suffix)
}

// Save creates or updates a configuration and returns the stored record. A configuration
// without id gets a generated one. If the configuration is active, all other
// configurations are deactivated.
func (s *Store) Save(ctx context.Context, c Configuration) (*Configuration, error) {
	if err := s.validator.ValidateStruct(c, schema.ConfigurationID); err != nil {
		return nil, &ValidationError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	if c.ID == "" {
		c.ID = s.generateID()
	}

	var existing Configuration
	timestamp, err := s.accessor.Read(ctx, c.ID, &existing)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = now
	if !timestamp.IsZero() && existing.CreatedAt != 0 {
		c.CreatedAt = existing.CreatedAt
	}
	c.UpdatedAt = now

	if c.IsActive {
		if err := s.deactivateOthers(ctx, c.ID, now); err != nil {
			return nil, err
		}
	}
	if err := s.accessor.Write(ctx, c.ID, c); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infof("saved configuration %s (%s), active: %t", c.ID, c.Name, c.IsActive)
	return &c, nil
}

func (s *Store) deactivateOthers(ctx context.Context, id string, now int64) error {
	all, err := s.list(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.ID == id || !other.IsActive {
			continue
		}
		other.IsActive = false
		other.UpdatedAt = now
		if err := s.accessor.Write(ctx, other.ID, other); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) list(ctx context.Context) ([]Configuration, error) {
	raws, err := s.accessor.List(ctx)
	if err != nil {
		return nil, err
	}
	configs := make([]Configuration, 0, len(raws))
	for _, raw := range raws {
		var c Configuration
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("cannot parse stored configuration: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, nil
}

// List returns all configurations, the most recently created first
func (s *Store) List(ctx context.Context) ([]Configuration, error) {
	configs, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].CreatedAt > configs[j].CreatedAt
	})
	return configs, nil
}

// Get returns the configuration with id, or ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*Configuration, error) {
	var c Configuration
	timestamp, err := s.accessor.Read(ctx, id, &c)
	if err != nil {
		return nil, err
	}
	if timestamp.IsZero() {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Delete removes the configuration with id, or returns ErrNotFound
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found, err := s.accessor.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	logger.FromContext(ctx).Infoln("deleted configuration", id)
	return nil
}

// Active returns the active configuration, or nil if there is none
func (s *Store) Active(ctx context.Context) (*Configuration, error) {
	configs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].IsActive {
			return &configs[i], nil
		}
	}
	return nil, nil
}

// SetActive activates the configuration with id and deactivates all others
func (s *Store) SetActive(ctx context.Context, id string) (*Configuration, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.IsActive = true
	return s.Save(ctx, *c)
}
