/*
Package registry provides a persistent registry of JSON objects.

The registry is a key/value store where every value is serialized as JSON and stamped
with the time it was written. It backs the configuration, event, lineage and use case
stores. Two backends exist: a postgres table for production and an in-memory map for
single-instance deployments and tests.
*/
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/aepmonitor/core/csql"
)

type backend interface {
	get(ctx context.Context, key string) (json.RawMessage, time.Time, error)
	put(ctx context.Context, key string, value json.RawMessage, timestamp time.Time) error
	del(ctx context.Context, key string) (bool, error)
	scan(ctx context.Context, prefix string) ([]json.RawMessage, error)
}

// Registry provides a persistent registry of objects.
type Registry struct {
	backend backend
}

// New creates a new registry for the specified postgres database. The registry table
// is created if it does not exist yet.
func New(ctx context.Context, db *csql.DB) (Registry, error) {
	_, err := db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+db.Schema+`."_registry_"
(key varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		return Registry{}, fmt.Errorf("cannot create registry table: %w", err)
	}
	return Registry{backend: &postgresBackend{db: db}}, nil
}

// NewMemory creates a registry which keeps everything in memory.
func NewMemory() Registry {
	return Registry{backend: &memoryBackend{entries: map[string]memoryEntry{}}}
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry Registry
}

// Accessor returns a registry accessor with prefix
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (r Accessor) key(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the
// time when the value was written, or a zero timestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(ctx context.Context, key string, value interface{}) (time.Time, error) {
	key = r.key(key)
	rawValue, timestamp, err := r.Registry.backend.get(ctx, key)
	if err != nil {
		return timestamp, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	if timestamp.IsZero() {
		return timestamp, nil
	}
	return timestamp, json.Unmarshal(rawValue, value)
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(ctx context.Context, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = r.key(key)
	if err := r.Registry.backend.put(ctx, key, body, time.Now().UTC()); err != nil {
		return fmt.Errorf("could not write key %s: %w", key, err)
	}
	return nil
}

// Delete deletes a value from the registry. It reports whether the key existed.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(ctx context.Context, key string) (bool, error) {
	return r.Registry.backend.del(ctx, r.key(key))
}

// List returns the raw values of all keys of this accessor, ordered by key.
func (r Accessor) List(ctx context.Context) ([]json.RawMessage, error) {
	prefix := ""
	if len(r.Prefix) > 0 {
		prefix = r.Prefix + ":"
	}
	return r.Registry.backend.scan(ctx, prefix)
}

type postgresBackend struct {
	db *csql.DB
}

func (p *postgresBackend) get(ctx context.Context, key string) (json.RawMessage, time.Time, error) {
	var (
		rawValue  json.RawMessage
		timestamp time.Time
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM `+p.db.Schema+`."_registry_" WHERE key=$1;`,
		key).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	return rawValue, timestamp, err
}

func (p *postgresBackend) put(ctx context.Context, key string, value json.RawMessage, timestamp time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO `+p.db.Schema+`."_registry_"(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		key, string(value), timestamp)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("no rows affected")
	}
	return nil
}

func (p *postgresBackend) del(ctx context.Context, key string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM `+p.db.Schema+`."_registry_" WHERE key=$1;`, key)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

func (p *postgresBackend) scan(ctx context.Context, prefix string) ([]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT value FROM `+p.db.Schema+`."_registry_" WHERE starts_with(key, $1) ORDER BY key;`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []json.RawMessage
	for rows.Next() {
		var raw json.RawMessage
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		values = append(values, raw)
	}
	return values, rows.Err()
}

type memoryEntry struct {
	value     json.RawMessage
	timestamp time.Time
}

type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func (m *memoryBackend) get(_ context.Context, key string) (json.RawMessage, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, time.Time{}, nil
	}
	return e.value, e.timestamp, nil
}

func (m *memoryBackend) put(_ context.Context, key string, value json.RawMessage, timestamp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: append(json.RawMessage{}, value...), timestamp: timestamp}
	return nil
}

func (m *memoryBackend) del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

func (m *memoryBackend) scan(_ context.Context, prefix string) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		values = append(values, m.entries[k].value)
	}
	return values, nil
}
