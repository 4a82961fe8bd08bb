/*
Package events records platform events received through webhooks, together with the data
lineage assigned to them and the documented use cases.

Events are enriched on demand with the platform objects they refer to. Every change is
reported to a core.Notifier.
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/aepmonitor/core"
	"github.com/relabs-tech/aepmonitor/core/aep"
	"github.com/relabs-tech/aepmonitor/core/logger"
	"github.com/relabs-tech/aepmonitor/core/registry"
	"github.com/relabs-tech/aepmonitor/core/schema"
)

// Significance of an event
type Significance string

// the significance levels
const (
	SignificanceLow    Significance = "low"
	SignificanceMedium Significance = "medium"
	SignificanceHigh   Significance = "high"
)

// Resource names used in notifications
const (
	ResourceEvent   = "event"
	ResourceLineage = "lineage"
	ResourceUseCase = "use_case"
)

// EnrichmentSource marks enrichments obtained from the platform
const EnrichmentSource = "aep"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an event with the same event_id was already received
	ErrConflict = errors.New("event already exists")
)

// ValidationError is returned for payloads that do not match their schema
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Event is a platform event received through the webhook
type Event struct {
	ID              string       `json:"id"`
	EventID         string       `json:"event_id"`
	EventType       string       `json:"event_type"`
	SourceSystem    string       `json:"source_system"`
	Payload         aep.Object   `json:"payload"`
	Timestamp       string       `json:"timestamp"`
	Significance    Significance `json:"significance"`
	LineageAssigned bool         `json:"lineage_assigned"`
	LineageNotes    string       `json:"lineage_notes,omitempty"`
	CreatedAt       string       `json:"created_at"`
	UpdatedAt       string       `json:"updated_at"`
}

// Webhook is the payload accepted by Ingest
type Webhook struct {
	EventID      string     `json:"event_id"`
	EventType    string     `json:"event_type"`
	SourceSystem string     `json:"source_system"`
	Data         aep.Object `json:"data"`
	Timestamp    string     `json:"timestamp,omitempty"`
}

// Filter selects events in List. Empty fields match everything.
type Filter struct {
	EventType       string
	SourceSystem    string
	Significance    Significance
	LineageAssigned *bool
}

func (f Filter) matches(e Event) bool {
	return (f.EventType == "" || f.EventType == e.EventType) &&
		(f.SourceSystem == "" || f.SourceSystem == e.SourceSystem) &&
		(f.Significance == "" || f.Significance == e.Significance) &&
		(f.LineageAssigned == nil || *f.LineageAssigned == e.LineageAssigned)
}

// Stats summarizes the stored events
type Stats struct {
	Total            int `json:"total"`
	HighSignificance int `json:"high_significance"`
	LineageAssigned  int `json:"lineage_assigned"`
	Sources          int `json:"sources"`
}

// Enricher looks up the platform objects an event refers to. *aep.Client implements it.
type Enricher interface {
	EnrichEvent(ctx context.Context, eventType string, payload aep.Object) aep.Object
}

// SignificanceOf classifies an event type. Profile, segment and journey events
// are high, ingestion events medium, everything else low.
func SignificanceOf(eventType string) Significance {
	switch {
	case strings.HasPrefix(eventType, "profile."),
		eventType == aep.EventSegmentEvaluated,
		eventType == aep.EventJourneyTriggered:
		return SignificanceHigh
	case eventType == aep.EventDataIngested:
		return SignificanceMedium
	}
	return SignificanceLow
}

// Store keeps events, lineage assignments and use cases
type Store struct {
	events    registry.Accessor
	lineage   registry.Accessor
	useCases  registry.Accessor
	validator *schema.Validator
	notifier  core.Notifier
	mu        sync.Mutex
	now       func() time.Time
}

// New creates a store on top of reg. A nil notifier discards notifications.
func New(reg registry.Registry, validator *schema.Validator, notifier core.Notifier) *Store {
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	return &Store{
		events:    reg.Accessor("event"),
		lineage:   reg.Accessor("lineage"),
		useCases:  reg.Accessor("usecase"),
		validator: validator,
		notifier:  notifier,
		now:       time.Now,
	}
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(aep.TimeLayout)
}

// notify reports a change. Failures are logged, the change itself is already stored.
func (s *Store) notify(ctx context.Context, resource, id string, operation core.Operation, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot marshal notification payload")
		return
	}
	err = s.notifier.Notify(ctx, core.Notification{
		Resource:   resource,
		ResourceID: id,
		Operation:  operation,
		Payload:    payload,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("cannot notify %s %s of %s", operation, resource, id)
	}
}

func listAll[T any](ctx context.Context, accessor registry.Accessor) ([]T, error) {
	raws, err := accessor.List(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("cannot parse stored %s: %w", accessor.Prefix, err)
		}
		result = append(result, v)
	}
	return result, nil
}

// Ingest stores an event received through the webhook. The timestamp is normalized to
// aep.TimeLayout so that events order chronologically.
func (s *Store) Ingest(ctx context.Context, webhook Webhook) (*Event, error) {
	if err := s.validator.ValidateStruct(webhook, schema.WebhookID); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if webhook.Timestamp != "" {
		timestamp, ok := aep.FormatTime(webhook.Timestamp)
		if !ok {
			return nil, &ValidationError{Err: fmt.Errorf("timestamp %q is not a date", webhook.Timestamp)}
		}
		webhook.Timestamp = timestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := listAll[Event](ctx, s.events)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.EventID == webhook.EventID {
			return nil, ErrConflict
		}
	}

	now := s.timestamp()
	event := Event{
		ID:           uuid.New().String(),
		EventID:      webhook.EventID,
		EventType:    webhook.EventType,
		SourceSystem: webhook.SourceSystem,
		Payload:      webhook.Data,
		Timestamp:    webhook.Timestamp,
		Significance: SignificanceOf(webhook.EventType),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if event.Timestamp == "" {
		event.Timestamp = now
	}
	if event.Payload == nil {
		event.Payload = aep.Object{}
	}
	if err := s.events.Write(ctx, event.ID, event); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infof("received %s event %s from %s", event.EventType, event.EventID, event.SourceSystem)
	s.notify(ctx, ResourceEvent, event.ID, core.OperationCreate, event)
	return &event, nil
}

// List returns the events matching filter, the most recent first
func (s *Store) List(ctx context.Context, filter Filter) ([]Event, error) {
	all, err := listAll[Event](ctx, s.events)
	if err != nil {
		return nil, err
	}
	result := []Event{}
	for _, e := range all {
		if filter.matches(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	return result, nil
}

// Get returns the event with id, or ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	var e Event
	timestamp, err := s.events.Read(ctx, id, &e)
	if err != nil {
		return nil, err
	}
	if timestamp.IsZero() {
		return nil, ErrNotFound
	}
	return &e, nil
}

// Stats counts the stored events
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	all, err := listAll[Event](ctx, s.events)
	if err != nil {
		return nil, err
	}
	stats := Stats{Total: len(all)}
	sources := map[string]bool{}
	for _, e := range all {
		if e.Significance == SignificanceHigh {
			stats.HighSignificance++
		}
		if e.LineageAssigned {
			stats.LineageAssigned++
		}
		sources[e.SourceSystem] = true
	}
	stats.Sources = len(sources)
	return &stats, nil
}

// Enrich looks up the platform objects the event refers to and stores them in the
// payload under "_enriched", stamped with "enriched_at" and "enrichment_source". An
// already enriched event is enriched again. It returns the updated event and the
// enrichment without the stamps.
func (s *Store) Enrich(ctx context.Context, id string, enricher Enricher) (*Event, aep.Object, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	enriched := enricher.EnrichEvent(ctx, event.EventType, event.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	// re-read, lineage may have changed while the platform was queried
	if event, err = s.Get(ctx, id); err != nil {
		return nil, nil, err
	}
	payload := aep.Object{}
	for k, v := range event.Payload {
		payload[k] = v
	}
	now := s.timestamp()
	stamped := aep.Object{}
	for k, v := range enriched {
		stamped[k] = v
	}
	stamped["enriched_at"] = now
	stamped["enrichment_source"] = EnrichmentSource
	payload["_enriched"] = stamped
	event.Payload = payload
	event.UpdatedAt = now
	if err := s.events.Write(ctx, event.ID, event); err != nil {
		return nil, nil, err
	}
	s.notify(ctx, ResourceEvent, event.ID, core.OperationEnrich, event)
	return event, enriched, nil
}

// setLineageAssigned updates the lineage flag of an event. The caller holds s.mu.
func (s *Store) setLineageAssigned(ctx context.Context, id string, assigned bool, notes string) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if event.LineageAssigned == assigned && (notes == "" || notes == event.LineageNotes) {
		return nil
	}
	event.LineageAssigned = assigned
	if notes != "" {
		event.LineageNotes = notes
	}
	event.UpdatedAt = s.timestamp()
	if err := s.events.Write(ctx, event.ID, event); err != nil {
		return err
	}
	s.notify(ctx, ResourceEvent, event.ID, core.OperationUpdate, event)
	return nil
}
