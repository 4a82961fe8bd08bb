package events

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/relabs-tech/aepmonitor/core"
	"github.com/relabs-tech/aepmonitor/core/logger"
	"github.com/relabs-tech/aepmonitor/core/schema"
)

// Assignment records where the data of an event came from and where it went
type Assignment struct {
	ID                  string `json:"id"`
	EventID             string `json:"event_id"`
	UpstreamSystem      string `json:"upstream_system"`
	DownstreamSystem    string `json:"downstream_system"`
	DataFlowDescription string `json:"data_flow_description,omitempty"`
	AssignedBy          string `json:"assigned_by,omitempty"`
	AssignedAt          string `json:"assigned_at"`
	CreatedAt           string `json:"created_at"`
}

// AssignLineage stores a lineage assignment for the event a.EventID and marks the event
// as having lineage
func (s *Store) AssignLineage(ctx context.Context, a Assignment) (*Assignment, error) {
	if err := s.validator.ValidateStruct(a, schema.LineageID); err != nil {
		return nil, &ValidationError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Get(ctx, a.EventID); err != nil {
		return nil, err
	}
	now := s.timestamp()
	a.ID = uuid.New().String()
	a.CreatedAt = now
	if a.AssignedAt == "" {
		a.AssignedAt = now
	}
	if err := s.lineage.Write(ctx, a.ID, a); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infof("assigned lineage %s -> %s to event %s", a.UpstreamSystem, a.DownstreamSystem, a.EventID)
	s.notify(ctx, ResourceLineage, a.ID, core.OperationCreate, a)

	if err := s.setLineageAssigned(ctx, a.EventID, true, a.DataFlowDescription); err != nil {
		return nil, err
	}
	return &a, nil
}

// Lineage lists the lineage assignments of an event, or all assignments if eventID is
// empty. The most recently assigned come first.
func (s *Store) Lineage(ctx context.Context, eventID string) ([]Assignment, error) {
	all, err := listAll[Assignment](ctx, s.lineage)
	if err != nil {
		return nil, err
	}
	result := []Assignment{}
	for _, a := range all {
		if eventID == "" || a.EventID == eventID {
			result = append(result, a)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AssignedAt > result[j].AssignedAt
	})
	return result, nil
}

// DeleteLineage removes a lineage assignment. The event loses its lineage flag when no
// other assignment refers to it.
func (s *Store) DeleteLineage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a Assignment
	timestamp, err := s.lineage.Read(ctx, id, &a)
	if err != nil {
		return err
	}
	if timestamp.IsZero() {
		return ErrNotFound
	}
	if _, err := s.lineage.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(ctx, ResourceLineage, id, core.OperationDelete, a)

	remaining, err := s.Lineage(ctx, a.EventID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	err = s.setLineageAssigned(ctx, a.EventID, false, "")
	if err == ErrNotFound {
		return nil
	}
	return err
}
