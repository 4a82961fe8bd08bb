package events

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/relabs-tech/aepmonitor/core"
	"github.com/relabs-tech/aepmonitor/core/aep"
)

// UseCase documents how platform functions are combined for a business scenario
type UseCase struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Description      string        `json:"description,omitempty"`
	Configuration    aep.Object    `json:"configuration"`
	Lineage          aep.Object    `json:"lineage"`
	ExpectedBehavior string        `json:"expected_behavior,omitempty"`
	FunctionsUsed    []interface{} `json:"functions_used"`
	CreatedBy        string        `json:"created_by,omitempty"`
	CreatedAt        string        `json:"created_at"`
}

// UseCases lists all use cases, the most recently created first
func (s *Store) UseCases(ctx context.Context) ([]UseCase, error) {
	all, err := listAll[UseCase](ctx, s.useCases)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt > all[j].CreatedAt
	})
	return all, nil
}

// CreateUseCase stores a new use case. Missing configuration, lineage and functions
// default to empty values.
func (s *Store) CreateUseCase(ctx context.Context, u UseCase) (*UseCase, error) {
	if u.Name == "" {
		return nil, &ValidationError{Err: errors.New("name is required")}
	}
	u.ID = uuid.New().String()
	u.CreatedAt = s.timestamp()
	if u.Configuration == nil {
		u.Configuration = aep.Object{}
	}
	if u.Lineage == nil {
		u.Lineage = aep.Object{}
	}
	if u.FunctionsUsed == nil {
		u.FunctionsUsed = []interface{}{}
	}
	if err := s.useCases.Write(ctx, u.ID, u); err != nil {
		return nil, err
	}
	s.notify(ctx, ResourceUseCase, u.ID, core.OperationCreate, u)
	return &u, nil
}
