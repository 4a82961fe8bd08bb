// Package core holds the types shared by the aepmonitor packages.
package core

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a modifying operation on a locally stored resource, one of Create, Update, Delete, Enrich
type Operation string

// all supported store operations
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationEnrich Operation = "enrich"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationEnrich:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Notification is what a Notifier receives for every change of a stored resource
type Notification struct {
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resource_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
}

// Notifier is an interface to receive store notifications
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// NopNotifier discards all notifications
type NopNotifier struct{}

// Notify implements Notifier
func (NopNotifier) Notify(context.Context, Notification) error { return nil }
