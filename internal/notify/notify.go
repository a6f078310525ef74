// Package notify publishes workflow events for the out-of-process reminder
// and notification workers.
package notify

import (
	"context"
	"errors"
	"time"
)

const (
	EventStageCreated         = "stage.created"
	EventStageCompleted       = "stage.completed"
	EventCaseStagesCompleted  = "case.stages_completed"
	EventClientCreated        = "client.created"
	EventOrganizationCreated  = "organization.created"
	EventOrganizationAdminInv = "organization.admin_invited"
	EventDocumentUploaded     = "document.uploaded"
)

// Event is the message body put on the queue.
type Event struct {
	Type     string         `json:"type"`
	OrgID    string         `json:"org_id,omitempty"`
	CaseID   string         `json:"case_id,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	ActorID  string         `json:"actor_id,omitempty"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Multi publishes every event to each publisher in order and joins the
// failures.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
