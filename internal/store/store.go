package store

import (
	"context"
	"database/sql"

	"github.com/alfredjeanlab/flowcanvas/internal/model"
)

// ErrNotFound is returned when a flow does not exist. It is sql.ErrNoRows
// so callers can match either.
var ErrNotFound = sql.ErrNoRows

// Store defines the persistence interface for flows.
type Store interface {
	// Flow CRUD
	CreateFlow(ctx context.Context, flow *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	ListFlows(ctx context.Context, filter model.FlowFilter) ([]*model.Flow, int, error) // returns flows, total count, error
	UpdateFlow(ctx context.Context, flow *model.Flow) error
	DeleteFlow(ctx context.Context, id string) error
	CountFlows(ctx context.Context, flowType model.FlowType, workspaceID string) (int, error)

	// Events
	RecordEvent(ctx context.Context, event *model.Event) error
	GetEvents(ctx context.Context, flowID string) ([]*model.Event, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
