// Package client provides a transport-agnostic interface for the flowcanvas
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
)

// FlowClient is the interface that all fc CLI commands use to communicate
// with the flowcanvas server.
type FlowClient interface {
	// Flows
	ListFlows(ctx context.Context, req *ListFlowsRequest) (*ListFlowsResponse, error)
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	CreateFlow(ctx context.Context, req *CreateFlowRequest) (*model.Flow, error)
	UpdateFlow(ctx context.Context, id string, req *UpdateFlowRequest) (*model.Flow, error)
	DeleteFlow(ctx context.Context, id string) error
	GetEvents(ctx context.Context, flowID string) ([]*model.Event, error)
	HasChanged(ctx context.Context, id string, since time.Time) (bool, error)
	ImportFlows(ctx context.Context, flows []*CreateFlowRequest) ([]*model.Flow, error)

	// Templates
	ListTemplates(ctx context.Context, refresh bool) ([]*model.Template, error)
	GetTemplate(ctx context.Context, name string) (*model.Template, error)

	// Canvas sessions
	Roster(ctx context.Context) ([]session.Entry, error)
	OpenCanvas(ctx context.Context, req *OpenCanvasRequest) (*session.View, error)
	GetCanvas(ctx context.Context, sid string) (*session.View, error)
	CloseCanvas(ctx context.Context, sid string) error
	AddNode(ctx context.Context, sid string, req *AddNodeRequest) (*model.Node, error)
	DeleteNode(ctx context.Context, sid, nodeID string) ([]string, error)
	DuplicateNode(ctx context.Context, sid, nodeID string) (*model.Node, error)
	UpdateInputs(ctx context.Context, sid, nodeID string, req *UpdateInputsRequest) (*model.Node, error)
	SetStatus(ctx context.Context, sid, nodeID string, status model.NodeStatus, errMsg string) error
	Connect(ctx context.Context, sid string, req *ConnectRequest) (*model.Edge, bool, error)
	DeleteEdge(ctx context.Context, sid, edgeID string) error
	ImportCanvas(ctx context.Context, sid, text string) (*session.View, error)
	SyncCanvas(ctx context.Context, sid string) (*session.View, error)
	RecoverCanvas(ctx context.Context, sid string) (*session.View, error)
	SaveCanvas(ctx context.Context, sid, name string) (*model.Flow, error)
	Integrity(ctx context.Context, sid string) ([]canvas.Issue, error)

	// Auth
	Login(ctx context.Context, username, password string) (string, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ListFlowsRequest holds parameters for listing flows.
type ListFlowsRequest struct {
	Type   []string `json:"type,omitempty"`
	Search string   `json:"search,omitempty"`
	Sort   string   `json:"sort,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// ListFlowsResponse is the response from ListFlows.
type ListFlowsResponse struct {
	Flows []*model.Flow `json:"data"`
	Total int           `json:"total"`
}

// CreateFlowRequest holds parameters for creating a flow. ID is only
// honored by ImportFlows.
type CreateFlowRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	FlowData string `json:"flowData,omitempty"`
	Type     string `json:"type,omitempty"`
	Category string `json:"category,omitempty"`
	Deployed bool   `json:"deployed,omitempty"`
	IsPublic bool   `json:"isPublic,omitempty"`
}

// UpdateFlowRequest holds optional parameters for updating a flow.
// Nil pointer fields mean "don't change".
type UpdateFlowRequest struct {
	Name     *string `json:"name,omitempty"`
	FlowData *string `json:"flowData,omitempty"`
	Type     *string `json:"type,omitempty"`
	Category *string `json:"category,omitempty"`
	Deployed *bool   `json:"deployed,omitempty"`
	IsPublic *bool   `json:"isPublic,omitempty"`
}

// OpenCanvasRequest opens a stored flow by FlowID, or a new one of Type.
type OpenCanvasRequest struct {
	FlowID string `json:"flowId,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
}

// AddNodeRequest places a node built from the named template.
type AddNodeRequest struct {
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ParentID string  `json:"parentId,omitempty"`
}

// UpdateInputsRequest edits a node's input values and, optionally, its label.
type UpdateInputsRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
	Label  *string        `json:"label,omitempty"`
}

// ConnectRequest proposes an edge between two handles.
type ConnectRequest struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}
