package model

import "time"

// FlowType discriminates chatflows from agentflows.
type FlowType string

const (
	FlowTypeChatflow   FlowType = "CHATFLOW"
	FlowTypeAgentflow  FlowType = "AGENTFLOW"
	FlowTypeMultiAgent FlowType = "MULTIAGENT"
	FlowTypeAssistant  FlowType = "ASSISTANT"
)

// String returns the string representation of the flow type.
func (t FlowType) String() string {
	return string(t)
}

// IsValid checks whether the flow type is a known value.
func (t FlowType) IsValid() bool {
	switch t {
	case FlowTypeChatflow, FlowTypeAgentflow, FlowTypeMultiAgent, FlowTypeAssistant:
		return true
	}
	return false
}

// EmptyFlowData is stored when a flow is created without a graph.
const EmptyFlowData = `{"nodes":[],"edges":[]}`

// Flow is the persisted aggregate: a named, serialized graph scoped to a
// workspace and organization.
type Flow struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	FlowData       string    `json:"flowData"` // serialized graph
	Type           FlowType  `json:"type"`
	Deployed       bool      `json:"deployed"`
	IsPublic       bool      `json:"isPublic"`
	Category       string    `json:"category,omitempty"`
	WorkspaceID    string    `json:"workspaceId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedDate    time.Time `json:"createdDate"`
	UpdatedDate    time.Time `json:"updatedDate"`
}

// Graph decodes the flow's serialized graph.
func (f *Flow) Graph() (*Graph, error) {
	return ParseGraph([]byte(f.FlowData))
}

// FlowFilter holds criteria for querying flows.
type FlowFilter struct {
	Type           []FlowType `json:"type,omitempty"`
	WorkspaceID    string     `json:"workspaceId,omitempty"`
	OrganizationID string     `json:"organizationId,omitempty"`
	Search         string     `json:"search,omitempty"` // case-insensitive match on name
	Sort           string     `json:"sort,omitempty"`   // e.g. "-updatedDate", "name"; prefix "-" = descending
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}
