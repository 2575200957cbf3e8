package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/flowcanvas/internal/auth"
	"github.com/alfredjeanlab/flowcanvas/internal/events"
	"github.com/alfredjeanlab/flowcanvas/internal/idgen"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/store"
)

// scopedFlow loads a flow and hides it from callers outside its workspace.
func (s *Server) scopedFlow(ctx context.Context, p auth.Principal, id string) (*model.Flow, error) {
	flow, err := s.store.GetFlow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", id, err)
	}
	if !p.Scope().Allows(flow.WorkspaceID) {
		return nil, fmt.Errorf("flow %s: %w", id, store.ErrNotFound)
	}
	return flow, nil
}

// handleListFlows handles GET /api/v1/chatflows.
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := principal(r).Scope()
	filter := model.FlowFilter{
		WorkspaceID: scope.WorkspaceID,
		Search:      q.Get("search"),
		Sort:        q.Get("sort"),
	}
	if v := q.Get("type"); v != "" {
		for _, t := range strings.Split(v, ",") {
			filter.Type = append(filter.Type, model.FlowType(strings.ToUpper(strings.TrimSpace(t))))
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	flows, total, err := s.store.ListFlows(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list flows")
		return
	}
	if flows == nil {
		flows = []*model.Flow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  flows,
		"total": total,
	})
}

type createFlowInput struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name" validate:"required,max=255"`
	FlowData string         `json:"flowData,omitempty"`
	Type     model.FlowType `json:"type,omitempty"`
	Category string         `json:"category,omitempty"`
	Deployed bool           `json:"deployed,omitempty"`
	IsPublic bool           `json:"isPublic,omitempty"`
}

// newFlow builds a flow owned by p from in. Missing flow data becomes an
// empty graph and a missing type a chatflow.
func newFlow(in createFlowInput, p auth.Principal) (*model.Flow, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, inputError("name is required and must be a non-empty string")
	}
	if in.FlowData == "" {
		in.FlowData = model.EmptyFlowData
	}
	if in.Type == "" {
		in.Type = model.FlowTypeChatflow
	}
	id := in.ID
	if id == "" {
		var err error
		if id, err = idgen.FlowID(); err != nil {
			return nil, err
		}
	}
	scope := p.Scope()
	flow := &model.Flow{
		ID:             id,
		Name:           name,
		FlowData:       in.FlowData,
		Type:           in.Type,
		Category:       in.Category,
		Deployed:       in.Deployed,
		IsPublic:       in.IsPublic,
		WorkspaceID:    scope.WorkspaceID,
		OrganizationID: scope.OrganizationID,
		CreatedBy:      p.Subject(),
	}
	if err := model.ValidateFlow(flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// handleCreateFlow handles POST /api/v1/chatflows.
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var in createFlowInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}
	in.ID = ""

	p := principal(r)
	flow, err := newFlow(in, p)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.CreateFlow(r.Context(), flow); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create flow")
		return
	}

	s.recordAndPublish(r.Context(), events.TopicFlowCreated, flow.ID, p.Subject(), events.FlowCreated{Flow: flow})
	writeJSON(w, http.StatusCreated, flow)
}

// handleGetFlow handles GET /api/v1/chatflows/{id}.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.scopedFlow(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

type updateFlowInput struct {
	Name     *string         `json:"name,omitempty" validate:"omitempty,max=255"`
	FlowData *string         `json:"flowData,omitempty"`
	Type     *model.FlowType `json:"type,omitempty"`
	Category *string         `json:"category,omitempty"`
	Deployed *bool           `json:"deployed,omitempty"`
	IsPublic *bool           `json:"isPublic,omitempty"`
}

// handleUpdateFlow handles PUT /api/v1/chatflows/{id}. Only fields present
// in the body change.
func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	var in updateFlowInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}

	p := principal(r)
	flow, err := s.scopedFlow(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	changes := make(map[string]any)
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must be a non-empty string")
			return
		}
		flow.Name = name
		changes["name"] = name
	}
	if in.FlowData != nil {
		flow.FlowData = *in.FlowData
		changes["flowData"] = true
	}
	if in.Type != nil {
		flow.Type = *in.Type
		changes["type"] = *in.Type
	}
	if in.Category != nil {
		flow.Category = *in.Category
		changes["category"] = *in.Category
	}
	if in.Deployed != nil {
		flow.Deployed = *in.Deployed
		changes["deployed"] = *in.Deployed
	}
	if in.IsPublic != nil {
		flow.IsPublic = *in.IsPublic
		changes["isPublic"] = *in.IsPublic
	}
	if err := model.ValidateFlow(flow); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.UpdateFlow(r.Context(), flow); err != nil {
		writeErr(w, fmt.Errorf("update flow: %w", err))
		return
	}
	s.recordAndPublish(r.Context(), events.TopicFlowUpdated, flow.ID, p.Subject(), events.FlowUpdated{Flow: flow, Changes: changes})
	writeJSON(w, http.StatusOK, flow)
}

// handleDeleteFlow handles DELETE /api/v1/chatflows/{id}. Backups of the
// flow are discarded with it.
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	flow, err := s.scopedFlow(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.DeleteFlow(r.Context(), flow.ID); err != nil {
		writeErr(w, fmt.Errorf("delete flow: %w", err))
		return
	}
	if s.backups != nil {
		if err := s.backups.Discard(r.Context(), flow.ID); err != nil {
			s.logger.Warn("discarding backups failed", "flow_id", flow.ID, "err", err)
		}
	}
	s.recordAndPublish(r.Context(), events.TopicFlowDeleted, flow.ID, p.Subject(), events.FlowDeleted{FlowID: flow.ID})
	w.WriteHeader(http.StatusNoContent)
}

// handleGetFlowEvents handles GET /api/v1/chatflows/{id}/events.
func (s *Server) handleGetFlowEvents(w http.ResponseWriter, r *http.Request) {
	flow, err := s.scopedFlow(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	evts, err := s.store.GetEvents(r.Context(), flow.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	if evts == nil {
		evts = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, evts)
}

// handleFlowHasChanged handles
// GET /api/v1/chatflows/has-changed/{id}/{lastUpdatedDateTime}. The
// timestamp is compared at millisecond precision.
func (s *Server) handleFlowHasChanged(w http.ResponseWriter, r *http.Request) {
	since, err := time.Parse(time.RFC3339Nano, r.PathValue("lastUpdatedDateTime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "lastUpdatedDateTime must be an RFC 3339 timestamp")
		return
	}
	flow, err := s.scopedFlow(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	changed := !flow.UpdatedDate.Truncate(time.Millisecond).Equal(since.Truncate(time.Millisecond))
	writeJSON(w, http.StatusOK, map[string]any{
		"hasChanged":  changed,
		"updatedDate": flow.UpdatedDate,
	})
}

type importFlowsInput struct {
	Chatflows []createFlowInput `json:"Chatflows" validate:"required,dive"`
}

// handleImportFlows handles POST /api/v1/chatflows/importchatflows. All
// flows are created in one transaction. A flow keeps its id unless that id
// is already taken.
func (s *Server) handleImportFlows(w http.ResponseWriter, r *http.Request) {
	var in importFlowsInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}

	p := principal(r)
	flows := make([]*model.Flow, 0, len(in.Chatflows))
	for i, item := range in.Chatflows {
		flow, err := newFlow(item, p)
		if err != nil {
			writeErr(w, fmt.Errorf("Chatflows[%d]: %w", i, err))
			return
		}
		flows = append(flows, flow)
	}

	err := s.store.RunInTransaction(r.Context(), func(tx store.Store) error {
		for _, flow := range flows {
			_, err := tx.GetFlow(r.Context(), flow.ID)
			switch {
			case err == nil:
				if flow.ID, err = idgen.FlowID(); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			if err := tx.CreateFlow(r.Context(), flow); err != nil {
				return fmt.Errorf("create flow %q: %w", flow.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		writeErr(w, fmt.Errorf("import flows: %w", err))
		return
	}

	for _, flow := range flows {
		s.recordAndPublish(r.Context(), events.TopicFlowCreated, flow.ID, p.Subject(), events.FlowCreated{Flow: flow})
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"imported": len(flows),
		"data":     flows,
	})
}
