package server

import (
	"fmt"
	"net/http"

	"github.com/alfredjeanlab/flowcanvas/internal/canvas"
	"github.com/alfredjeanlab/flowcanvas/internal/model"
	"github.com/alfredjeanlab/flowcanvas/internal/session"
)

// withSession resolves {sid} and rejects callers outside the session's
// workspace before calling h.
func (s *Server) withSession(h func(w http.ResponseWriter, r *http.Request, sid string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := r.PathValue("sid")
		sess, err := s.sessions.Session(sid)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !principal(r).Scope().Allows(sess.WorkspaceID) {
			writeErr(w, fmt.Errorf("%s: %w", sid, session.ErrSessionNotFound))
			return
		}
		h(w, r, sid)
	}
}

// handleRoster handles GET /api/v1/canvas. It lists the open sessions
// visible to the caller.
func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	scope := principal(r).Scope()
	entries := s.sessions.Registry().Roster()
	out := make([]session.Entry, 0, len(entries))
	for _, e := range entries {
		sess, err := s.sessions.Session(e.SessionID)
		if err != nil || !scope.Allows(sess.WorkspaceID) {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type openCanvasInput struct {
	FlowID string         `json:"flowId,omitempty"`
	Name   string         `json:"name,omitempty" validate:"max=255"`
	Type   model.FlowType `json:"type,omitempty" validate:"omitempty,oneof=CHATFLOW AGENTFLOW MULTIAGENT ASSISTANT"`
}

// handleOpenCanvas handles POST /api/v1/canvas.
func (s *Server) handleOpenCanvas(w http.ResponseWriter, r *http.Request) {
	var in openCanvasInput
	if err := decodeBody(r, &in, true); err != nil {
		writeErr(w, err)
		return
	}

	p := principal(r)
	if in.FlowID != "" {
		if _, err := s.scopedFlow(r.Context(), p, in.FlowID); err != nil {
			writeErr(w, err)
			return
		}
	}
	scope := p.Scope()
	v, err := s.sessions.Open(r.Context(), session.OpenRequest{
		FlowID:         in.FlowID,
		Name:           in.Name,
		Type:           in.Type,
		Actor:          p.Subject(),
		WorkspaceID:    scope.WorkspaceID,
		OrganizationID: scope.OrganizationID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// handleGetCanvas handles GET /api/v1/canvas/{sid}.
func (s *Server) handleGetCanvas(w http.ResponseWriter, _ *http.Request, sid string) {
	v, err := s.sessions.Get(sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleCloseCanvas handles DELETE /api/v1/canvas/{sid}.
func (s *Server) handleCloseCanvas(w http.ResponseWriter, r *http.Request, sid string) {
	if err := s.sessions.Close(r.Context(), sid); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addNodeInput struct {
	Name     string  `json:"name" validate:"required"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	ParentID string  `json:"parentId,omitempty"`
}

// handleAddNode handles POST /api/v1/canvas/{sid}/nodes.
func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request, sid string) {
	var in addNodeInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}
	tpl, err := s.catalog.Get(r.Context(), in.Name)
	if err != nil {
		writeErr(w, err)
		return
	}

	var opts []canvas.PlaceOption
	if in.ParentID != "" {
		opts = append(opts, canvas.InParent(in.ParentID))
	}
	var node *model.Node
	err = s.sessions.Do(sid, func(c *canvas.Canvas) error {
		var err error
		node, err = c.AddNode(tpl, model.Position{X: in.X, Y: in.Y}, opts...)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// handleDeleteNode handles DELETE /api/v1/canvas/{sid}/nodes/{nid}.
func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request, sid string) {
	var removed []string
	err := s.sessions.Do(sid, func(c *canvas.Canvas) error {
		var err error
		removed, err = c.DeleteNode(r.PathValue("nid"))
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type duplicateInput struct {
	Offset *float64 `json:"offset,omitempty" validate:"omitempty,gte=0"`
}

// handleDuplicateNode handles POST /api/v1/canvas/{sid}/nodes/{nid}/duplicate.
func (s *Server) handleDuplicateNode(w http.ResponseWriter, r *http.Request, sid string) {
	var in duplicateInput
	if err := decodeBody(r, &in, true); err != nil {
		writeErr(w, err)
		return
	}
	offset := float64(canvas.DefaultDuplicateOffset)
	if in.Offset != nil {
		offset = *in.Offset
	}

	var node *model.Node
	err := s.sessions.Do(sid, func(c *canvas.Canvas) error {
		var err error
		node, err = c.DuplicateNode(r.PathValue("nid"), offset)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

type updateInputsInput struct {
	Inputs map[string]any `json:"inputs,omitempty"`
	Label  *string        `json:"label,omitempty"`
}

// handleUpdateInputs handles PATCH /api/v1/canvas/{sid}/nodes/{nid}/inputs.
// The optional label renames the node in the same step.
func (s *Server) handleUpdateInputs(w http.ResponseWriter, r *http.Request, sid string) {
	var in updateInputsInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}
	if len(in.Inputs) == 0 && in.Label == nil {
		writeError(w, http.StatusBadRequest, "inputs or label is required")
		return
	}

	nid := r.PathValue("nid")
	var node *model.Node
	err := s.sessions.Do(sid, func(c *canvas.Canvas) error {
		if len(in.Inputs) > 0 {
			if err := c.UpdateInputs(nid, in.Inputs); err != nil {
				return err
			}
		}
		if in.Label != nil {
			if err := c.SetLabel(nid, *in.Label); err != nil {
				return err
			}
		}
		node, _ = c.Node(nid)
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type setStatusInput struct {
	Status model.NodeStatus `json:"status" validate:"required,oneof=INPROGRESS FINISHED ERROR STOPPED"`
	Error  string           `json:"error,omitempty"`
}

// handleSetStatus handles PUT /api/v1/canvas/{sid}/nodes/{nid}/status.
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request, sid string) {
	var in setStatusInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.sessions.SetStatus(r.Context(), sid, r.PathValue("nid"), in.Status, in.Error); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodeId": r.PathValue("nid"), "status": in.Status})
}

type connectInput struct {
	Source       string `json:"source" validate:"required"`
	SourceHandle string `json:"sourceHandle" validate:"required"`
	Target       string `json:"target" validate:"required"`
	TargetHandle string `json:"targetHandle" validate:"required"`
}

// handleConnect handles POST /api/v1/canvas/{sid}/edges. A refused
// connection is not an error: the response says connected=false.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, sid string) {
	var in connectInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}

	var (
		edge *model.Edge
		ok   bool
	)
	err := s.sessions.Do(sid, func(c *canvas.Canvas) error {
		edge, ok = c.Connect(canvas.Connection{
			Source:       in.Source,
			SourceHandle: in.SourceHandle,
			Target:       in.Target,
			TargetHandle: in.TargetHandle,
		})
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"connected": true, "edge": edge})
}

// handleDeleteEdge handles DELETE /api/v1/canvas/{sid}/edges/{eid}.
func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request, sid string) {
	err := s.sessions.Do(sid, func(c *canvas.Canvas) error {
		return c.DeleteEdge(r.PathValue("eid"))
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importInput struct {
	Text  string       `json:"text,omitempty"`
	Graph *model.Graph `json:"graph,omitempty"`
}

// handleImport handles POST /api/v1/canvas/{sid}/import. The body carries
// either pasted text or a decoded graph.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, sid string) {
	var in importInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}

	var (
		v   *session.View
		err error
	)
	switch {
	case in.Graph != nil:
		v, err = s.sessions.ImportGraph(r.Context(), sid, in.Graph)
	case in.Text != "":
		v, err = s.sessions.Import(r.Context(), sid, in.Text)
	default:
		err = inputError("text or graph is required")
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleSync handles POST /api/v1/canvas/{sid}/sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, sid string) {
	v, err := s.sessions.Sync(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleRecover handles POST /api/v1/canvas/{sid}/recover.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request, sid string) {
	v, err := s.sessions.Recover(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type saveInput struct {
	Name string `json:"name,omitempty" validate:"max=255"`
}

// handleSave handles POST /api/v1/canvas/{sid}/save.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, sid string) {
	var in saveInput
	if err := decodeBody(r, &in, true); err != nil {
		writeErr(w, err)
		return
	}
	flow, err := s.sessions.Save(r.Context(), sid, in.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// handleIntegrity handles GET /api/v1/canvas/{sid}/integrity.
func (s *Server) handleIntegrity(w http.ResponseWriter, _ *http.Request, sid string) {
	var issues []canvas.Issue
	err := s.sessions.Do(sid, func(c *canvas.Canvas) error {
		issues = c.Integrity()
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if issues == nil {
		issues = []canvas.Issue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}
