package server

import (
	"net/http"
)

// handleListTemplates handles GET /api/v1/nodes. ?refresh=true refetches
// the catalog first.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.catalog.Refresh(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	tpls, err := s.catalog.Templates(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tpls)
}

// handleGetTemplate handles GET /api/v1/nodes/{name}.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.catalog.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}
