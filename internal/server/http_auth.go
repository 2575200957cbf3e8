package server

import (
	"errors"
	"net/http"

	"github.com/alfredjeanlab/flowcanvas/internal/auth"
)

type loginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type principalView struct {
	Subject string     `json:"subject"`
	Kind    string     `json:"kind"`
	Scope   auth.Scope `json:"scope"`
}

func viewPrincipal(p auth.Principal) principalView {
	return principalView{Subject: p.Subject(), Kind: p.Kind(), Scope: p.Scope()}
}

// handleLogin handles POST /api/v1/auth/login. The issued token is
// returned in the body and set as the "token" cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || s.auth.Mode() != auth.ModeBasic {
		writeError(w, http.StatusBadRequest, "login is only available with basic auth")
		return
	}
	var in loginInput
	if err := decodeBody(r, &in, false); err != nil {
		writeErr(w, err)
		return
	}

	token, p, err := s.auth.Login(in.Username, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeErr(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"principal": viewPrincipal(p),
	})
}
