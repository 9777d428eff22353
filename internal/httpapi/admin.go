package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/authcore"
)

func (a *api) disableUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DisableUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) enableUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.EnableUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) unlockAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.engine.UnlockAccount(r.Context(), req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) flagIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP  string `json:"ip"`
		TTL string `json:"ttl"`
	}
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ttl, err := time.ParseDuration(req.TTL)
	if err != nil {
		a.writeError(w, r, authcore.ErrInvalidInput)
		return
	}
	if err := a.engine.FlagIP(r.Context(), req.IP, ttl); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) promoteKey(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.PromoteSigningKey(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.JWKS())
}

func (a *api) securityReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.SecurityReport())
}
