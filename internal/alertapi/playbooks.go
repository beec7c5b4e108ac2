package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aegis/internal/playbook"
)

// defaultDecider is recorded when a decision request names nobody.
const defaultDecider = "api"

// decisionRequest is the optional body of approve and reject.
type decisionRequest struct {
	By string `json:"by"`
}

func (a *API) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	status := playbook.Status(r.URL.Query().Get("status"))

	list, err := a.svc.List(r.Context(), status)
	if errors.Is(err, playbook.ErrInvalidStatus) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list playbooks", "status", status)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []*playbook.Playbook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"playbooks": list})
}

func (a *API) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.playbook.id", id))

	p, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get playbook", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("aegis.playbook.status", string(p.Status)))
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, a.svc.Approve)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, a.svc.Reject)
}

type decideFunc func(ctx context.Context, id, by string) (*playbook.Playbook, error)

func (a *API) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("aegis.playbook.id", id))

	var req decisionRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	by := strings.TrimSpace(req.By)
	if by == "" {
		by = defaultDecider
	}

	p, err := fn(ctx, id, by)
	switch {
	case errors.Is(err, playbook.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, playbook.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		a.logger.Error(ctx, err, "playbook decision failed", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) handleReloadNetwork(w http.ResponseWriter, r *http.Request) {
	if _, err := a.network.Reload(r.Context()); err != nil {
		a.logger.Error(r.Context(), err, "network definition reload failed")
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "network definition reloaded"})
}
