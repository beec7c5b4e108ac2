package alertapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aegis/internal/alert"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Alive!")
}

// handleAlert runs the pipeline to completion before answering. The webhook
// sender only learns whether the body was JSON; every other outcome is
// reported through logs, metrics and the playbook API.
func (a *API) handleAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	raw, err := alert.Decode(body)
	if err != nil {
		a.logger.Warn(ctx, "rejected alert body", "error", err, "bytes", len(body))
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	// The pipeline outlives a client that hangs up mid-generation.
	res, err := a.svc.Handle(context.WithoutCancel(ctx), raw)
	switch {
	case errors.Is(err, alert.ErrMalformed):
		a.logger.Warn(ctx, "malformed alert", "error", err)
	case err != nil:
		a.logger.Error(ctx, err, "alert processing failed")
	case res.Skipped:
		a.logger.Info(ctx, "alert skipped", "reason", res.Reason)
	default:
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("aegis.playbook.id", res.Playbook.ID),
			attribute.String("aegis.playbook.status", string(res.Playbook.Status)),
		)
		a.logger.Info(ctx, "playbook created",
			"playbook_id", res.Playbook.ID,
			"filename", res.Playbook.Filename,
			"status", res.Playbook.Status,
		)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "alert received"})
}
