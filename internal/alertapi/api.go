// Package alertapi exposes the responder over HTTP: the alert webhook, the
// playbook approval API and the network definition reload endpoint.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/authmw"
	"github.com/linnemanlabs/aegis/internal/netdef"
	"github.com/linnemanlabs/aegis/internal/playbook"
)

// PlaybookService defines the business operations alertapi needs.
type PlaybookService interface {
	Handle(ctx context.Context, raw alert.Raw) (*playbook.HandleResult, error)
	Get(ctx context.Context, id string) (*playbook.Playbook, bool, error)
	List(ctx context.Context, status playbook.Status) ([]*playbook.Playbook, error)
	Approve(ctx context.Context, id, by string) (*playbook.Playbook, error)
	Reject(ctx context.Context, id, by string) (*playbook.Playbook, error)
}

// NetworkReloader re-reads the network definition from disk.
type NetworkReloader interface {
	Reload(ctx context.Context) (*netdef.Definition, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      PlaybookService
	network  NetworkReloader
	apiToken string
}

// New creates a new API handler. An empty apiToken leaves /api/v1 unauthenticated.
func New(logger log.Logger, svc PlaybookService, network NetworkReloader, apiToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("playbook service is required"))
	}
	if network == nil {
		panic(xerrors.New("network reloader is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		network:  network,
		apiToken: apiToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Post("/alert", a.handleAlert)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.BearerToken(a.apiToken))
		r.Get("/playbooks", a.handleListPlaybooks)
		r.Get("/playbooks/{id}", a.handleGetPlaybook)
		r.Post("/playbooks/{id}/approve", a.handleApprove)
		r.Post("/playbooks/{id}/reject", a.handleReject)
		r.Post("/network/reload", a.handleReloadNetwork)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
