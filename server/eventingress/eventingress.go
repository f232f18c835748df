// Package eventingress is the HTTP event ingress endpoint of
// SPEC_FULL.md §6.4: NOTIFY /Dlna/Eventing/{id}, which reads the GENA
// LastChange body and hands it to the Session Registry for demux to the
// right Device Session. Malformed or unknown ids are silently 200 OK,
// per spec: a misbehaving or stale renderer must never be able to make
// this endpoint fail loudly.
package eventingress

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dlnacast/engine/core/registry"
	"github.com/dlnacast/engine/log"
)

// Router mounts the single NOTIFY route.
type Router struct {
	registry *registry.Registry
}

// New builds a Router bound to reg.
func New(reg *registry.Registry) *Router {
	return &Router{registry: reg}
}

// Routes returns the chi router to mount under /Dlna/Eventing.
func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.MethodFunc("NOTIFY", "/{id}", api.notify)
	return r
}

func (api *Router) notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug(ctx, "failed to read NOTIFY body", "id", id, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := api.registry.HandleEventNotify(ctx, id, string(body)); err != nil {
		log.Debug(ctx, "NOTIFY for unknown session", "id", id, err)
	}
	w.WriteHeader(http.StatusOK)
}
