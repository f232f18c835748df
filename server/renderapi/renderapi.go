// Package renderapi is the native HTTP API of SPEC_FULL.md §10.1: a
// read-mostly chi router exposing the Session Registry's state for
// operational visibility and manual device management, the feature
// server/nativeapi's sonos_devices.go provides for the teacher's
// analogous Sonos device-token registry.
package renderapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dlnacast/engine/core/registry"
	"github.com/dlnacast/engine/log"
	"github.com/dlnacast/engine/model"
)

// Router mounts the renderer registry's introspection and management
// endpoints.
type Router struct {
	registry *registry.Registry
}

// New builds a Router bound to reg.
func New(reg *registry.Registry) *Router {
	return &Router{registry: reg}
}

// Routes returns the chi router to mount under /api/renderers.
func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", api.list)
	r.Get("/{uuid}", api.get)
	r.Delete("/{uuid}", api.remove)
	r.Post("/{uuid}/refresh", api.refresh)
	return r
}

// RendererResponse is one renderer's operational snapshot.
type RendererResponse struct {
	UUID           string            `json:"uuid"`
	FriendlyName   string            `json:"friendlyName"`
	ProfileName    string            `json:"profileName"`
	TransportState model.TransportState `json:"transportState"`
	CurrentItemID  string            `json:"currentItemId,omitempty"`
	PositionTicks  int64             `json:"positionTicks"`
	DurationTicks  int64             `json:"durationTicks"`
	Volume         int               `json:"volume"`
	Muted          bool              `json:"muted"`
}

func toResponse(s registry.Snapshot) RendererResponse {
	return RendererResponse{
		UUID:           s.UUID,
		FriendlyName:   s.FriendlyName,
		ProfileName:    s.ProfileName,
		TransportState: s.TransportState,
		CurrentItemID:  s.CurrentMedia.ItemID,
		PositionTicks:  s.PositionTicks,
		DurationTicks:  s.DurationTicks,
		Volume:         s.Volume,
		Muted:          s.Muted,
	}
}

// list handles GET /api/renderers.
func (api *Router) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshots := api.registry.List(ctx)
	response := make([]RendererResponse, len(snapshots))
	for i, s := range snapshots {
		response[i] = toResponse(s)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error(ctx, "error encoding renderer list response", err)
	}
}

// get handles GET /api/renderers/{uuid}.
func (api *Router) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := chi.URLParam(r, "uuid")

	snap, err := api.registry.Get(ctx, uuid)
	if err != nil {
		http.Error(w, "renderer not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toResponse(snap)); err != nil {
		log.Error(ctx, "error encoding renderer response", "uuid", uuid, err)
	}
}

// remove handles DELETE /api/renderers/{uuid}.
func (api *Router) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := chi.URLParam(r, "uuid")

	if err := api.registry.Remove(uuid); err != nil {
		if err == model.ErrDeviceNotFound {
			http.Error(w, "renderer not found", http.StatusNotFound)
			return
		}
		log.Error(ctx, "error removing renderer", "uuid", uuid, err)
		http.Error(w, "error removing renderer", http.StatusInternalServerError)
		return
	}

	log.Info(ctx, "renderer unpaired", "uuid", uuid)
	w.WriteHeader(http.StatusNoContent)
}

// refresh handles POST /api/renderers/{uuid}/refresh.
func (api *Router) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uuid := chi.URLParam(r, "uuid")

	if err := api.registry.Refresh(uuid); err != nil {
		if err == model.ErrDeviceNotFound {
			http.Error(w, "renderer not found", http.StatusNotFound)
			return
		}
		log.Error(ctx, "error refreshing renderer", "uuid", uuid, err)
		http.Error(w, "error refreshing renderer", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
