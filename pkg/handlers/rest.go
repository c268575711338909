package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"pagesync/pkg/workspace"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) eventManager(w http.ResponseWriter, r *http.Request) (*workspace.EventManager, bool) {
	workspaceID := mux.Vars(r)["workspaceId"]
	em, err := h.registry.GetEventManager(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error().Err(err).Str("workspace", workspaceID).Msg("open workspace")
		if errors.Is(err, workspace.ErrInvalidWorkspace) {
			http.Error(w, "Invalid workspace", http.StatusBadRequest)
		} else {
			http.Error(w, "Workspace unavailable", http.StatusServiceUnavailable)
		}
		return nil, false
	}
	return em, true
}

// GetMeta returns the metadata of a workspace.
func (h *Handlers) GetMeta(w http.ResponseWriter, r *http.Request) {
	em, ok := h.eventManager(w, r)
	if !ok {
		return
	}
	meta, err := em.Meta(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("workspace", em.ID()).Msg("read metadata")
		http.Error(w, "Failed to read metadata", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// GetPages returns the page list of a workspace.
func (h *Handlers) GetPages(w http.ResponseWriter, r *http.Request) {
	em, ok := h.eventManager(w, r)
	if !ok {
		return
	}
	pages, err := em.Pages(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("workspace", em.ID()).Msg("read pages")
		http.Error(w, "Failed to read pages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

// GetEvents returns the event log of one page.
func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	em, ok := h.eventManager(w, r)
	if !ok {
		return
	}
	pageID := mux.Vars(r)["pageId"]
	events, err := em.FetchEvents(r.Context(), pageID)
	if err != nil {
		if errors.Is(err, workspace.ErrNotFound) {
			http.Error(w, "Page not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("workspace", em.ID()).Str("page", pageID).Msg("read events")
		http.Error(w, "Failed to read events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetConnections lists the connections attached to a workspace.
func (h *Handlers) GetConnections(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["workspaceId"]
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id": workspaceID,
		"connections":  h.hub.Clients(workspaceID),
	})
}

// Health reports liveness and the workspaces opened so far.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"workspaces": h.registry.Workspaces(),
	})
}
