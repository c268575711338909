package workspace

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"pagesync/pkg/db"

	"github.com/rs/zerolog"
)

// ErrInvalidWorkspace is returned for an empty workspace id.
var ErrInvalidWorkspace = errors.New("workspace id is required")

// Registry hands out one EventManager per workspace for the life of the process.
type Registry struct {
	managers map[string]*EventManager
	mutex    sync.Mutex
	store    db.DocumentStore
	logger   zerolog.Logger
}

// NewRegistry creates a registry whose managers all write through store.
func NewRegistry(store db.DocumentStore, logger zerolog.Logger) *Registry {
	return &Registry{
		managers: make(map[string]*EventManager),
		store:    store,
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// GetEventManager returns the cached manager for workspaceID, creating and
// bootstrapping it on first use. A manager is only cached once its bootstrap
// has been persisted, so a failed first access can simply be retried.
func (r *Registry) GetEventManager(ctx context.Context, workspaceID string) (*EventManager, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrInvalidWorkspace
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if m, ok := r.managers[workspaceID]; ok {
		return m, nil
	}

	m := NewEventManager(workspaceID, r.store, r.logger)
	if err := m.Bootstrap(ctx); err != nil {
		return nil, err
	}
	r.managers[workspaceID] = m
	r.logger.Info().Str("workspace", workspaceID).Msg("workspace opened")
	return m, nil
}

// Workspaces lists the ids of the workspaces opened so far.
func (r *Registry) Workspaces() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ids := make([]string, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
