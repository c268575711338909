package handlers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"pagesync/pkg/protocol"
	"pagesync/pkg/workspace"

	"github.com/rs/zerolog"
)

type rpcFunc func(ctx context.Context, origin string, em *workspace.EventManager, req *protocol.Request) (any, error)

func (h *Handlers) rpcTable() map[string]rpcFunc {
	return map[string]rpcFunc{
		protocol.MethodGetMeta:      h.getMeta,
		protocol.MethodGetPages:     h.getPages,
		protocol.MethodCreateFolder: h.createFolder,
		protocol.MethodUpdateFolder: h.updateFolder,
		protocol.MethodDeleteFolder: h.deleteFolder,
		protocol.MethodCreatePage:   h.createPage,
		protocol.MethodUpdatePage:   h.updatePage,
		protocol.MethodDeletePage:   h.deletePage,
		protocol.MethodFetchEvents:  h.fetchEvents,
		protocol.MethodPostNewEvent: h.postNewEvent,
		protocol.MethodGetNewAlias:  h.getNewAlias,
	}
}

// Dispatch runs req on behalf of connection origin and returns the result to
// send back. Failures of any kind, panics included, are logged here and turned
// into the conservative result for the method.
func (h *Handlers) Dispatch(ctx context.Context, origin string, req *protocol.Request) (result any) {
	log := h.logger.With().
		Str("conn", origin).
		Str("workspace", req.WorkspaceID).
		Str("method", req.Method).
		Uint64("id", req.ID).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("rpc panicked")
			result = protocol.FailureResult(req.Method)
		}
	}()

	fn, ok := h.rpcs[req.Method]
	if !ok {
		log.Warn().Msg("unknown method")
		return protocol.FailureResult(req.Method)
	}

	em, err := h.registry.GetEventManager(ctx, req.WorkspaceID)
	if err != nil {
		log.Error().Err(err).Msg("open workspace")
		return protocol.FailureResult(req.Method)
	}

	result, err = fn(ctx, origin, em, req)
	if err != nil {
		logFailure(log, err)
		return protocol.FailureResult(req.Method)
	}
	return result
}

func logFailure(log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotFound), errors.Is(err, workspace.ErrProtected):
		log.Info().Err(err).Msg("rpc rejected")
	case errors.Is(err, protocol.ErrProtocolFault), errors.Is(err, workspace.ErrInvalidEvent):
		log.Warn().Err(err).Msg("rpc protocol fault")
	default:
		log.Error().Err(err).Msg("rpc failed")
	}
}

func (h *Handlers) getMeta(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	if err := protocol.DecodeParams(req, nil); err != nil {
		return nil, err
	}
	if err := em.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return em.Meta(ctx)
}

func (h *Handlers) getPages(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	if err := protocol.DecodeParams(req, nil); err != nil {
		return nil, err
	}
	if err := em.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return em.Pages(ctx)
}

func (h *Handlers) createFolder(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.CreateFolderParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	err := em.MutateMeta(ctx, func(meta *workspace.Metadata) error {
		meta.Folders[p.Folder.ID] = p.Folder
		return nil
	})
	return err == nil, err
}

func (h *Handlers) updateFolder(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.UpdateFolderParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.ID == workspace.RootFolderID {
		return nil, fmt.Errorf("update root folder: %w", workspace.ErrProtected)
	}
	err := em.MutateMeta(ctx, func(meta *workspace.Metadata) error {
		folder, ok := meta.Folders[p.ID]
		if !ok {
			return fmt.Errorf("folder %q: %w", p.ID, workspace.ErrNotFound)
		}
		if p.Update.Name != nil {
			folder.Name = *p.Update.Name
		}
		if p.Update.ParentID != nil {
			folder.ParentID = *p.Update.ParentID
		}
		meta.Folders[p.ID] = folder
		return nil
	})
	return err == nil, err
}

// deleteFolder removes the folder and every page mapped to it, logs included.
// Subfolders are left in place.
func (h *Handlers) deleteFolder(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.IDParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.ID == workspace.RootFolderID {
		return nil, fmt.Errorf("delete root folder: %w", workspace.ErrProtected)
	}
	err := em.MutateMeta(ctx, func(meta *workspace.Metadata) error {
		if _, ok := meta.Folders[p.ID]; !ok {
			return fmt.Errorf("folder %q: %w", p.ID, workspace.ErrNotFound)
		}
		for _, pageID := range meta.PagesIn(p.ID) {
			if err := em.DeletePage(ctx, pageID); err != nil {
				return err
			}
			delete(meta.Pages, pageID)
		}
		delete(meta.Folders, p.ID)
		return nil
	})
	return err == nil, err
}

func (h *Handlers) createPage(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.CreatePageParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.Page.ID == workspace.HomePageID {
		return nil, fmt.Errorf("create home page: %w", workspace.ErrProtected)
	}
	err := em.MutateMeta(ctx, func(meta *workspace.Metadata) error {
		folder, ok := meta.Folders[p.Page.FolderID]
		if !ok {
			return fmt.Errorf("folder %q: %w", p.Page.FolderID, workspace.ErrNotFound)
		}
		route := workspace.DeriveRoute(folder.Name, p.Page.Name)
		if err := em.CreatePage(ctx, p.Page.ID, p.Page.Name, route); err != nil {
			return err
		}
		meta.Pages[p.Page.ID] = p.Page.FolderID
		return nil
	})
	return err == nil, err
}

// updatePage moves and/or renames a page. The route keeps the value computed at
// creation.
func (h *Handlers) updatePage(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.UpdatePageParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	err := em.MutateMeta(ctx, func(meta *workspace.Metadata) error {
		if _, ok := meta.Pages[p.ID]; !ok {
			return fmt.Errorf("page %q: %w", p.ID, workspace.ErrNotFound)
		}
		if folderID := p.Update.FolderID; folderID != nil {
			if p.ID == workspace.HomePageID && *folderID != workspace.RootFolderID {
				return fmt.Errorf("move home page: %w", workspace.ErrProtected)
			}
			if _, ok := meta.Folders[*folderID]; !ok {
				return fmt.Errorf("folder %q: %w", *folderID, workspace.ErrNotFound)
			}
			meta.Pages[p.ID] = *folderID
		}
		if p.Update.Name != nil {
			return em.RenamePage(ctx, p.ID, *p.Update.Name)
		}
		return nil
	})
	return err == nil, err
}

func (h *Handlers) deletePage(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.IDParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	if p.ID == workspace.HomePageID {
		return nil, fmt.Errorf("delete home page: %w", workspace.ErrProtected)
	}
	err := em.MutateMeta(ctx, func(meta *workspace.Metadata) error {
		if _, ok := meta.Pages[p.ID]; !ok {
			return fmt.Errorf("page %q: %w", p.ID, workspace.ErrNotFound)
		}
		if err := em.DeletePage(ctx, p.ID); err != nil {
			return err
		}
		delete(meta.Pages, p.ID)
		return nil
	})
	return err == nil, err
}

// fetchEvents answers an empty list for pages that do not exist.
func (h *Handlers) fetchEvents(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.FetchEventsParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	events, err := em.FetchEvents(ctx, p.PageID)
	if errors.Is(err, workspace.ErrNotFound) {
		return []workspace.Event{}, nil
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

// postNewEvent appends the event and fans it out to the workspace, tagged with
// the posting connection. The fan-out happens under the page lock so every
// client sees the page's events in append order.
func (h *Handlers) postNewEvent(ctx context.Context, origin string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.PostNewEventParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	err := em.PostEvent(ctx, p.PageID, p.Event, func(ev workspace.Event) {
		h.hub.BroadcastNewEvent(em.ID(), p.PageID, ev, origin)
	})
	return err == nil, err
}

func (h *Handlers) getNewAlias(ctx context.Context, _ string, em *workspace.EventManager, req *protocol.Request) (any, error) {
	var p protocol.GetNewAliasParams
	if err := protocol.DecodeParams(req, &p); err != nil {
		return nil, err
	}
	return em.NewAlias(ctx, p.Prefix)
}
