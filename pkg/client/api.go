package client

import (
	"context"
	"encoding/json"
	"fmt"

	"pagesync/pkg/protocol"
	"pagesync/pkg/workspace"
)

func (c *Client) GetMeta(ctx context.Context, workspaceID string) (*workspace.Metadata, error) {
	var meta *workspace.Metadata
	if err := c.call(ctx, protocol.MethodGetMeta, workspaceID, nil, &meta); err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%s: %w", protocol.MethodGetMeta, ErrRejected)
	}
	return meta, nil
}

func (c *Client) GetPages(ctx context.Context, workspaceID string) (map[string]workspace.PageDetails, error) {
	var pages map[string]workspace.PageDetails
	if err := c.call(ctx, protocol.MethodGetPages, workspaceID, nil, &pages); err != nil {
		return nil, err
	}
	if pages == nil {
		return nil, fmt.Errorf("%s: %w", protocol.MethodGetPages, ErrRejected)
	}
	return pages, nil
}

func (c *Client) CreateFolder(ctx context.Context, workspaceID string, folder workspace.Folder) error {
	return c.callBool(ctx, protocol.MethodCreateFolder, workspaceID, protocol.CreateFolderParams{Folder: folder})
}

func (c *Client) UpdateFolder(ctx context.Context, workspaceID, id string, update workspace.FolderUpdate) error {
	return c.callBool(ctx, protocol.MethodUpdateFolder, workspaceID, protocol.UpdateFolderParams{ID: id, Update: update})
}

func (c *Client) DeleteFolder(ctx context.Context, workspaceID, id string) error {
	return c.callBool(ctx, protocol.MethodDeleteFolder, workspaceID, protocol.IDParams{ID: id})
}

func (c *Client) CreatePage(ctx context.Context, workspaceID string, page workspace.Page) error {
	return c.callBool(ctx, protocol.MethodCreatePage, workspaceID, protocol.CreatePageParams{Page: page})
}

func (c *Client) UpdatePage(ctx context.Context, workspaceID, id string, update workspace.PageUpdate) error {
	return c.callBool(ctx, protocol.MethodUpdatePage, workspaceID, protocol.UpdatePageParams{ID: id, Update: update})
}

func (c *Client) DeletePage(ctx context.Context, workspaceID, id string) error {
	return c.callBool(ctx, protocol.MethodDeletePage, workspaceID, protocol.IDParams{ID: id})
}

// FetchEvents returns the page's log in append order; unknown pages yield an
// empty slice.
func (c *Client) FetchEvents(ctx context.Context, workspaceID, pageID string) ([]json.RawMessage, error) {
	var events []json.RawMessage
	if err := c.call(ctx, protocol.MethodFetchEvents, workspaceID, protocol.FetchEventsParams{PageID: pageID}, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// PostNewEvent appends event to the page. Every connection on the workspace,
// this one included, is notified.
func (c *Client) PostNewEvent(ctx context.Context, workspaceID, pageID string, event json.RawMessage) error {
	return c.callBool(ctx, protocol.MethodPostNewEvent, workspaceID, protocol.PostNewEventParams{PageID: pageID, Event: event})
}

func (c *Client) GetNewAlias(ctx context.Context, workspaceID, prefix string) (string, error) {
	var alias string
	if err := c.call(ctx, protocol.MethodGetNewAlias, workspaceID, protocol.GetNewAliasParams{Prefix: prefix}, &alias); err != nil {
		return "", err
	}
	if alias == "" {
		return "", fmt.Errorf("%s: %w", protocol.MethodGetNewAlias, ErrRejected)
	}
	return alias, nil
}
