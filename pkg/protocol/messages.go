// Package protocol defines the frames exchanged over a sync connection.
//
// Clients send Requests. The server answers each one with a Response carrying
// the same id, and pushes NewEvent notifications to every connection attached
// to a workspace. The first frame on a connection is a Welcome that tells the
// client its connection id.
package protocol

import (
	"encoding/json"
	"errors"

	"pagesync/pkg/workspace"
)

// Methods a client may call.
const (
	MethodGetMeta      = "getMeta"
	MethodGetPages     = "getPages"
	MethodCreateFolder = "createFolder"
	MethodUpdateFolder = "updateFolder"
	MethodDeleteFolder = "deleteFolder"
	MethodCreatePage   = "createPage"
	MethodUpdatePage   = "updatePage"
	MethodDeletePage   = "deletePage"
	MethodFetchEvents  = "fetchEvents"
	MethodPostNewEvent = "postNewEvent"
	MethodGetNewAlias  = "getNewAlias"
)

// Methods lists every callable method.
var Methods = []string{
	MethodGetMeta,
	MethodGetPages,
	MethodCreateFolder,
	MethodUpdateFolder,
	MethodDeleteFolder,
	MethodCreatePage,
	MethodUpdatePage,
	MethodDeletePage,
	MethodFetchEvents,
	MethodPostNewEvent,
	MethodGetNewAlias,
}

// Frame types sent by the server.
const (
	TypeWelcome  = "welcome"
	TypeResponse = "response"
	TypeNewEvent = "newEvent"
)

// ErrProtocolFault marks a malformed or unexpected request.
var ErrProtocolFault = errors.New("protocol fault")

// Request is a client call. ID correlates the Response.
type Request struct {
	ID          uint64          `json:"id"`
	Method      string          `json:"method"`
	WorkspaceID string          `json:"workspaceId"`
	Params      json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	Type   string `json:"type"`
	ID     uint64 `json:"id"`
	Result any    `json:"result"`
}

type Welcome struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// NewEvent announces an accepted event. ConnectionID is the connection that
// posted it, so the poster can recognise its own echo.
type NewEvent struct {
	Type         string          `json:"type"`
	WorkspaceID  string          `json:"workspaceId"`
	PageID       string          `json:"pageId"`
	Event        json.RawMessage `json:"event"`
	ConnectionID string          `json:"connectionId"`
}

// Frame is the union of every server frame, used by clients to decode
// whatever arrives.
type Frame struct {
	Type         string          `json:"type"`
	ID           uint64          `json:"id,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	WorkspaceID  string          `json:"workspaceId,omitempty"`
	PageID       string          `json:"pageId,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
}

type CreateFolderParams struct {
	Folder workspace.Folder `json:"folder"`
}

type UpdateFolderParams struct {
	ID     string                 `json:"id"`
	Update workspace.FolderUpdate `json:"update"`
}

// IDParams is used by deleteFolder and deletePage.
type IDParams struct {
	ID string `json:"id"`
}

type CreatePageParams struct {
	Page workspace.Page `json:"page"`
}

type UpdatePageParams struct {
	ID     string               `json:"id"`
	Update workspace.PageUpdate `json:"update"`
}

type FetchEventsParams struct {
	PageID string `json:"pageId"`
}

type PostNewEventParams struct {
	PageID string          `json:"pageId"`
	Event  json.RawMessage `json:"event"`
}

type GetNewAliasParams struct {
	Prefix string `json:"prefix"`
}

// FailureResult is the conservative result returned when method fails.
// Details stay in the server log.
func FailureResult(method string) any {
	switch method {
	case MethodCreateFolder, MethodUpdateFolder, MethodDeleteFolder,
		MethodCreatePage, MethodUpdatePage, MethodDeletePage, MethodPostNewEvent:
		return false
	case MethodFetchEvents:
		return []workspace.Event{}
	case MethodGetNewAlias:
		return ""
	default:
		return nil
	}
}
