package workspace

import (
	"encoding/json"
	"errors"
)

const (
	RootFolderID   = "root"
	RootFolderName = "/"
	HomePageID     = "home"
	HomePageName   = "Home"
	HomePageRoute  = "/"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrStorage   = errors.New("storage failure")
	ErrProtected = errors.New("protected entity")
)

// Folder is a node of the workspace folder tree.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId"`
}

// FolderUpdate carries the fields of a partial folder update. Nil means unchanged.
type FolderUpdate struct {
	Name     *string `json:"name,omitempty"`
	ParentID *string `json:"parentId,omitempty"`
}

// Page is what a client submits when creating a page.
type Page struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FolderID string `json:"folderId"`
	Route    string `json:"route,omitempty"`
}

// PageUpdate carries the fields of a partial page update. Nil means unchanged.
type PageUpdate struct {
	Name     *string `json:"name,omitempty"`
	FolderID *string `json:"folderId,omitempty"`
}

// PageDetails is the durable page record.
type PageDetails struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Route string `json:"route"`
}

// Event is one opaque edit record. Its content is never interpreted here.
type Event = json.RawMessage

// Metadata is the folder tree and page to folder mapping of a workspace.
type Metadata struct {
	Folders map[string]Folder `json:"folders"`
	Pages   map[string]string `json:"pages"`
}

// Clone returns a deep copy so callers can mutate freely.
func (m *Metadata) Clone() *Metadata {
	out := &Metadata{
		Folders: make(map[string]Folder, len(m.Folders)),
		Pages:   make(map[string]string, len(m.Pages)),
	}
	for id, f := range m.Folders {
		out.Folders[id] = f
	}
	for id, folderID := range m.Pages {
		out.Pages[id] = folderID
	}
	return out
}

// PagesIn returns the ids of the pages mapped to folderID.
func (m *Metadata) PagesIn(folderID string) []string {
	var ids []string
	for pageID, owner := range m.Pages {
		if owner == folderID {
			ids = append(ids, pageID)
		}
	}
	return ids
}

// heal enforces the root folder and home page invariants. It reports whether
// anything had to change.
func (m *Metadata) heal() bool {
	changed := false
	if m.Folders == nil {
		m.Folders = make(map[string]Folder)
		changed = true
	}
	root := Folder{ID: RootFolderID, Name: RootFolderName, ParentID: ""}
	if m.Folders[RootFolderID] != root {
		m.Folders[RootFolderID] = root
		changed = true
	}
	if m.Pages == nil {
		m.Pages = make(map[string]string)
		changed = true
	}
	if m.Pages[HomePageID] != RootFolderID {
		m.Pages[HomePageID] = RootFolderID
		changed = true
	}
	return changed
}

// DeriveRoute builds the route of a page from its folder name:
// "/<folder>/<page>", or "/<page>" when the folder is the root.
func DeriveRoute(folderName, pageName string) string {
	if folderName == RootFolderName {
		return "/" + pageName
	}
	return "/" + folderName + "/" + pageName
}
