package db

import (
	"context"
	"errors"
	"fmt"
)

// ErrDocumentNotFound is returned by ReadDocument when the key has never been written
// or has been deleted.
var ErrDocumentNotFound = errors.New("document not found")

// Document kinds used by the workspace layer.
const (
	KindMeta    = "meta"
	KindPages   = "pages"
	KindEvents  = "events"
	KindAliases = "aliases"
)

// Key addresses one document inside a workspace.
type Key struct {
	Workspace string `json:"workspace"`
	Kind      string `json:"kind"`
	ID        string `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Workspace, k.Kind, k.ID)
}

// Validate reports whether every component of the key is set.
func (k Key) Validate() error {
	if k.Workspace == "" || k.Kind == "" || k.ID == "" {
		return fmt.Errorf("invalid document key %q", k.String())
	}
	return nil
}

// DocumentStore is the durability boundary for workspace state. Bodies are
// opaque bytes; callers own the encoding.
type DocumentStore interface {
	// ReadDocument returns ErrDocumentNotFound when the key is absent.
	ReadDocument(ctx context.Context, key Key) ([]byte, error)
	// WriteDocument creates or replaces the document.
	WriteDocument(ctx context.Context, key Key, body []byte) error
	// DeleteDocument removes the document. Deleting an absent key is not an error.
	DeleteDocument(ctx context.Context, key Key) error
	Close() error
}
