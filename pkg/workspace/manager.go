package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"pagesync/pkg/db"

	"github.com/rs/zerolog"
)

const (
	metaDocID    = "meta"
	pagesDocID   = "index"
	aliasesDocID = "counters"
)

// ErrInvalidEvent is returned when an event payload is not valid JSON.
var ErrInvalidEvent = errors.New("invalid event payload")

// EventManager owns the metadata and the page event logs of one workspace. It
// is the only writer of that workspace's documents.
//
// Lock order is metaMu, then pagesMu, then a page log lock. A MutateMeta
// callback may therefore call page operations but never metadata ones.
type EventManager struct {
	id     string
	store  db.DocumentStore
	logger zerolog.Logger

	metaMu  sync.Mutex
	pagesMu sync.Mutex
	aliasMu sync.Mutex

	logsMu   sync.Mutex
	logLocks map[string]*sync.Mutex
}

// NewEventManager returns a manager for workspaceID backed by store. It does
// not touch the store; call Bootstrap before serving requests.
func NewEventManager(workspaceID string, store db.DocumentStore, logger zerolog.Logger) *EventManager {
	return &EventManager{
		id:       workspaceID,
		store:    store,
		logger:   logger.With().Str("workspace", workspaceID).Logger(),
		logLocks: make(map[string]*sync.Mutex),
	}
}

// ID returns the workspace id.
func (m *EventManager) ID() string {
	return m.id
}

func (m *EventManager) key(kind, id string) db.Key {
	return db.Key{Workspace: m.id, Kind: kind, ID: id}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// readJSON decodes the document at key into v. found is false when the
// document does not exist.
func (m *EventManager) readJSON(ctx context.Context, key db.Key, v any) (found bool, err error) {
	body, err := m.store.ReadDocument(ctx, key)
	if errors.Is(err, db.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("read "+key.String(), err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, storageErr("decode "+key.String(), err)
	}
	return true, nil
}

func (m *EventManager) writeJSON(ctx context.Context, key db.Key, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.store.WriteDocument(ctx, key, body); err != nil {
		return storageErr("write "+key.String(), err)
	}
	return nil
}

// Bootstrap heals the metadata and makes sure the home page exists.
func (m *EventManager) Bootstrap(ctx context.Context) error {
	if _, err := m.Meta(ctx); err != nil {
		return err
	}
	_, err := m.Pages(ctx)
	return err
}

func (m *EventManager) loadMetaLocked(ctx context.Context) (*Metadata, error) {
	meta := &Metadata{}
	if _, err := m.readJSON(ctx, m.key(db.KindMeta, metaDocID), meta); err != nil {
		return nil, err
	}
	if meta.heal() {
		m.logger.Info().Msg("metadata healed: root folder and home page pinned")
		if err := m.writeJSON(ctx, m.key(db.KindMeta, metaDocID), meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// Meta returns the current metadata. Missing or mismatched root folder and home
// page entries are corrected and persisted first.
func (m *EventManager) Meta(ctx context.Context) (*Metadata, error) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return m.loadMetaLocked(ctx)
}

// UpdateMeta replaces the persisted metadata wholesale. No invariant checks are
// done here; the next read heals whatever is missing.
func (m *EventManager) UpdateMeta(ctx context.Context, meta *Metadata) error {
	if meta == nil {
		return errors.New("metadata is nil")
	}
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	return m.writeJSON(ctx, m.key(db.KindMeta, metaDocID), meta)
}

// MutateMeta loads the healed metadata, applies fn and persists the result,
// all under the metadata lock. Nothing is written when fn fails.
func (m *EventManager) MutateMeta(ctx context.Context, fn func(meta *Metadata) error) error {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	meta, err := m.loadMetaLocked(ctx)
	if err != nil {
		return err
	}
	if err := fn(meta); err != nil {
		return err
	}
	meta.heal()
	return m.writeJSON(ctx, m.key(db.KindMeta, metaDocID), meta)
}

func (m *EventManager) loadPagesLocked(ctx context.Context) (map[string]PageDetails, error) {
	pages := make(map[string]PageDetails)
	if _, err := m.readJSON(ctx, m.key(db.KindPages, pagesDocID), &pages); err != nil {
		return nil, err
	}
	if pages == nil {
		pages = make(map[string]PageDetails)
	}
	return pages, nil
}

// Pages returns the durable page list. The home page is created on first access.
func (m *EventManager) Pages(ctx context.Context) (map[string]PageDetails, error) {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	pages, err := m.loadPagesLocked(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := pages[HomePageID]; !ok {
		if err := m.createPageLocked(ctx, pages, HomePageID, HomePageName, HomePageRoute); err != nil {
			return nil, err
		}
		m.logger.Info().Msg("home page created")
	}
	return pages, nil
}

// CreatePage registers a page record and gives it an empty event log. An
// existing page with the same id is replaced and its log reset.
func (m *EventManager) CreatePage(ctx context.Context, id, name, route string) error {
	if id == "" {
		return errors.New("page id is required")
	}
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	pages, err := m.loadPagesLocked(ctx)
	if err != nil {
		return err
	}
	return m.createPageLocked(ctx, pages, id, name, route)
}

func (m *EventManager) createPageLocked(ctx context.Context, pages map[string]PageDetails, id, name, route string) error {
	lock := m.logLock(id)
	lock.Lock()
	err := m.writeJSON(ctx, m.key(db.KindEvents, id), []Event{})
	lock.Unlock()
	if err != nil {
		return err
	}
	pages[id] = PageDetails{ID: id, Name: name, Route: route}
	return m.writeJSON(ctx, m.key(db.KindPages, pagesDocID), pages)
}

// RenamePage changes the stored name of a page. The route is left as it was.
func (m *EventManager) RenamePage(ctx context.Context, id, name string) error {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	pages, err := m.loadPagesLocked(ctx)
	if err != nil {
		return err
	}
	page, ok := pages[id]
	if !ok {
		return fmt.Errorf("page %q: %w", id, ErrNotFound)
	}
	page.Name = name
	pages[id] = page
	return m.writeJSON(ctx, m.key(db.KindPages, pagesDocID), pages)
}

// DeletePage removes the page record and discards its event log. Deleting a
// page that does not exist is a no-op.
func (m *EventManager) DeletePage(ctx context.Context, id string) error {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()

	pages, err := m.loadPagesLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := pages[id]; ok {
		delete(pages, id)
		if err := m.writeJSON(ctx, m.key(db.KindPages, pagesDocID), pages); err != nil {
			return err
		}
	}

	lock := m.logLock(id)
	lock.Lock()
	defer lock.Unlock()
	if err := m.store.DeleteDocument(ctx, m.key(db.KindEvents, id)); err != nil {
		return storageErr("delete events of "+id, err)
	}
	return nil
}

func (m *EventManager) logLock(pageID string) *sync.Mutex {
	m.logsMu.Lock()
	defer m.logsMu.Unlock()
	lock, ok := m.logLocks[pageID]
	if !ok {
		lock = &sync.Mutex{}
		m.logLocks[pageID] = lock
	}
	return lock
}

func (m *EventManager) readLog(ctx context.Context, pageID string) ([]Event, error) {
	var events []Event
	found, err := m.readJSON(ctx, m.key(db.KindEvents, pageID), &events)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("events of page %q: %w", pageID, ErrNotFound)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// FetchEvents returns the event log of a page in append order.
func (m *EventManager) FetchEvents(ctx context.Context, pageID string) ([]Event, error) {
	lock := m.logLock(pageID)
	lock.Lock()
	defer lock.Unlock()
	return m.readLog(ctx, pageID)
}

// StoreEvent appends one event to the log of an existing page.
func (m *EventManager) StoreEvent(ctx context.Context, pageID string, event Event) error {
	return m.PostEvent(ctx, pageID, event, nil)
}

// PostEvent appends event and, once it is durable, calls publish while the page
// lock is still held. Publishing order therefore matches append order.
func (m *EventManager) PostEvent(ctx context.Context, pageID string, event Event, publish func(Event)) error {
	if !json.Valid(event) {
		return ErrInvalidEvent
	}
	lock := m.logLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	events, err := m.readLog(ctx, pageID)
	if err != nil {
		return err
	}
	events = append(events, event)
	if err := m.writeJSON(ctx, m.key(db.KindEvents, pageID), events); err != nil {
		return err
	}
	if publish != nil {
		publish(event)
	}
	return nil
}
