package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pagesync/pkg/db"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails every call while broken is set.
type flakyStore struct {
	*db.MemoryDocumentStore
	mu     sync.Mutex
	broken bool
}

var errUnavailable = errors.New("store unavailable")

func (s *flakyStore) setBroken(b bool) {
	s.mu.Lock()
	s.broken = b
	s.mu.Unlock()
}

func (s *flakyStore) isBroken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *flakyStore) ReadDocument(ctx context.Context, key db.Key) ([]byte, error) {
	if s.isBroken() {
		return nil, errUnavailable
	}
	return s.MemoryDocumentStore.ReadDocument(ctx, key)
}

func (s *flakyStore) WriteDocument(ctx context.Context, key db.Key, body []byte) error {
	if s.isBroken() {
		return errUnavailable
	}
	return s.MemoryDocumentStore.WriteDocument(ctx, key, body)
}

func newTestManager(t *testing.T) (*EventManager, *db.MemoryDocumentStore) {
	t.Helper()
	store := db.NewMemoryDocumentStore()
	m := NewEventManager("ws", store, zerolog.Nop())
	require.NoError(t, m.Bootstrap(context.Background()))
	return m, store
}

func rawMeta(t *testing.T, store db.DocumentStore) string {
	t.Helper()
	body, err := store.ReadDocument(context.Background(), db.Key{Workspace: "ws", Kind: db.KindMeta, ID: metaDocID})
	require.NoError(t, err)
	return string(body)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	meta, err := m.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, Folder{ID: "root", Name: "/", ParentID: ""}, meta.Folders["root"])
	assert.Equal(t, "root", meta.Pages["home"])

	first := rawMeta(t, store)
	for i := 0; i < 3; i++ {
		_, err := m.Meta(ctx)
		require.NoError(t, err)
		_, err = m.Pages(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, first, rawMeta(t, store))

	pages, err := m.Pages(ctx)
	require.NoError(t, err)
	assert.Equal(t, PageDetails{ID: "home", Name: "Home", Route: "/"}, pages["home"])

	events, err := m.FetchEvents(ctx, "home")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMetaHealsMismatchedHomePage(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	broken := &Metadata{
		Folders: map[string]Folder{"docs": {ID: "docs", Name: "Docs", ParentID: "root"}},
		Pages:   map[string]string{"home": "docs"},
	}
	require.NoError(t, m.UpdateMeta(ctx, broken))

	meta, err := m.Meta(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root", meta.Pages["home"])
	assert.Equal(t, RootFolderName, meta.Folders["root"].Name)
	assert.Contains(t, meta.Folders, "docs")

	// the correction is persisted, not only returned
	var persisted Metadata
	require.NoError(t, json.Unmarshal([]byte(rawMeta(t, store)), &persisted))
	assert.Equal(t, "root", persisted.Pages["home"])
	assert.Contains(t, persisted.Folders, "root")
}

func TestMutateMetaDoesNotWriteOnError(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	before := rawMeta(t, store)

	err := m.MutateMeta(ctx, func(meta *Metadata) error {
		meta.Folders["x"] = Folder{ID: "x", Name: "X"}
		return ErrNotFound
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, rawMeta(t, store))
}

func TestCreateRenameDeletePage(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.CreatePage(ctx, "p1", "About", "/About"))
	pages, err := m.Pages(ctx)
	require.NoError(t, err)
	assert.Equal(t, PageDetails{ID: "p1", Name: "About", Route: "/About"}, pages["p1"])

	require.NoError(t, m.RenamePage(ctx, "p1", "Team"))
	pages, err = m.Pages(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Team", pages["p1"].Name)
	assert.Equal(t, "/About", pages["p1"].Route, "rename keeps the route")

	assert.ErrorIs(t, m.RenamePage(ctx, "nope", "x"), ErrNotFound)

	require.NoError(t, m.StoreEvent(ctx, "p1", Event(`{"type":"CREATE"}`)))
	require.NoError(t, m.DeletePage(ctx, "p1"))

	pages, err = m.Pages(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pages, "p1")
	_, err = m.FetchEvents(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, m.DeletePage(ctx, "p1"), "deleting twice is a no-op")
}

func TestStoreEventRequiresPage(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	err := m.StoreEvent(ctx, "ghost", Event(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)

	err = m.StoreEvent(ctx, "home", Event(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestAppendOrderUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	const writers, perWriter = 8, 25
	var (
		mu       sync.Mutex
		accepted []string
		wg       sync.WaitGroup
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := Event(fmt.Sprintf(`{"w":%d,"i":%d}`, w, i))
				err := m.PostEvent(ctx, "home", ev, func(e Event) {
					mu.Lock()
					accepted = append(accepted, string(e))
					mu.Unlock()
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	events, err := m.FetchEvents(ctx, "home")
	require.NoError(t, err)
	require.Len(t, events, writers*perWriter)

	got := make([]string, len(events))
	for i, e := range events {
		got[i] = string(e)
	}
	assert.Equal(t, accepted, got)
}

func TestIncrementAliasMonotonic(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	var last int64
	for i := 0; i < 10; i++ {
		n, err := m.IncrementAlias(ctx, "button")
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n

		other, err := m.IncrementAlias(ctx, "flex")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), other, "prefixes have independent counters")
	}
	assert.Equal(t, int64(10), last)

	alias, err := m.NewAlias(ctx, "button")
	require.NoError(t, err)
	assert.Equal(t, "button11", alias)

	_, err = m.NewAlias(ctx, "")
	assert.Error(t, err)
}

func TestAliasCountersSurviveMetadataReplace(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	_, err := m.IncrementAlias(ctx, "text")
	require.NoError(t, err)
	require.NoError(t, m.UpdateMeta(ctx, &Metadata{}))

	reopened := NewEventManager("ws", store, zerolog.Nop())
	n, err := reopened.IncrementAlias(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStorageFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryDocumentStore: db.NewMemoryDocumentStore()}
	m := NewEventManager("ws", store, zerolog.Nop())
	require.NoError(t, m.Bootstrap(ctx))

	store.setBroken(true)
	_, err := m.Meta(ctx)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, errUnavailable)

	assert.ErrorIs(t, m.StoreEvent(ctx, "home", Event(`{}`)), ErrStorage)
	_, err = m.IncrementAlias(ctx, "x")
	assert.ErrorIs(t, err, ErrStorage)

	store.setBroken(false)
	events, err := m.FetchEvents(ctx, "home")
	require.NoError(t, err)
	assert.Empty(t, events, "failed append must not leave a partial event")
}

func TestDeriveRoute(t *testing.T) {
	assert.Equal(t, "/About", DeriveRoute("/", "About"))
	assert.Equal(t, "/Docs/About", DeriveRoute("Docs", "About"))
}
