package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pagesync/pkg/db"
	"pagesync/pkg/protocol"
	"pagesync/pkg/room"
	"pagesync/pkg/workspace"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	store := db.NewMemoryDocumentStore()
	return NewHandlers(workspace.NewRegistry(store, zerolog.Nop()), room.NewHub(zerolog.Nop()), zerolog.Nop(), Options{})
}

func call(t *testing.T, h *Handlers, method, ws, params string) any {
	t.Helper()
	req := &protocol.Request{ID: 1, Method: method, WorkspaceID: ws}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return h.Dispatch(context.Background(), "conn-1", req)
}

func TestDispatchFailureResults(t *testing.T) {
	h := newTestHandlers(t)

	tests := []struct {
		name   string
		method string
		params string
		want   any
	}{
		{"bad folder params", protocol.MethodCreateFolder, `{"folder":{}}`, false},
		{"missing page id", protocol.MethodDeletePage, `{}`, false},
		{"unknown page events", protocol.MethodFetchEvents, `{"pageId":"nope"}`, []workspace.Event{}},
		{"empty alias prefix", protocol.MethodGetNewAlias, `{"prefix":""}`, ""},
		{"params of wrong type", protocol.MethodGetMeta, `[1]`, nil},
		{"unknown method", "dropTables", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, h, tt.method, "ws", tt.params))
		})
	}
}

func TestDispatchRejectsEmptyWorkspace(t *testing.T) {
	h := newTestHandlers(t)
	assert.Equal(t, false, call(t, h, protocol.MethodCreateFolder, "", `{"folder":{"id":"f","name":"F"}}`))
	assert.Nil(t, call(t, h, protocol.MethodGetMeta, "", ""))
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	h := newTestHandlers(t)
	h.rpcs[protocol.MethodGetPages] = func(context.Context, string, *workspace.EventManager, *protocol.Request) (any, error) {
		panic("boom")
	}
	assert.Nil(t, call(t, h, protocol.MethodGetPages, "ws", ""))
	// the connection keeps working
	assert.NotNil(t, call(t, h, protocol.MethodGetMeta, "ws", ""))
}

func TestCreatePageRoute(t *testing.T) {
	h := newTestHandlers(t)
	require.Equal(t, true, call(t, h, protocol.MethodCreateFolder, "ws", `{"folder":{"id":"f1","name":"Docs","parentId":"root"}}`))
	require.Equal(t, true, call(t, h, protocol.MethodCreatePage, "ws", `{"page":{"id":"p1","name":"About","folderId":"f1"}}`))
	assert.Equal(t, false, call(t, h, protocol.MethodCreatePage, "ws", `{"page":{"id":"home","name":"Other","folderId":"root"}}`))

	pages, ok := call(t, h, protocol.MethodGetPages, "ws", "").(map[string]workspace.PageDetails)
	require.True(t, ok)
	assert.Equal(t, workspace.PageDetails{ID: "p1", Name: "About", Route: "/Docs/About"}, pages["p1"])
	assert.Equal(t, "Home", pages["home"].Name)
}

func TestUpdatePageRejectsMissingFolder(t *testing.T) {
	h := newTestHandlers(t)
	require.Equal(t, true, call(t, h, protocol.MethodCreatePage, "ws", `{"page":{"id":"p1","name":"About","folderId":"root"}}`))

	assert.Equal(t, false, call(t, h, protocol.MethodUpdatePage, "ws", `{"id":"p1","update":{"folderId":"ghost","name":"X"}}`))
	assert.Equal(t, false, call(t, h, protocol.MethodUpdatePage, "ws", `{"id":"home","update":{"folderId":"ghost"}}`))

	meta, ok := call(t, h, protocol.MethodGetMeta, "ws", "").(*workspace.Metadata)
	require.True(t, ok)
	assert.Equal(t, "root", meta.Pages["p1"])
	pages := call(t, h, protocol.MethodGetPages, "ws", "").(map[string]workspace.PageDetails)
	assert.Equal(t, "About", pages["p1"].Name, "nothing applied when the move fails")
}

func TestPostNewEventBroadcastsToWorkspace(t *testing.T) {
	h := newTestHandlers(t)
	a := room.NewClient("conn-1", nil, 4)
	b := room.NewClient("conn-2", nil, 4)
	h.hub.Join("ws", a)
	h.hub.Join("ws", b)

	assert.Equal(t, true, call(t, h, protocol.MethodPostNewEvent, "ws", `{"pageId":"home","event":{"k":"v"}}`))
	for _, c := range []*room.Client{a, b} {
		require.Len(t, c.Send, 1)
		var frame protocol.NewEvent
		require.NoError(t, json.Unmarshal(<-c.Send, &frame))
		assert.Equal(t, "conn-1", frame.ConnectionID)
		assert.JSONEq(t, `{"k":"v"}`, string(frame.Event))
	}

	assert.Equal(t, false, call(t, h, protocol.MethodPostNewEvent, "ws", `{"pageId":"ghost","event":{}}`))
	assert.Empty(t, a.Send, "rejected events are not broadcast")
}

func dialRaw(t *testing.T, h *Handlers) *websocket.Conn {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.HandleWebSocket)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var welcome protocol.Welcome
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, protocol.TypeWelcome, welcome.Type)
	return conn
}

func readResponse(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	for {
		var frame protocol.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == protocol.TypeResponse {
			return frame
		}
	}
}

func TestWebSocketAnswersMalformedRequests(t *testing.T) {
	h := newTestHandlers(t)
	conn := dialRaw(t, h)

	// not JSON at all: dropped without a response
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{oops`)))
	// missing workspaceId: answered with the method's failure result
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":7,"method":"createFolder","params":{}}`)))
	resp := readResponse(t, conn)
	assert.Equal(t, uint64(7), resp.ID)
	assert.JSONEq(t, `false`, string(resp.Result))

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 8, "method": "getMeta", "workspaceId": "ws"}))
	resp = readResponse(t, conn)
	assert.Equal(t, uint64(8), resp.ID)
	var meta workspace.Metadata
	require.NoError(t, json.Unmarshal(resp.Result, &meta))
	assert.Contains(t, meta.Folders, workspace.RootFolderID)

	assert.Len(t, h.hub.Clients("ws"), 1, "a connection joins the workspace it talks to")
}

func TestWebSocketLeavesOnDisconnect(t *testing.T) {
	h := newTestHandlers(t)
	conn := dialRaw(t, h)
	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "method": "getPages", "workspaceId": "ws"}))
	readResponse(t, conn)
	require.Len(t, h.hub.Clients("ws"), 1)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return len(h.hub.Clients("ws")) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRESTEndpoints(t *testing.T) {
	h := newTestHandlers(t)
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/meta", h.GetMeta).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/pages", h.GetPages).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/pages/{pageId}/events", h.GetEvents).Methods("GET")

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/workspaces/ws/meta")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"folders":{"root":{"id":"root","name":"/","parentId":""}},"pages":{"home":"root"}}`, rec.Body.String())

	rec = get("/api/workspaces/ws/pages")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"home":{"id":"home","name":"Home","route":"/"}}`, rec.Body.String())

	rec = get("/api/workspaces/ws/pages/home/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get("/api/workspaces/ws/pages/ghost/events").Code)

	rec = get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","workspaces":["ws"]}`, rec.Body.String())
}
