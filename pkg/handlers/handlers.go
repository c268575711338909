package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pagesync/pkg/protocol"
	"pagesync/pkg/room"
	"pagesync/pkg/workspace"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Options tunes per-connection limits.
type Options struct {
	MaxMessageBytes int64
	SendBuffer      int
}

// Handlers contains all HTTP and WebSocket handlers
type Handlers struct {
	registry *workspace.Registry
	hub      *room.Hub
	logger   zerolog.Logger
	opts     Options
	upgrader websocket.Upgrader
	rpcs     map[string]rpcFunc
}

// NewHandlers creates a new handlers instance
func NewHandlers(registry *workspace.Registry, hub *room.Hub, logger zerolog.Logger, opts Options) *Handlers {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	h := &Handlers{
		registry: registry,
		hub:      hub,
		logger:   logger.With().Str("component", "handlers").Logger(),
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // editors are served from other origins during development
			},
		},
	}
	h.rpcs = h.rpcTable()
	return h
}

// HandleWebSocket upgrades the request and serves one sync connection until it
// goes away.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := room.NewClient(uuid.New().String(), conn, h.opts.SendBuffer)
	welcome, _ := json.Marshal(protocol.Welcome{Type: protocol.TypeWelcome, ConnectionID: client.ID})
	client.Enqueue(welcome)

	h.logger.Info().Str("conn", client.ID).Str("remote", r.RemoteAddr).Msg("client connected")

	go h.writePump(client)
	go h.readPump(client)
}

// readPump reads requests and answers them in arrival order.
func (h *Handlers) readPump(c *room.Client) {
	log := h.logger.With().Str("conn", c.ID).Logger()
	defer func() {
		h.hub.Leave(c)
		c.Conn.Close()
		log.Info().Msg("client disconnected")
	}()

	c.Conn.SetReadLimit(h.opts.MaxMessageBytes)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}
		h.handleMessage(context.Background(), c, message)
	}
}

// writePump drains the client's queue onto the socket and keeps it alive with pings.
func (h *Handlers) writePump(c *room.Client) {
	log := h.logger.With().Str("conn", c.ID).Logger()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.hub.Leave(c)
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// queue closed by the hub
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// handleMessage decodes one frame, runs the call and queues the response.
func (h *Handlers) handleMessage(ctx context.Context, c *room.Client, message []byte) {
	req, err := protocol.DecodeRequest(message)
	if err != nil {
		h.logger.Warn().Err(err).Str("conn", c.ID).Msg("rejected request")
		if req != nil {
			h.respond(c, req.ID, protocol.FailureResult(req.Method))
		}
		return
	}

	h.hub.Join(req.WorkspaceID, c)
	h.respond(c, req.ID, h.Dispatch(ctx, c.ID, req))
}

func (h *Handlers) respond(c *room.Client, id uint64, result any) {
	data, err := json.Marshal(protocol.Response{Type: protocol.TypeResponse, ID: id, Result: result})
	if err != nil {
		h.logger.Error().Err(err).Str("conn", c.ID).Uint64("id", id).Msg("encode response")
		return
	}
	if !c.Enqueue(data) {
		h.logger.Warn().Str("conn", c.ID).Uint64("id", id).Msg("response dropped, closing client")
		h.hub.Leave(c)
	}
}
