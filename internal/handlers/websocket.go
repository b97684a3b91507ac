package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// WSMessage is the wire envelope for every websocket frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// relayedEvents lists the bus topics forwarded to websocket clients.
var relayedEvents = []interfaces.EventType{
	interfaces.EventDocumentUploaded,
	interfaces.EventVersionStatusChanged,
	interfaces.EventJobUpdated,
	interfaces.EventFactsExtracted,
	interfaces.EventDeletionCompleted,
	interfaces.EventDeletionFailed,
}

// WebSocketHandler relays bus events to connected clients. Each connection
// is bound to one tenant at upgrade time and only ever sees that tenant's
// events.
type WebSocketHandler struct {
	tenants          interfaces.TenantService
	logger           arbor.ILogger
	upgrader         websocket.Upgrader
	mu               sync.RWMutex
	clients          map[*websocket.Conn]string // conn -> tenant id
	clientMutex      map[*websocket.Conn]*sync.Mutex
	serverInstanceID string // clients use this to detect server restarts
}

func NewWebSocketHandler(tenants interfaces.TenantService, events interfaces.EventService, cfg *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	readBuf, writeBuf := cfg.ReadBufferSize, cfg.WriteBufferSize
	if readBuf <= 0 {
		readBuf = 1024
	}
	if writeBuf <= 0 {
		writeBuf = 1024
	}
	h := &WebSocketHandler{
		tenants: tenants,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				return true // API-key auth, not cookies, so cross-origin is fine
			},
		},
		clients:          make(map[*websocket.Conn]string),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	for _, eventType := range relayedEvents {
		if err := events.Subscribe(eventType, h.relay); err != nil {
			logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("WebSocket event subscription failed")
		}
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away. Authentication comes from the middleware when the client
// sent headers, or from the api_key query parameter, since browser websocket
// clients cannot set headers.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tc, ok := TenantFrom(r.Context())
	if !ok {
		apiKey := r.URL.Query().Get("api_key")
		if apiKey == "" {
			WriteError(w, r, http.StatusUnauthorized, "unauthorized", "API key required")
			return
		}
		resolved, err := h.tenants.Authenticate(r.Context(), apiKey)
		if err != nil {
			WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid API key")
			return
		}
		tc = *resolved
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = tc.TenantID
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("tenant_id", tc.TenantID).Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendToConn(conn, WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"tenant_id":          tc.TenantID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read loop keeps the connection alive; clients only send pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// relay forwards a bus event to the clients of its tenant.
func (h *WebSocketHandler) relay(_ context.Context, event interfaces.Event) error {
	h.Broadcast(event.TenantID, WSMessage{
		Type:    string(event.Type),
		Payload: event.Payload,
	})
	return nil
}

// Broadcast sends msg to every connection bound to tenantID.
func (h *WebSocketHandler) Broadcast(tenantID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, connTenant := range h.clients {
		if connTenant != tenantID {
			continue
		}
		conns = append(conns, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send websocket message")
		}
	}
}

func (h *WebSocketHandler) sendToConn(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send websocket message")
	}
}

// ClientCount reports connected clients across all tenants.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
