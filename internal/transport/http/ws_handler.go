package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"classpace-sync-service/internal/app"
	"classpace-sync-service/internal/domain"
	"classpace-sync-service/internal/registry"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type WSHandler struct {
	service  *app.SyncService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SyncService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the sync
// engine. The first envelope on every new connection is the full snapshot;
// the engine enqueues it during Connect, before any delta can fan out.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	role := domain.Role(q.Get("role"))
	studentID := q.Get("studentId")
	displayName := q.Get("name")
	deviceType := q.Get("device")
	if sessionID == "" || !role.Valid() {
		http.Error(w, "missing or invalid sessionId/role", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	actor := domain.Actor{Role: role, StudentID: studentID}
	conn, _, err := h.service.Connect(sessionID, actor, displayName, deviceType)
	if err != nil {
		_ = ws.WriteJSON(errorEnvelope(err))
		return
	}
	defer h.service.Disconnect(conn)

	writerDone := make(chan struct{})
	go h.writeLoop(ws, conn, writerDone)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := ws.ReadJSON(&inbound); err != nil {
			log.Printf("DEBUG read err: %v", err)
			break
		}
		log.Printf("DEBUG inbound type=%q payload=%s", inbound.Type, inbound.Payload)
		evt, err := domain.ParseClientEvent(inbound.Type, inbound.Payload)
		if err != nil {
			h.service.Registry().Deliver(conn, errorEnvelope(err))
			continue
		}
		fo, err := h.service.Dispatch(r.Context(), sessionID, conn, actor, evt)
		log.Printf("DEBUG dispatch err=%v fanouts=%d", err, len(fo))
		if err != nil {
			// Rejections stay local to the actor; nothing was mutated or
			// broadcast.
			h.service.Registry().Deliver(conn, errorEnvelope(err))
			continue
		}
	}

	conn.Close()
	<-writerDone
}

// writeLoop is the single writer for one socket: it drains the outbox the
// registry fills and keeps the heartbeat going.
func (h *WSHandler) writeLoop(ws *websocket.Conn, conn *registry.Conn, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-conn.Outbox():
			log.Printf("DEBUG writeLoop got %s", env.Type)
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(env); err != nil {
				log.Printf("ws write error: %v", err)
				h.service.Disconnect(conn)
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.service.Disconnect(conn)
				_ = ws.Close()
				return
			}
		case <-conn.Closed():
			_ = ws.Close()
			return
		}
	}
}

func errorEnvelope(err error) domain.Envelope {
	return domain.Envelope{
		Type: domain.EventError,
		Payload: domain.ErrorPayload{
			Code:    domain.ErrorCode(err),
			Message: err.Error(),
		},
	}
}
