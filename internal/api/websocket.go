package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/heic-converter/backend/internal/models"
)

// WebSocket message types for the conversion-progress protocol
const (
	// Client -> Server messages
	MsgTypeSubscribe = "convert:subscribe"
	MsgTypePing      = "ping"

	// Server -> Client messages
	MsgTypeProgress = "progress"
	MsgTypeComplete = "complete"
	MsgTypeError    = "error"
	MsgTypePong     = "pong"
)

// WSMessage is the envelope for all WebSocket traffic.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SubscribePayload selects the session to observe.
type SubscribePayload struct {
	SessionID string `json:"sessionId"`
}

// WSProgressResponse carries one progress update.
type WSProgressResponse struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId"`
	Status    models.ConvertStatus   `json:"status"`
	Progress  float64                `json:"progress"`
	Session   *models.ConvertSession `json:"session,omitempty"`
}

// WSErrorResponse reports a protocol or session error.
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes conversion progress to subscribed clients.
type WebSocketHandler struct {
	handler  *Handler
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocket progress handler.
func NewWebSocketHandler(h *Handler) *WebSocketHandler {
	return &WebSocketHandler{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// HandleWebSocket upgrades the connection and serves the progress protocol.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Println("[WebSocket] Client connected for conversion progress")

	wsh.send(ws, WSMessage{Type: "connected", Timestamp: time.Now().UnixMilli()})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[WebSocket] Connection error: %v\n", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			wsh.send(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeSubscribe:
			wsh.streamProgress(ws, msg)
		default:
			wsh.sendError(ws, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	fmt.Println("[WebSocket] Client disconnected")
	return nil
}

// streamProgress pushes progress updates for one session until it finishes.
// Runs on the connection's read loop; a connection observes one conversion
// at a time.
func (wsh *WebSocketHandler) streamProgress(ws *websocket.Conn, msg WSMessage) {
	var payload SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		wsh.sendError(ws, "Invalid subscribe payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	sess, ok := wsh.handler.session.Get(payload.SessionID)
	if !ok {
		wsh.sendError(ws, "Session not found: "+payload.SessionID, "SESSION_NOT_FOUND")
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		sess, ok = wsh.handler.session.Get(payload.SessionID)
		if !ok {
			wsh.sendError(ws, "Session not found: "+payload.SessionID, "SESSION_NOT_FOUND")
			return
		}

		if sess.Progress != lastProgress {
			lastProgress = sess.Progress
			if err := ws.WriteJSON(WSProgressResponse{
				Type:      MsgTypeProgress,
				SessionID: payload.SessionID,
				Status:    sess.Status,
				Progress:  sess.Progress,
			}); err != nil {
				return
			}
		}

		if sess.Status == models.StatusComplete || sess.Status == models.StatusError {
			msgType := MsgTypeComplete
			if sess.Status == models.StatusError {
				msgType = MsgTypeError
			}
			ws.WriteJSON(WSProgressResponse{
				Type:      msgType,
				SessionID: payload.SessionID,
				Status:    sess.Status,
				Progress:  sess.Progress,
				Session:   &sess,
			})
			return
		}

		<-ticker.C
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msg WSMessage) {
	if err := ws.WriteJSON(msg); err != nil {
		fmt.Printf("[WebSocket] Failed to send message: %v\n", err)
	}
}

func (wsh *WebSocketHandler) sendError(ws *websocket.Conn, message, code string) {
	wsh.send(ws, WSMessage{Type: MsgTypeError, Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{Type: MsgTypeError, Message: message, Code: code})})
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
