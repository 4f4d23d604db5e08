package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/feedback-ai/internal/feedback"
	"github.com/ashureev/feedback-ai/internal/session"
	"github.com/coder/websocket"
)

// wsRequest is one client frame. Type is "respond", "revise" or "ping".
type wsRequest struct {
	Type          string `json:"type"`
	Review        string `json:"review,omitempty"`
	Username      string `json:"username,omitempty"`
	Modifications string `json:"modifications,omitempty"`
	SessionKey    string `json:"session_key,omitempty"`
	HistoryWindow int    `json:"history_window,omitempty"`
}

// wsMessage is one server frame.
type wsMessage struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RespondWebSocket handles GET /ws/respond. The connection carries a
// sequence of requests; each reply streams back as chunk frames followed by
// a done or error frame. Requests on one connection run one at a time.
func (h *Handler) RespondWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r.Header.Get("Origin")) {
		slog.Warn("WebSocket origin rejected", "origin", r.Header.Get("Origin"))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.maxBody)

	ctx := r.Context()
	connKey := r.Header.Get(session.KeyHeader)
	slog.Info("WebSocket connection established", "ip", r.RemoteAddr)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if writeErr := writeWS(ctx, ws, wsMessage{Type: "error", Error: "invalid JSON frame"}); writeErr != nil {
				return
			}
			continue
		}
		if req.SessionKey == "" {
			req.SessionKey = connKey
		}

		done, err := h.serveFrame(ctx, ws, req)
		if err != nil {
			slog.Debug("WebSocket write error", "error", err)
			return
		}
		if done != "" {
			connKey = done
		}
	}
}

// serveFrame handles one request and returns the session key it used.
// A non-nil error means the connection is no longer writable.
func (h *Handler) serveFrame(ctx context.Context, ws *websocket.Conn, req wsRequest) (string, error) {
	key := req.SessionKey
	if key == "" && req.Type != "revise" {
		key = session.NewKey()
	}
	if key != "" {
		clean, ok := session.SanitizeKey(key)
		if !ok {
			return "", writeWS(ctx, ws, wsMessage{Type: "error", Error: "invalid session_key"})
		}
		key = clean
	}

	onChunk := func(text string) error {
		return writeWS(ctx, ws, wsMessage{Type: "chunk", Content: text})
	}

	var (
		res *feedback.ReplyResult
		err error
	)
	switch req.Type {
	case "ping":
		return "", writeWS(ctx, ws, wsMessage{Type: "pong"})
	case "", "respond":
		res, err = h.svc.Reply(ctx, feedback.ReplyRequest{
			SessionKey: key,
			Review:     req.Review,
			Username:   req.Username,
			Window:     req.HistoryWindow,
			OnChunk:    onChunk,
		})
	case "revise":
		res, err = h.svc.Revise(ctx, feedback.ReviseRequest{
			SessionKey:    key,
			Modifications: req.Modifications,
			Window:        req.HistoryWindow,
			OnChunk:       onChunk,
		})
	default:
		return "", writeWS(ctx, ws, wsMessage{Type: "error", Error: "unknown message type " + req.Type})
	}

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := err.Error()
		if statusFor(err) == http.StatusInternalServerError {
			msg = "internal error"
		}
		slog.Warn("WebSocket request failed", "session_key", key, "error", err)
		return key, writeWS(ctx, ws, wsMessage{Type: "error", SessionKey: key, Error: msg})
	}
	return res.SessionKey, writeWS(ctx, ws, wsMessage{
		Type:       "done",
		Content:    res.Response,
		SessionKey: res.SessionKey,
		Warning:    res.Warning,
	})
}

func writeWS(ctx context.Context, ws *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
