package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/gigchat/gigchat/internal/auth"
	"github.com/gigchat/gigchat/internal/realtime"
)

// WSHandler upgrades HTTP connections and bridges them to the hub.
type WSHandler struct {
	hub  *Hub
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *Hub, authService *auth.Service, logger *zerolog.Logger) http.Handler {
	return &WSHandler{hub: hub, auth: authService, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Browsers cannot set headers on websocket dials, so the token rides the
	// query string.
	claims, err := h.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws auth failed")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := newClient(claims.UserID, claims.Username)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *client) error {
	for {
		var env realtime.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		h.handleInbound(client, env)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *client) error {
	for {
		select {
		case env := <-client.events:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				h.log.Error().Err(err).Str("user_id", client.userID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleInbound dispatches one inbound envelope. Malformed payloads are
// logged and dropped; they never tear the connection down.
func (h *WSHandler) handleInbound(client *client, env realtime.Envelope) {
	switch env.Event {
	case realtime.EventAddUser:
		p, err := realtime.DecodeAddUser(env.Data)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", client.userID).Msg("bad addUser payload")
			return
		}
		// The announced id must be the authenticated one; a client cannot
		// impersonate another user.
		if p.UserID != client.userID {
			h.log.Warn().Str("user_id", client.userID).Str("claimed", p.UserID).Msg("addUser id mismatch")
			return
		}
		h.hub.announce(client)

	case realtime.EventJoinRoom:
		p, err := realtime.DecodeJoinRoom(env.Data)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", client.userID).Msg("bad joinRoom payload")
			return
		}
		h.hub.ackJoin(client, p)

	case realtime.EventSendMessage:
		p, err := realtime.DecodeSendMessage(env.Data)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", client.userID).Msg("bad sendMessage payload")
			return
		}
		if p.SenderID != client.userID {
			h.log.Warn().Str("user_id", client.userID).Str("claimed", p.SenderID).Msg("sendMessage sender mismatch")
			return
		}
		h.hub.relayMessage(client, p)

	case realtime.EventTyping:
		p, err := realtime.DecodeTyping(env.Data)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", client.userID).Msg("bad typing payload")
			return
		}
		if p.UserID != client.userID {
			return
		}
		h.hub.relayTyping(p)

	default:
		h.log.Debug().Str("event", env.Event).Str("user_id", client.userID).Msg("unknown inbound event")
	}
}
