package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lukassw/canvashub/internal/auth"
	"github.com/lukassw/canvashub/internal/canvas"
)

// errProtocol marks a client protocol violation (bad handshake).
var errProtocol = errors.New("protocol violation")

// registerFrame is the required first client frame, carrying the
// client-chosen session id.
type registerFrame struct {
	Session string `json:"session"`
}

// WSHandler upgrades connections and runs one session loop per socket. Each
// loop multiplexes inbound client frames, the coordinator-fed outbound
// queue, and a heartbeat timer.
type WSHandler struct {
	coordinator canvas.Handle
	heartbeat   time.Duration
	timeout     time.Duration
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(coordinator canvas.Handle, heartbeat, timeout time.Duration, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		coordinator: coordinator,
		heartbeat:   heartbeat,
		timeout:     timeout,
		log:         logger,
	}
}

// session is the per-connection state shared between the read and write
// loops. sessionID is written only by the read loop; the parent goroutine
// reads it after both loops have exited.
type session struct {
	canvasID  string
	userID    string
	username  string
	sessionID string
	outbound  *canvas.Outbound
}

// Serve handles GET /ws/:canvas_id.
func (h *WSHandler) Serve(c *gin.Context) {
	canvasID := c.Param("canvas_id")
	claims := c.MustGet(ContextKeyClaims).(*auth.Claims)

	if !hasCanvasClaim(claims, canvasID) {
		c.JSON(403, ErrorResponse{Error: "no access to canvas"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sess := &session{
		canvasID: canvasID,
		userID:   c.GetString(ContextKeyUserID),
		username: c.GetString(ContextKeyUsername),
		outbound: canvas.NewOutbound(),
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	// A session that completed registration owes the coordinator exactly
	// one Disconnect, whatever the termination path was.
	if sess.sessionID != "" {
		h.coordinator.Disconnect(sess.canvasID, sess.userID, sess.sessionID)
	}

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
		if errors.Is(err, errProtocol) {
			status = websocket.StatusProtocolError
			reason = "protocol violation"
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).
				Str("canvas", sess.canvasID).
				Str("user", sess.userID).
				Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// readLoop consumes client frames. The first frame must be the session
// registration handshake; every later text frame forwards verbatim to the
// coordinator. Submit blocks until the coordinator has handled the frame,
// which paces a fast sender to the coordinator's speed.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.log.Warn().Str("user", sess.userID).Msg("unexpected binary message")
			continue
		}

		if sess.sessionID == "" {
			var reg registerFrame
			if err := json.Unmarshal(data, &reg); err != nil || reg.Session == "" {
				h.log.Warn().
					Str("canvas", sess.canvasID).
					Str("user", sess.userID).
					Msg("invalid session registration frame")
				return fmt.Errorf("%w: first frame must register a session", errProtocol)
			}
			sess.sessionID = reg.Session
			h.coordinator.Connect(sess.canvasID, sess.userID, sess.username, sess.sessionID, sess.outbound)
			continue
		}

		h.coordinator.Submit(sess.canvasID, sess.userID, sess.sessionID, strings.TrimSpace(string(data)))
	}
}

// writeLoop drains the session's unbounded outbound queue to the socket and
// keeps the connection liveness-checked. Each heartbeat tick pings the
// client; a ping that is not answered within the client timeout closes the
// connection. Client pings are answered by the websocket library during
// reads.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sess.outbound.Ready():
			for {
				msg, ok := sess.outbound.Pop()
				if !ok {
					break
				}
				if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					h.log.Error().Err(err).Str("user", sess.userID).Msg("write ws event")
					return err
				}
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Info().
					Str("canvas", sess.canvasID).
					Str("user", sess.userID).
					Msg("session timed out")
				return fmt.Errorf("heartbeat: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func hasCanvasClaim(claims *auth.Claims, canvasID string) bool {
	for _, claim := range claims.Canvases {
		if claim.Canvas == canvasID {
			return true
		}
	}
	return false
}
