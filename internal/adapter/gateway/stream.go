package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/usecase"
)

// sendTimeout bounds a single frame write to a slow client.
const sendTimeout = 10 * time.Second

// defaultOriginPatterns allow local development front ends.
var defaultOriginPatterns = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := usecase.ValidateSessionID(sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts, err := streamOptions(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Live.Exists(sessionID) {
		s.writeError(w, r, domain.NewDomainError("gateway.handleStream", domain.ErrSessionExists,
			fmt.Sprintf("Session %s is already connected", sessionID)))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	conn := newWSClientConn(ws, s.logger.With("session_id", sessionID))
	err = s.deps.Live.Serve(r.Context(), sessionID, opts, conn)
	switch {
	case err == nil:
		ws.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, domain.ErrSessionExists):
		ws.Close(websocket.StatusPolicyViolation, "session already connected")
	default:
		s.logger.Warn("stream ended with error", "session_id", sessionID, "error", err)
		ws.Close(websocket.StatusInternalError, closeReason(err))
	}
}

// streamOptions parses the is_audio and audio_input_only flags.
func streamOptions(q url.Values) (usecase.StreamOptions, error) {
	var opts usecase.StreamOptions
	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"is_audio", &opts.IsAudio},
		{"audio_input_only", &opts.AudioInputOnly},
	} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, domain.NewDomainError("gateway.streamOptions", domain.ErrInvalidInput,
				fmt.Sprintf("%s must be a boolean, got %q", f.name, v))
		}
		*f.dst = b
	}
	return opts, nil
}

// originPatterns converts allowed origins into websocket host patterns.
func originPatterns(allowed []string) []string {
	if len(allowed) == 0 {
		return defaultOriginPatterns
	}
	out := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// closeReason truncates err to fit a close frame.
func closeReason(err error) string {
	const maxReason = 120
	msg := errorDetail(err)
	if len(msg) > maxReason {
		msg = msg[:maxReason]
	}
	return msg
}

// wsClientConn adapts a websocket to usecase.ClientConn. Frames are JSON in
// either text or binary messages.
type wsClientConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

func newWSClientConn(ws *websocket.Conn, logger *slog.Logger) *wsClientConn {
	return &wsClientConn{ws: ws, logger: logger}
}

// Receive returns the next well-formed client frame. Malformed frames are
// answered with an error frame and skipped.
func (c *wsClientConn) Receive(ctx context.Context) (domain.ClientMessage, error) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return domain.ClientMessage{}, domain.NewSubSystemError("gateway", "wsClientConn.Receive", domain.ErrTransportClosed, err.Error())
		}

		var msg domain.ClientMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			return msg, nil
		}
		c.logger.Warn("malformed client frame", "bytes", len(data))
		if err := c.Send(ctx, domain.ErrorMessage("malformed message: expected JSON {mime_type, data}")); err != nil {
			return domain.ClientMessage{}, err
		}
	}
}

func (c *wsClientConn) Send(ctx context.Context, msg domain.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, msg.Wire()); err != nil {
		return domain.NewSubSystemError("gateway", "wsClientConn.Send", domain.ErrTransportClosed, err.Error())
	}
	return nil
}

var _ usecase.ClientConn = (*wsClientConn)(nil)
