package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AikioCorp/buy-web-sub002/internal/feed"
	"github.com/AikioCorp/buy-web-sub002/internal/session"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
)

// stream upgrades to a WebSocket that pushes the latest snapshots and every
// navigation intent of the session as {"type": ..., "data": ...}. The client
// may send query, filter, visible and select commands in the same envelope.
// Feed snapshots are projected through the display query values given at
// connect time.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	display, err := parseDisplay(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &streamConn{
		h:       h,
		conn:    conn,
		s:       s,
		sub:     s.Subscribe(),
		display: display,
		replies: make(chan []byte, 8),
		readerr: make(chan struct{}),
		lg:      zctx.From(ctx).With(zap.String("session", s.ID())),
	}
	defer c.sub.Cancel()

	go c.readPump(ctx)
	c.writePump(ctx)
}

type streamConn struct {
	h       *Handler
	conn    *websocket.Conn
	s       *session.Session
	sub     *session.Subscription
	display feed.Display
	replies chan []byte
	readerr chan struct{}
	lg      *zap.Logger
}

func (c *streamConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	// The subscription starts with the current snapshots pending.
	for {
		if !c.drain() {
			return
		}
		select {
		case <-c.sub.Ready():
		case <-c.sub.Done():
			if !c.drain() {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
			return
		case msg := <-c.replies:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.readerr:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain writes every pending session event.
func (c *streamConn) drain() bool {
	for {
		ev, ok := c.sub.Next()
		if !ok {
			return true
		}
		if !c.write(c.envelope(ev)) {
			return false
		}
	}
}

func (c *streamConn) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.lg.Debug("Stream write failed", zap.Error(err))
		return false
	}
	return true
}

func (c *streamConn) readPump(ctx context.Context) {
	defer close(c.readerr)

	c.conn.SetReadLimit(c.h.maxBody)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.lg.Debug("Stream read failed", zap.Error(err))
			}
			return
		}
		if err := c.command(ctx, data); err != nil {
			if errors.Is(err, session.ErrClosed) {
				return
			}
			c.reply(errorEnvelope(err))
		}
	}
}

// command decodes and executes one client message.
func (c *streamConn) command(ctx context.Context, data []byte) error {
	var (
		typ string
		raw jx.Raw
	)
	if err := decodeFields(data, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			typ, err = d.Str()
		case "data":
			raw, err = d.Raw()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return err
	}
	if len(raw) == 0 {
		return badRequest(errors.New("missing data"))
	}

	switch typ {
	case "query":
		text, err := jx.DecodeBytes(raw).Str()
		if err != nil {
			return badRequest(errors.Wrap(err, "decode query"))
		}
		_, err = c.s.Query(ctx, text)
		return err
	case "filter":
		f, err := decodeFilter(raw)
		if err != nil {
			return err
		}
		_, err = c.s.SetFilter(ctx, f)
		return err
	case "visible":
		visible, err := jx.DecodeBytes(raw).Bool()
		if err != nil {
			return badRequest(errors.Wrap(err, "decode visible"))
		}
		return c.s.SetVisible(ctx, visible)
	case "select":
		sug, err := decodeSelection(raw)
		if err != nil {
			return err
		}
		// The intent reaches the client as a navigate event.
		_, err = c.s.Select(ctx, sug)
		return err
	case "retry":
		_, err := c.s.Retry(ctx)
		return err
	default:
		return badRequest(errors.Errorf("unknown message type %q", typ))
	}
}

func (c *streamConn) reply(msg []byte) {
	select {
	case c.replies <- msg:
	default:
		c.lg.Debug("Dropping stream reply")
	}
}

func (c *streamConn) envelope(ev session.Event) []byte {
	return render(func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("type")
		e.Str(ev.Type.String())
		e.FieldStart("data")
		switch ev.Type {
		case session.EventSuggestions:
			c.h.encodeSet(e, ev.Suggestions)
		case session.EventFeed:
			c.h.encodeFeed(e, ev.Feed, c.display)
		case session.EventNavigate:
			encodeIntent(e, ev.Intent)
		default:
			e.Null()
		}
		e.ObjEnd()
	})
}

func errorEnvelope(err error) []byte {
	code := http.StatusInternalServerError
	message := "internal error"
	var bad *badRequestError
	if errors.As(err, &bad) {
		code, message = http.StatusBadRequest, bad.Error()
	}
	return render(func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("type")
		e.Str("error")
		e.FieldStart("data")
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
		e.ObjEnd()
	})
}
