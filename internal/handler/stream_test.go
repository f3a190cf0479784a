package handler

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamMessage struct {
	Type string
	Data string
}

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg streamMessage
	require.NoError(t, jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			v, err := d.Str()
			msg.Type = v
			return err
		case "data":
			raw, err := d.Raw()
			msg.Data = raw.String()
			return err
		default:
			return d.Skip()
		}
	}))
	return msg
}

// readUntil reads messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(streamMessage) bool) streamMessage {
	t.Helper()
	for range 50 {
		if msg := readStream(t, conn); match(msg) {
			return msg
		}
	}
	t.Fatal("no matching stream message")
	return streamMessage{}
}

func TestStream_InitialSnapshotsAndQuery(t *testing.T) {
	srv, _ := newTestServer(t, 15)
	id := createSession(t, srv)
	conn := dialStream(t, srv.URL+"/api/sessions/"+id+"/stream?view=list")

	first := readStream(t, conn)
	assert.Equal(t, "suggestions", first.Type)
	second := readStream(t, conn)
	assert.Equal(t, "feed", second.Type)
	assert.Equal(t, `"list"`, field(t, []byte(second.Data), "view"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"query","data":"tele"}`)))
	msg := readUntil(t, conn, func(m streamMessage) bool {
		return m.Type == "suggestions" && field(t, []byte(m.Data), "products") != "[]"
	})
	assert.Equal(t, `"tele"`, field(t, []byte(msg.Data), "query"))
	assert.Contains(t, field(t, []byte(msg.Data), "shops"), `"slug":"telecom-hub"`)
}

func TestStream_CommandsDriveFeed(t *testing.T) {
	srv, _ := newTestServer(t, 23)
	id := createSession(t, srv)
	waitFeedStatus(t, srv, id, "idle")
	conn := dialStream(t, srv.URL+"/api/sessions/"+id+"/stream")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"visible","data":true}`)))
	msg := readUntil(t, conn, func(m streamMessage) bool {
		return m.Type == "feed" && field(t, []byte(m.Data), "status") == `"exhausted"`
	})
	assert.Equal(t, "23", field(t, []byte(msg.Data), "loaded"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"filter","data":{"search":"x"}}`)))
	msg = readUntil(t, conn, func(m streamMessage) bool { return m.Type == "feed" })
	assert.Equal(t, `"loading_first"`, field(t, []byte(msg.Data), "status"))
	assert.Equal(t, "0", field(t, []byte(msg.Data), "loaded"))
}

func TestStream_SelectEmitsNavigate(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	id := createSession(t, srv)
	conn := dialStream(t, srv.URL+"/api/sessions/"+id+"/stream")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"select","data":{"kind":"category","id":"2","slug":"phones"}}`)))
	msg := readUntil(t, conn, func(m streamMessage) bool { return m.Type == "navigate" })
	assert.JSONEq(t, `{"kind":"category","id":"2","slug":"phones"}`, msg.Data)
}

func TestStream_BadCommand(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	id := createSession(t, srv)
	conn := dialStream(t, srv.URL+"/api/sessions/"+id+"/stream")

	for _, payload := range []string{
		`{"type":"dance","data":1}`,
		`{"type":"query"}`,
		`not json`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
		msg := readUntil(t, conn, func(m streamMessage) bool { return m.Type == "error" })
		assert.Equal(t, "400", field(t, []byte(msg.Data), "code"), payload)
	}
}

func TestStream_ClosesWithSession(t *testing.T) {
	srv, m := newTestServer(t, 1)
	id := createSession(t, srv)
	conn := dialStream(t, srv.URL+"/api/sessions/"+id+"/stream")
	readStream(t, conn)

	require.NoError(t, m.Delete(id))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
			return
		}
	}
}

func TestStream_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/sessions/nope/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
