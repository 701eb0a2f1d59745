package hub

import (
	"bytes"
	"cinematch/errors"
	"cinematch/protocol"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type fakeHub struct {
	t         *testing.T
	handshake string
	tokens    chan string
	received  chan []byte
	push      chan []byte
}

func newFakeHub(t *testing.T, handshake string) *fakeHub {
	return &fakeHub{
		t:         t,
		handshake: handshake,
		tokens:    make(chan string, 1),
		received:  make(chan []byte, 16),
		push:      make(chan []byte, 16),
	}
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	h.tokens <- r.URL.Query().Get("access_token")
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(h.handshake)); err != nil {
		return
	}

	go func() {
		for msg := range h.push {
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.received <- frame
	}
}

func startHub(t *testing.T, h *fakeHub) *httptest.Server {
	router := chi.NewRouter()
	router.Get("/chathub", h.serve)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newTestDialer(url string) *Dialer {
	return NewDialer(DialerConfig{
		URL:              url + "/chathub",
		Token:            "secret",
		HandshakeTimeout: time.Second,
		PingPeriod:       time.Hour,
	}, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func encode(t *testing.T, r protocol.Record) []byte {
	b, err := protocol.Encode(r)
	require.NoError(t, err)
	return b
}

func TestDialer_Dial(t *testing.T) {
	t.Run("Should receive the records pushed after the handshake", func(t *testing.T) {
		req := require.New(t)
		// Given a hub that pushes a mutual match right after accepting the connection
		h := newFakeHub(t, "{}\x1e")
		server := startHub(t, h)
		invocation, err := protocol.NewInvocation("", protocol.TargetMutualMatch, map[string]any{"roomId": "room-1"})
		req.NoError(err)
		h.push <- encode(t, invocation)

		// When the client dials
		conn, err := newTestDialer(server.URL).Dial(context.Background())
		req.NoError(err)
		defer conn.Close()

		// Then the token travels in the query and the record is delivered
		req.Equal("secret", <-h.tokens)
		record, err := conn.Receive()
		req.NoError(err)
		req.Equal(protocol.TypeInvocation, record.Type)
		req.Equal(protocol.TargetMutualMatch, record.Target)
	})

	t.Run("Should deliver records that shared the handshake frame", func(t *testing.T) {
		req := require.New(t)
		// Given a hub that packs a ping behind its handshake response
		h := newFakeHub(t, "{}\x1e{\"type\":6}\x1e")
		server := startHub(t, h)

		// When the client dials
		conn, err := newTestDialer(server.URL).Dial(context.Background())
		req.NoError(err)
		defer conn.Close()

		// Then the ping is the first record received
		record, err := conn.Receive()
		req.NoError(err)
		req.Equal(protocol.TypePing, record.Type)
	})

	t.Run("Should write records sent by the client", func(t *testing.T) {
		req := require.New(t)
		// Given a connected client
		h := newFakeHub(t, "{}\x1e")
		server := startHub(t, h)
		conn, err := newTestDialer(server.URL).Dial(context.Background())
		req.NoError(err)
		defer conn.Close()

		// When it invokes JoinRoom
		invocation, err := protocol.NewInvocation("1", protocol.TargetJoinRoom, "room-1")
		req.NoError(err)
		req.NoError(conn.Send(context.Background(), invocation))

		// Then the hub reads a single terminated record
		select {
		case frame := <-h.received:
			req.True(bytes.HasSuffix(frame, []byte{protocol.RecordSeparator}))
			records, err := protocol.Decode(frame)
			req.NoError(err)
			req.Len(records, 1)
			req.Equal(protocol.TargetJoinRoom, records[0].Target)
			req.Equal("1", records[0].InvocationID)
		case <-time.After(2 * time.Second):
			req.Fail("hub received nothing")
		}
	})

	t.Run("Should fail with a handshake error when the hub refuses the protocol", func(t *testing.T) {
		req := require.New(t)
		// Given a hub answering the handshake with an error
		h := newFakeHub(t, "{\"error\":\"unsupported protocol\"}\x1e")
		server := startHub(t, h)

		// When the client dials
		_, err := newTestDialer(server.URL).Dial(context.Background())

		// Then the failure is a handshake error
		req.ErrorIs(err, errors.ErrHandshake)
		req.Contains(err.Error(), "unsupported protocol")
	})

	t.Run("Should fail with a connection error when nothing listens", func(t *testing.T) {
		req := require.New(t)
		// Given a server that is already gone
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		// When the client dials
		_, err := newTestDialer(url).Dial(context.Background())

		// Then the failure is a connection error
		req.ErrorIs(err, errors.ErrConnection)
	})

	t.Run("Should refuse to send once closed", func(t *testing.T) {
		req := require.New(t)
		// Given a closed connection
		h := newFakeHub(t, "{}\x1e")
		server := startHub(t, h)
		conn, err := newTestDialer(server.URL).Dial(context.Background())
		req.NoError(err)
		req.NoError(conn.Close())
		req.NoError(conn.Close())

		// When sending
		err = conn.Send(context.Background(), protocol.Ping())

		// Then the connection error surfaces
		req.ErrorIs(err, errors.ErrConnection)
	})
}

func TestDialer_endpoint(t *testing.T) {
	t.Run("Should switch http schemes to websocket schemes", func(t *testing.T) {
		req := require.New(t)
		for in, scheme := range map[string]string{
			"http://localhost:5000/chathub":   "ws://",
			"https://api.example.com/chathub": "wss://",
		} {
			d := NewDialer(DialerConfig{URL: in, Token: "a b"}, logs.GetLoggerFromLevel(slog.LevelDebug))
			endpoint, err := d.endpoint()
			req.NoError(err)
			req.True(strings.HasPrefix(endpoint, scheme), endpoint)
			req.Contains(endpoint, "access_token=a+b")
		}
	})
}
