package hub

import (
	"cinematch/errors"
	"cinematch/protocol"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Conn is a hub connection over a websocket, past its handshake.
// Receive must be called from a single goroutine; writes go through writePump.
type Conn struct {
	ws          *websocket.Conn
	log         *slog.Logger
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	pending     []protocol.Record
	readTimeout time.Duration
	pingPeriod  time.Duration
}

func newConn(ws *websocket.Conn, log *slog.Logger, readTimeout, pingPeriod time.Duration) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{
		ws:          ws,
		log:         log,
		send:        make(chan []byte, sendBufferSize),
		closed:      make(chan struct{}),
		readTimeout: readTimeout,
		pingPeriod:  pingPeriod,
	}
}

// Receive returns the next record. Every inbound frame, pings included,
// pushes the read deadline back.
func (c *Conn) Receive() (protocol.Record, error) {
	for len(c.pending) == 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Record{}, err
		}
		c.buffer(frame)
	}
	record := c.pending[0]
	c.pending = c.pending[1:]
	return record, nil
}

func (c *Conn) buffer(frame []byte) {
	records, err := protocol.Decode(frame)
	if err != nil {
		c.log.Warn("Malformed hub frame", "error", err)
	}
	c.pending = append(c.pending, records...)
}

func (c *Conn) Send(ctx context.Context, r protocol.Record) error {
	b, err := protocol.Encode(r)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	select {
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", errors.ErrConnection)
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", errors.ErrConnection)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is safe to call several times and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

// writePump owns every data write on the socket and keeps the hub alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	ping, _ := protocol.Encode(protocol.Ping())
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.Debug("Hub write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				c.log.Debug("Hub ping failed", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(msg []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}
