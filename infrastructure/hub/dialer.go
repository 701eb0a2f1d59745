// Package hub connects to the push endpoint over websocket and speaks
// the JSON hub protocol on top of it.
package hub

import (
	"cinematch/contract"
	"cinematch/errors"
	"cinematch/protocol"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultReadTimeout      = 30 * time.Second
	DefaultPingPeriod       = 15 * time.Second
)

type DialerConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingPeriod       time.Duration
}

// Dialer opens authenticated hub connections. It implements contract.ConnectionFactory.
type Dialer struct {
	config DialerConfig
	log    *slog.Logger
	ws     *websocket.Dialer
}

func NewDialer(config DialerConfig, log *slog.Logger) *Dialer {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.PingPeriod <= 0 {
		config.PingPeriod = DefaultPingPeriod
	}
	return &Dialer{
		config: config,
		log:    log,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context) (contract.Connection, error) {
	endpoint, err := d.endpoint()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.config.Token)
	ws, resp, err := d.ws.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %w", errors.ErrConnection, d.config.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", errors.ErrConnection, d.config.URL, err)
	}

	rest, err := d.handshake(ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	conn := newConn(ws, d.log, d.config.ReadTimeout, d.config.PingPeriod)
	if len(rest) > 0 {
		conn.buffer(rest)
	}
	go conn.writePump()
	return conn, nil
}

func (d *Dialer) handshake(ws *websocket.Conn) ([]byte, error) {
	deadline := time.Now().Add(d.config.HandshakeTimeout)
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, protocol.HandshakeRequest()); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHandshake, err)
	}
	_ = ws.SetReadDeadline(deadline)
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHandshake, err)
	}
	_ = ws.SetWriteDeadline(time.Time{})
	return protocol.ParseHandshakeResponse(frame)
}

// endpoint maps an http(s) hub url onto ws(s) and adds the access token.
func (d *Dialer) endpoint() (string, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return "", fmt.Errorf("%w: hub url: %w", errors.ErrConnection, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("access_token", d.config.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
