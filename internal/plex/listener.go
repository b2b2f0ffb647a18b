package plex

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Minute
)

// Listener maintains a WebSocket connection to the Plex notification
// feed and hands every raw message to the configured handler.
type Listener struct {
	client  *Client
	handler func(raw []byte)
	alive   atomic.Bool
}

// NewListener creates a listener on the given client's server. The
// handler is called from the read loop and must not block.
func NewListener(client *Client, handler func(raw []byte)) *Listener {
	return &Listener{client: client, handler: handler}
}

// Alive reports whether the notification feed is currently connected.
func (l *Listener) Alive() bool {
	return l.alive.Load()
}

// Run connects to the notification feed and blocks until the context
// is cancelled, reconnecting with exponential backoff on any
// connection loss.
func (l *Listener) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().
			Err(err).
			Dur("backoff", backoff).
			Msg("Plex WebSocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// listenOnce establishes a single WebSocket connection and reads
// messages until the connection drops or the context is cancelled.
// Plex does not handle standard WebSocket ping frames, so none are
// sent; the server's own notifications keep the connection alive.
func (l *Listener) listenOnce(ctx context.Context) error {
	wsURL, err := l.buildWebSocketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("WebSocket dial failed: %w", err)
	}
	defer conn.Close()

	log.Info().Msg("Connected to Plex notification feed")
	l.alive.Store(true)
	defer l.alive.Store(false)

	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			l.handler(message)
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return ctx.Err()
	case err := <-readErrCh:
		return err
	}
}

func (l *Listener) buildWebSocketURL() (string, error) {
	parsed, err := url.Parse(l.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/:/websockets/notifications"

	q := parsed.Query()
	q.Set("X-Plex-Token", l.client.token)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}
