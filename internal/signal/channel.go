package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Channel is one open transport to a room-scoped signaling endpoint.
// It does not reconnect itself; when the transport drops it transitions to
// closed and the Incoming channel is closed. Retry policy belongs to the
// session controller.
type Channel struct {
	conn     *websocket.Conn
	room     domain.RoomID
	incoming chan Envelope
	outgoing chan Envelope
	done     chan struct{}

	mu        sync.Mutex
	open      bool
	closeOnce sync.Once
	reason    error
}

// Open dials {endpoint}/ws/meetings/{room}?token={token} and starts the read
// and write pumps. The returned channel is open until the transport drops or
// Close is called.
func Open(ctx context.Context, endpoint string, room domain.RoomID, token string) (*Channel, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: bad endpoint: %v", domain.ErrConnection, err)
	}
	u.Path, err = url.JoinPath(u.Path, "ws", "meetings", string(room))
	if err != nil {
		return nil, fmt.Errorf("%w: bad room path: %v", domain.ErrConnection, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	c := &Channel{
		conn:     conn,
		room:     room,
		incoming: make(chan Envelope, 32),
		outgoing: make(chan Envelope, 32),
		done:     make(chan struct{}),
		open:     true,
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	log.Info().Str("module", "signal").Str("room", string(room)).Msg("channel open")
	return c, nil
}

// Send queues an envelope for delivery. If the channel is not open the
// envelope is dropped with a log line, not queued: callers must not assume
// delivery while the transport is down.
func (c *Channel) Send(env Envelope) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("send on closed channel dropped")
		return
	}
	env.RoomID = c.room
	select {
	case c.outgoing <- env:
	case <-c.done:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("send on closing channel dropped")
	}
}

// Incoming delivers parsed envelopes in the order the transport produced
// them. The channel is closed when the transport closes for any reason.
func (c *Channel) Incoming() <-chan Envelope { return c.incoming }

// Room returns the room this channel is scoped to.
func (c *Channel) Room() domain.RoomID { return c.room }

// CloseReason reports why the channel closed, nil for a local Close.
func (c *Channel) CloseReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Close shuts the transport down. Safe to call more than once.
func (c *Channel) Close() { c.shutdown(nil) }

func (c *Channel) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Channel) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// local close, not a transport failure
			default:
				log.Warn().Err(err).Str("module", "signal").Str("room", string(c.room)).Msg("transport closed")
				c.shutdown(fmt.Errorf("%w: %v", domain.ErrConnection, err))
			}
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("write error")
				c.shutdown(fmt.Errorf("%w: %v", domain.ErrConnection, err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("%w: %v", domain.ErrConnection, err))
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
