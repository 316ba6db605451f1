// ABOUTME: One live websocket connection to an agent console.
// ABOUTME: Buffered fire-and-forget sends; a slow consumer drops frames, never blocks the pipeline.

package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flalingo/flamingo/internal/chat"
)

const (
	// sendBuffer is the per-connection queue of undelivered frames.
	sendBuffer = 32

	// writeTimeout bounds one websocket write.
	writeTimeout = 10 * time.Second
)

// Client adapts one websocket connection to the registry's Conn interface.
// Push never blocks the caller: frames queue into a buffered channel drained
// by a single writer goroutine, and overflow drops the frame.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan *chat.Enriched
	logger *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(id string, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan *chat.Enriched, sendBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Push queues a message for delivery. If the client's buffer is full the
// frame is dropped: one stuck console must not stall flushes for everyone.
func (c *Client) Push(msg *chat.Enriched) {
	select {
	case c.send <- msg:
	case <-c.closed:
	default:
		c.logger.Warn("dropping frame for slow connection",
			"connection_id", c.id,
			"conversation_id", msg.ConversationID,
		)
	}
}

// writeLoop drains the send queue onto the websocket. Exits on write error
// or close; the server's read loop handles teardown.
func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(ctx, msg); err != nil {
				c.logger.Debug("write failed, abandoning connection",
					"connection_id", c.id,
					"error", err,
				)
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg *chat.Enriched) error {
	payload, err := json.Marshal(serverEvent{Type: eventMessage, Message: msg})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, payload)
}

// close releases the send queue. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
