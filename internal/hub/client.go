package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientOptions tunes the websocket transport of a single client.
type ClientOptions struct {
	SendBuffer     int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		SendBuffer:     256,
		MaxMessageSize: 64 << 10,
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// Client is the websocket side of one session. It implements Conn.
type Client struct {
	ctx       context.Context
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	sendMu    sync.Mutex
	stopped   bool
	sessionID string
	username  string
	opts      ClientOptions
	onMessage func([]byte)
	onClose   func()
}

func NewClient(
	ctx context.Context,
	conn *websocket.Conn,
	sessionID, username string,
	opts ClientOptions,
	onMessage func([]byte),
	onClose func(),
) *Client {
	defaults := DefaultClientOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	return &Client{
		ctx:       ctx,
		conn:      conn,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		sessionID: sessionID,
		username:  username,
		opts:      opts,
		onMessage: onMessage,
		onClose:   onClose,
	}
}

// Send queues a frame for the write pump. A client whose queue is full is
// closed, since it is not keeping up. Frames accepted before Close are still
// written before the close frame; once the socket fails delivery is best
// effort.
func (c *Client) Send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.stopped {
		return ErrConnClosed
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		slog.Warn("send queue full, closing client", "session_id", c.sessionID)
		c.Close()
		return ErrSendQueueFull
	}
}

// Close stops the write pump, which in turn closes the websocket. It is safe
// to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) ReadPump() {
	defer func() {
		c.Close()
		if c.onClose != nil {
			c.onClose()
		}
		_ = c.conn.Close()
	}()

	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// If the loop is ending due to shutdown, don't log it as an error.
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("websocket error", "session_id", c.sessionID, "username", c.username, "error", err)
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.stop()
		if err := c.conn.Close(); err != nil {
			slog.Debug("websocket already closed", "session_id", c.sessionID, "error", err)
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			c.writeClose(websocket.CloseGoingAway)
			return
		case <-c.done:
			c.flush()
			c.writeClose(websocket.CloseNormalClosure)
			return
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("websocket write failed", "session_id", c.sessionID, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// stop refuses further frames and returns whatever is still queued.
func (c *Client) stop() [][]byte {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.stopped = true

	var pending [][]byte
	for {
		select {
		case message := <-c.send:
			pending = append(pending, message)
		default:
			return pending
		}
	}
}

// flush writes the frames still queued at close within one write deadline.
func (c *Client) flush() {
	pending := c.stop()
	if len(pending) == 0 {
		return
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return
	}
	for _, message := range pending {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			slog.Debug("dropping queued frames on close", "session_id", c.sessionID, "error", err)
			return
		}
	}
}

func (c *Client) extendReadDeadline() {
	if c.opts.PongWait <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		slog.Debug("failed to set read deadline", "session_id", c.sessionID, "error", err)
	}
}

func (c *Client) writeClose(code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
}
