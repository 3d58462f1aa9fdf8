package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// writeWait bounds every outbound write, control frames included.
	writeWait = 10 * time.Second

	// handshakeTimeout guards half-open sockets during the upgrade.
	handshakeTimeout = 10 * time.Second

	// sendQueueSize bounds the per-connection outbound queue. On
	// saturation new signals are dropped and counted instead of
	// blocking the sender.
	sendQueueSize = 32
)

// Client is one attached endpoint: the socket, its outbound queue, token
// bucket, liveness flag, and idle timer. The socket is owned exclusively
// by its supervisor; other supervisors reach it only through enqueue.
type Client struct {
	code      string
	ip        string
	createdAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	alive   atomic.Bool

	closeOnce sync.Once
	reason    string // written once inside closeOnce, read after done closes

	idleMu sync.Mutex
	idle   *time.Timer
}

func newClient(code, ip string, conn *websocket.Conn, msgRate float64, burst int) *Client {
	c := &Client{
		code:      code,
		ip:        ip,
		createdAt: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		limiter:   rate.NewLimiter(rate.Limit(msgRate), burst),
	}
	c.alive.Store(true)
	return c
}

// enqueue hands a message to the write pump without blocking. Returns
// false when the connection is closed or the queue is saturated; the
// caller counts the drop.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writePump is the single writer for data frames on this socket. It
// drains the queue in FIFO order, which is what guarantees the welcome
// message precedes any relayed envelope.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// The socket is gone; the read loop observes the same
				// failure and runs teardown.
				return
			}
		}
	}
}

// shutdown closes the connection exactly once. When negotiate is true a
// close frame with the given code and reason is sent first; heartbeat
// evictions and already-dead sockets skip the frame.
func (c *Client) shutdown(closeCode int, reason string, negotiate bool) {
	c.closeOnce.Do(func() {
		c.reason = reason
		c.cancelIdle()
		if negotiate {
			msg := websocket.FormatCloseMessage(closeCode, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

// armIdle starts the one-shot idle timer. Fires only if no valid
// signaling message arrives within the window.
func (c *Client) armIdle(d time.Duration) {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	c.idle = time.AfterFunc(d, func() {
		c.shutdown(websocket.CloseNormalClosure, "idle", true)
	})
}

// cancelIdle stops the idle timer permanently. Called on the first valid
// signaling message; the timer is never rearmed.
func (c *Client) cancelIdle() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}
