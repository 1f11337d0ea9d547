package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 15 * time.Second
)

// WebsocketDialer is the production Dialer. The zero value is usable.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string, h Handler) (Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	wsDialer := websocket.Dialer{HandshakeTimeout: handshake}
	conn, _, err := wsDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	wc := &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go wc.readPump(h)
	return wc, nil
}

// wsConn serializes writes with a mutex; gorilla/websocket permits at most
// one concurrent writer per connection.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) readPump(h Handler) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeOnce.Do(func() {
				close(c.done)
				_ = c.conn.Close()
			})
			h.HandleClose(err)
			return
		}
		h.HandleMessage(data)
	}
}
