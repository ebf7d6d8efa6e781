package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is one full-duplex message connection. *websocket.Conn satisfies it.
// ReadMessage is called from a single goroutine; the Session serializes
// WriteMessage calls per socket.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the AI socket for a provisioned URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Provisioner exchanges an agent id for a short-lived AI connection URL.
type Provisioner interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

const defaultWriteTimeout = 10 * time.Second

type connSocket struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

// WrapConn adapts a gorilla connection, refreshing the read deadline before
// every read when readTimeout is positive.
func WrapConn(conn *websocket.Conn, readTimeout time.Duration) Socket {
	return &connSocket{conn: conn, readTimeout: readTimeout}
}

func (c *connSocket) ReadMessage() (int, []byte, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.conn.ReadMessage()
}

func (c *connSocket) WriteMessage(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *connSocket) Close() error {
	return c.conn.Close()
}

// isNormalClose reports whether err is an orderly end of a socket rather
// than a transport failure.
func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
