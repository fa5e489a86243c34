package session

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is the transport capability: one framed, ordered message stream.
// The session core depends only on this, so tests run against an in-memory
// pipe instead of a live socket.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to the host.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	nc net.Conn
	r  io.Reader

	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	return wsutil.ReadServerText(readWriter{c.r, c.nc})
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.nc, data)
}

func (c *wsConn) Close() error {
	return c.nc.Close()
}

type readWriter struct {
	io.Reader
	io.Writer
}

// WebSocketDialer dials the host over a websocket, attaching the bearer
// token when configured.
func WebSocketDialer(token string) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		d := ws.Dialer{}
		if token != "" {
			d.Header = ws.HandshakeHeaderHTTP(http.Header{
				"Authorization": []string{"Bearer " + token},
			})
		}
		nc, br, _, err := d.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		var r io.Reader = nc
		if br != nil {
			// Handshake may leave buffered bytes; drain through the reader.
			r = br
		}
		return &wsConn{nc: nc, r: r}, nil
	}
}
