package market

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

// Conn is the minimal transport surface the feed needs from a connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer establishes a stream connection. Injected so tests can script
// connection outcomes.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type wsDialer struct {
	url    string
	header http.Header
}

// NewDialer returns a gorilla/websocket backed dialer for the stream URL.
func NewDialer(url string) Dialer {
	return &wsDialer{url: url}
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, errors.Wrap(err, "dial stream")
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
