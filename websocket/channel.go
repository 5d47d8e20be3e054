// Package websocket exposes viewer WebSocket connections as dispatch channels.
package websocket

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	// The header where a viewer sets its client id.
	HeaderClientID = "X-Viewer-Client-Id"

	// The error type returned when a message cannot be sent to a viewer.
	ErrTypeSend = "websocket_send_error"

	// The error type returned when a message cannot be received from a
	// viewer.
	ErrTypeReceive = "websocket_receive_error"
)

// NewChannel returns a channel that sends and receives messages as binary
// WebSocket frames over the given connection.
func NewChannel(conn *websocket.Conn) dispatch.Channel {
	conn.PayloadType = websocket.BinaryFrame

	return &channel{conn: conn}
}

type channel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *channel) Sender() dispatch.Sender {
	return func(msg []byte) (int, error) {
		if err := websocket.Message.Send(c.conn, msg); err != nil {
			return 0, errors.New("sending websocket message failed").
				WithType(ErrTypeSend).
				Wrap(err)
		}
		return len(msg), nil
	}
}

func (c *channel) Receiver() dispatch.Receiver {
	return func() ([]byte, int, error) {
		var msg []byte
		if err := websocket.Message.Receive(c.conn, &msg); err != nil {
			return nil, 0, errors.New("receiving websocket message failed").
				WithType(ErrTypeReceive).
				Wrap(err)
		}
		return msg, len(msg), nil
	}
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// ClientID returns the client id of the viewer behind the given connection.
// A random id is returned when the viewer did not set one.
func ClientID(conn *websocket.Conn) string {
	if req := conn.Request(); req != nil {
		if id := req.Header.Get(HeaderClientID); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
