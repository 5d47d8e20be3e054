package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"golang.org/x/net/websocket"
)

// Listener is an HTTP handler that accepts viewer WebSocket connections and
// hands them to Accept callers.
//
// A connection stays open until its channel is closed or the listener is
// closed.
type Listener struct {
	// Checks the handshake of incoming connections. Optional.
	Handshake func(*websocket.Config, *http.Request) error

	// Wraps the channel of each accepted connection, typically with
	// ChannelWithLogs and ChannelWithMetrics. Optional.
	Wrap func(ch dispatch.Channel, conn *websocket.Conn) dispatch.Channel

	initOnce  sync.Once
	conns     chan dispatch.Channel
	done      chan struct{}
	closeOnce sync.Once
}

func (l *Listener) init() {
	l.initOnce.Do(func() {
		l.conns = make(chan dispatch.Channel)
		l.done = make(chan struct{})
	})
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.init()

	websocket.Server{
		Handshake: l.Handshake,
		Handler:   l.handle,
	}.ServeHTTP(w, r)
}

func (l *Listener) handle(conn *websocket.Conn) {
	var ch dispatch.Channel = NewChannel(conn)
	if l.Wrap != nil {
		ch = l.Wrap(ch, conn)
	}

	accepted := &acceptedChannel{
		Channel: ch,
		closed:  make(chan struct{}),
	}
	defer accepted.Close()

	select {
	case l.conns <- accepted:
	case <-l.done:
		return
	}

	// The connection is closed by the websocket server when this returns.
	select {
	case <-accepted.closed:
	case <-l.done:
	}
}

// Accept waits for a viewer to connect and returns its channel.
func (l *Listener) Accept(ctx context.Context) (dispatch.Channel, error) {
	l.init()

	select {
	case ch := <-l.conns:
		return ch, nil

	case <-l.done:
		return nil, errors.New("listener closed")

	case <-ctx.Done():
		return nil, errors.New("waiting for a viewer canceled").Wrap(ctx.Err())
	}
}

// Close closes the listener and the connections it accepted.
func (l *Listener) Close() error {
	l.init()

	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

type acceptedChannel struct {
	dispatch.Channel

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func (c *acceptedChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Channel.Close()
		close(c.closed)
	})
	return c.closeErr
}
