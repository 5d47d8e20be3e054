package dispatch

import (
	"net"
	"sync"
)

const pipeBufferSize = 64

// Pipe returns two connected in-memory channels: messages sent by one are
// received by the other. Closing either closes both.
func Pipe() (Channel, Channel) {
	a := make(chan []byte, pipeBufferSize)
	b := make(chan []byte, pipeBufferSize)

	closed := &pipeClosed{c: make(chan struct{})}

	return &pipeEnd{in: a, out: b, closed: closed},
		&pipeEnd{in: b, out: a, closed: closed}
}

type pipeClosed struct {
	once sync.Once
	c    chan struct{}
}

type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	closed *pipeClosed
}

func (p *pipeEnd) Sender() Sender {
	return func(msg []byte) (int, error) {
		select {
		case <-p.closed.c:
			return 0, net.ErrClosed
		default:
		}

		select {
		case p.out <- append([]byte(nil), msg...):
			return len(msg), nil

		case <-p.closed.c:
			return 0, net.ErrClosed
		}
	}
}

func (p *pipeEnd) Receiver() Receiver {
	return func() ([]byte, int, error) {
		select {
		case msg := <-p.in:
			return msg, len(msg), nil

		case <-p.closed.c:
			return nil, 0, net.ErrClosed
		}
	}
}

func (p *pipeEnd) Close() error {
	p.closed.once.Do(func() {
		close(p.closed.c)
	})
	return nil
}
