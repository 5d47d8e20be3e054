package websocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
)

// ChannelWithLogs returns a channel that logs the messages exchanged with the
// given viewer and periodically logs a summary of them.
func ChannelWithLogs(ch dispatch.Channel, clientID string, summaryInterval time.Duration) dispatch.Channel {
	ctx, cancel := context.WithCancel(context.Background())

	c := &channelWithLogs{
		Channel:            ch,
		clientID:           clientID,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
	}

	logs.WithClientID(clientID).Info("viewer is connected")

	go c.startSummaryWorker(ctx)
	return c
}

type channelWithLogs struct {
	dispatch.Channel

	clientID string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	received           int
	receivedBytes      int
	sent               int
	sentBytes          int

	closeOnce sync.Once
}

func (c *channelWithLogs) Receiver() dispatch.Receiver {
	receive := c.Channel.Receiver()

	return func() ([]byte, int, error) {
		msg, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(c.clientID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(c.clientID).
				WithTag("bytes", n).
				Debug("message received")

			c.counterMutex.Lock()
			c.received++
			c.receivedBytes += n
			c.counterMutex.Unlock()
		}
		return msg, n, err
	}
}

func (c *channelWithLogs) Sender() dispatch.Sender {
	send := c.Channel.Sender()

	return func(msg []byte) (int, error) {
		n, err := send(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(c.clientID).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(c.clientID).
				WithTag("bytes", n).
				Debug("message sent")

			c.counterMutex.Lock()
			c.sent++
			c.sentBytes += n
			c.counterMutex.Unlock()
		}
		return n, err
	}
}

func (c *channelWithLogs) Close() error {
	err := c.Channel.Close()

	c.closeOnce.Do(func() {
		c.closeSummaryWorker()
		c.logSummary()
		logs.WithClientID(c.clientID).Info("viewer disconnected")
	})
	return err
}

func (c *channelWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(c.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			c.logSummary()
		}
	}
}

func (c *channelWithLogs) logSummary() {
	c.counterMutex.Lock()
	defer c.counterMutex.Unlock()

	if c.received == 0 && c.sent == 0 {
		return
	}

	logs.WithClientID(c.clientID).
		WithTag("time_interval", c.summaryInterval).
		WithTag("received_msgs", c.received).
		WithTag("received_bytes", c.receivedBytes).
		WithTag("sent_msgs", c.sent).
		WithTag("sent_bytes", c.sentBytes).
		Info("message summary")

	c.received = 0
	c.receivedBytes = 0
	c.sent = 0
	c.sentBytes = 0
}
