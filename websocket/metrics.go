package websocket

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel  = "error_type"
	endpointLabel = "endpoint"
)

var (
	wsConnectedViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connected_viewers",
		Help: "The number of connected viewers.",
	}, []string{
		endpointLabel,
	})

	wsReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_msgs",
		Help: "The number of messages received from viewer connections.",
	}, []string{
		endpointLabel,
	})

	wsReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from viewer connections.",
	}, []string{
		endpointLabel,
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occured while receiving a websocket message.",
	}, []string{
		endpointLabel,
		errTypeLabel,
	})

	wsSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_msgs",
		Help: "The number of messages sent to viewer connections.",
	}, []string{
		endpointLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to viewer connections.",
	}, []string{
		endpointLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket message.",
	}, []string{
		endpointLabel,
		errTypeLabel,
	})
)

// ChannelWithMetrics returns a channel that reports the traffic of the given
// channel to Prometheus. The connected viewers gauge is incremented until the
// channel is closed.
func ChannelWithMetrics(ch dispatch.Channel, endpoint string) dispatch.Channel {
	wsConnectedViewers.
		With(prometheus.Labels{endpointLabel: endpoint}).
		Inc()

	return &channelWithMetrics{
		Channel:  ch,
		endpoint: endpoint,
	}
}

type channelWithMetrics struct {
	dispatch.Channel

	endpoint  string
	closeOnce sync.Once
}

func (c *channelWithMetrics) Receiver() dispatch.Receiver {
	receive := c.Channel.Receiver()

	return func() ([]byte, int, error) {
		msg, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					endpointLabel: c.endpoint,
					errTypeLabel:  errors.Type(err),
				}).
				Inc()
		} else {
			wsReceivedMsgs.
				With(prometheus.Labels{endpointLabel: c.endpoint}).
				Inc()
		}

		if n != 0 {
			wsReceivedBytes.
				With(prometheus.Labels{endpointLabel: c.endpoint}).
				Add(float64(n))
		}

		return msg, n, err
	}
}

func (c *channelWithMetrics) Sender() dispatch.Sender {
	send := c.Channel.Sender()

	return func(msg []byte) (int, error) {
		n, err := send(msg)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					endpointLabel: c.endpoint,
					errTypeLabel:  errors.Type(err),
				}).
				Inc()
		}

		if n != 0 {
			wsSentMsgs.
				With(prometheus.Labels{endpointLabel: c.endpoint}).
				Inc()
			wsSentBytes.
				With(prometheus.Labels{endpointLabel: c.endpoint}).
				Add(float64(n))
		}

		return n, err
	}
}

func (c *channelWithMetrics) Close() error {
	c.closeOnce.Do(func() {
		wsConnectedViewers.
			With(prometheus.Labels{endpointLabel: c.endpoint}).
			Dec()
	})

	return c.Channel.Close()
}
