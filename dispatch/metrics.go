package dispatch

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
	commandLabel = "command"
)

var (
	commandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_commands_sent",
		Help: "The number of commands sent to viewers.",
	})

	commandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_command_errors",
		Help: "The errors that occured while executing a viewer command.",
	}, []string{
		errTypeLabel,
	})

	commandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "viewer_command_latency",
		Help: "The time between sending a command and receiving its reply.",
	}, []string{
		commandLabel,
	})

	pendingCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_pending_commands",
		Help: "The number of commands waiting for a reply.",
	})

	strayReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_stray_replies",
		Help: "The number of replies dropped because no command was waiting for them.",
	})

	replyDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_reply_decode_errors",
		Help: "The number of viewer messages that could not be decoded.",
	})
)

func instrumentCommand(command string, start time.Time, err error) {
	if err != nil {
		errType := errors.Type(err)
		if errType == "" {
			errType = "unknown"
		}

		commandErrors.
			With(prometheus.Labels{errTypeLabel: errType}).
			Inc()
		return
	}

	commandLatency.
		With(prometheus.Labels{commandLabel: command}).
		Observe(time.Since(start).Seconds())
}
