// Package dispatch sends commands to a viewer and correlates the replies it
// receives with the callers waiting for them.
package dispatch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/pointcloud-viewer/protocol"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config configures a dispatcher.
type Config struct {
	// The maximum time to wait for a reply. Zero means no limit besides the
	// caller context.
	ReplyTimeout time.Duration

	// The maximum number of commands waiting for a reply at the same time.
	// Zero means no limit.
	MaxInFlight int

	// The maximum number of commands sent per second. Zero means no limit.
	CommandRate float64
}

// Dispatcher sends commands over a channel and matches the replies read by
// its background reader with the commands waiting for them. It is safe for
// concurrent use.
type Dispatcher struct {
	channel Channel
	send    Sender
	receive Receiver
	conf    Config

	sendMutex sync.Mutex
	pending   PendingTable
	inFlight  *semaphore.Weighted
	limiter   *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewDispatcher creates a dispatcher and starts reading replies from the given
// channel.
func NewDispatcher(ch Channel, conf Config) *Dispatcher {
	d := &Dispatcher{
		channel: ch,
		send:    ch.Sender(),
		receive: ch.Receiver(),
		conf:    conf,
		done:    make(chan struct{}),
	}

	if conf.MaxInFlight > 0 {
		d.inFlight = semaphore.NewWeighted(int64(conf.MaxInFlight))
	}

	if conf.CommandRate > 0 {
		burst := int(math.Max(1, math.Ceil(conf.CommandRate)))
		d.limiter = rate.NewLimiter(rate.Limit(conf.CommandRate), burst)
	}

	go d.receiveReplies()
	return d
}

// SendAndWait sends the given AddObject command and waits for its reply. It
// returns the id of the object created by the viewer.
func (d *Dispatcher) SendAndWait(ctx context.Context, cmd protocol.Command) (string, error) {
	reply, err := d.Do(ctx, cmd)
	if err != nil {
		return "", err
	}
	return reply.Message, nil
}

// Do sends the given command and waits for its reply.
//
// A failure reported by the viewer is returned as an error. The returned reply
// holds either a success result or a camera state. Replies to AddObject
// commands must hold a success result.
func (d *Dispatcher) Do(ctx context.Context, cmd protocol.Command) (protocol.Reply, error) {
	start := time.Now()

	reply, err := d.do(ctx, cmd)
	if err == nil {
		err = checkReply(cmd, reply)
	}

	instrumentCommand(cmd.Kind(), start, err)
	if err != nil {
		return protocol.Reply{}, err
	}
	return reply, nil
}

func (d *Dispatcher) do(ctx context.Context, cmd protocol.Command) (protocol.Reply, error) {
	if d.conf.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.conf.ReplyTimeout)
		defer cancel()
	}

	select {
	case <-d.done:
		return protocol.Reply{}, d.err
	default:
	}

	msg, err := protocol.MarshalCommand(cmd)
	if err != nil {
		return protocol.Reply{}, err
	}

	if d.inFlight != nil {
		if err := d.inFlight.Acquire(ctx, 1); err != nil {
			return protocol.Reply{}, waitCanceled(cmd, err)
		}
		defer d.inFlight.Release(1)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return protocol.Reply{}, waitCanceled(cmd, err)
		}
	}

	wait, ok := d.pending.Insert(cmd.ID)
	if !ok {
		return protocol.Reply{}, errors.New("command id is already pending").
			WithType(ErrTypeDuplicateID).
			WithTag("correlation_id", cmd.ID)
	}

	pendingCommands.Inc()
	defer pendingCommands.Dec()

	if err := d.sendCommand(msg); err != nil {
		d.pending.Remove(cmd.ID)
		return protocol.Reply{}, errors.New("sending command failed").
			WithType(ErrTypeRemote).
			WithTag("correlation_id", cmd.ID).
			Wrap(err)
	}

	commandsSent.Inc()
	logs.WithTag("correlation_id", cmd.ID).
		WithTag("command", cmd.Kind()).
		WithTag("bytes", len(msg)).
		Debug("command sent")

	select {
	case reply := <-wait:
		return reply, nil

	case <-d.done:
		if !d.pending.Remove(cmd.ID) {
			return <-wait, nil
		}
		return protocol.Reply{}, d.err

	case <-ctx.Done():
		if !d.pending.Remove(cmd.ID) {
			return <-wait, nil
		}
		return protocol.Reply{}, waitCanceled(cmd, ctx.Err())
	}
}

func (d *Dispatcher) sendCommand(msg []byte) error {
	d.sendMutex.Lock()
	defer d.sendMutex.Unlock()

	_, err := d.send(msg)
	return err
}

func waitCanceled(cmd protocol.Command, err error) error {
	return errors.New("waiting for reply canceled").
		WithType(ErrTypeWaitCanceled).
		WithTag("correlation_id", cmd.ID).
		WithTag("command", cmd.Kind()).
		Wrap(err)
}

func checkReply(cmd protocol.Command, r protocol.Reply) error {
	switch {
	case r.Result == protocol.ResultFailure:
		return errors.New(r.Message).
			WithType(ErrTypeRemote)

	case r.Result == protocol.ResultSuccess:
		return nil

	case r.CameraState != nil && cmd.AddObject == nil:
		return nil

	default:
		return errors.New("malformed reply").
			WithType(ErrTypeProtocol).
			WithTag("correlation_id", r.ID)
	}
}

func (d *Dispatcher) receiveReplies() {
	for {
		msg, _, err := d.receive()
		if err != nil {
			d.channel.Close()
			d.terminate(errors.New("channel closed").
				WithType(ErrTypeRemote).
				Wrap(err))
			return
		}

		reply, err := protocol.UnmarshalReply(msg)
		if err != nil {
			replyDecodeErrors.Inc()
			logs.WithTag("bytes", len(msg)).
				Warn(errors.New("dropping undecodable reply").Wrap(err))
			continue
		}

		if !d.pending.Fulfill(reply) {
			strayReplies.Inc()
			logs.WithTag("correlation_id", reply.ID).
				WithTag("result", reply.Result.String()).
				Debug("dropping reply without pending command")
		}
	}
}

func (d *Dispatcher) terminate(err error) {
	d.closeOnce.Do(func() {
		d.err = err
		close(d.done)

		logs.WithTag("reason", err.Error()).
			WithTag("pending_commands", d.pending.Len()).
			Info("dispatcher terminated")
	})
}

// Pending returns the number of commands waiting for a reply.
func (d *Dispatcher) Pending() int {
	return d.pending.Len()
}

// Done returns a channel closed when the dispatcher stops reading replies.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err returns the reason why the dispatcher stopped, or nil when it is still
// running.
func (d *Dispatcher) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Close closes the channel and fails the commands still waiting for a reply.
func (d *Dispatcher) Close() error {
	err := d.channel.Close()
	d.terminate(errors.New("channel closed").WithType(ErrTypeRemote))
	return err
}
