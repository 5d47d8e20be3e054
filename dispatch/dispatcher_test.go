package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/aukilabs/pointcloud-viewer/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type result struct {
	reply protocol.Reply
	id    string
	err   error
}

func newTestDispatcher(t *testing.T, conf Config) (*Dispatcher, Channel) {
	local, peer := Pipe()

	d := NewDispatcher(local, conf)
	t.Cleanup(func() {
		d.Close()
	})

	return d, peer
}

func newOverlayCommand(t *testing.T, text string) protocol.Command {
	obj, err := protocol.EncodeObject(models.Overlay{
		Text:     text,
		Position: models.NewVec3(1, 2, 3),
	})
	require.NoError(t, err)

	cmd, err := protocol.NewCommand(obj)
	require.NoError(t, err)
	return cmd
}

func sendAsync(ctx context.Context, d *Dispatcher, cmd protocol.Command) <-chan result {
	res := make(chan result, 1)
	go func() {
		id, err := d.SendAndWait(ctx, cmd)
		res <- result{id: id, err: err}
	}()
	return res
}

func doAsync(ctx context.Context, d *Dispatcher, cmd protocol.Command) <-chan result {
	res := make(chan result, 1)
	go func() {
		reply, err := d.Do(ctx, cmd)
		res <- result{reply: reply, err: err}
	}()
	return res
}

func awaitResult(t *testing.T, res <-chan result) result {
	t.Helper()

	select {
	case r := <-res:
		return r
	case <-time.After(testTimeout):
		t.Fatal("no result")
		return result{}
	}
}

func receiveCommand(t *testing.T, peer Channel) protocol.Command {
	t.Helper()

	type received struct {
		msg []byte
		err error
	}

	c := make(chan received, 1)
	go func() {
		msg, _, err := peer.Receiver()()
		c <- received{msg: msg, err: err}
	}()

	select {
	case r := <-c:
		require.NoError(t, r.err)

		cmd, err := protocol.UnmarshalCommand(r.msg)
		require.NoError(t, err)
		return cmd

	case <-time.After(testTimeout):
		t.Fatal("no command received")
		return protocol.Command{}
	}
}

func sendReply(t *testing.T, peer Channel, r protocol.Reply) {
	t.Helper()

	_, err := peer.Sender()(protocol.MarshalReply(r))
	require.NoError(t, err)
}

func TestDispatcherSendAndWait(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		d, peer := newTestDispatcher(t, Config{})
		cmd := newOverlayCommand(t, "1.00,2.00,3.00")

		res := sendAsync(context.Background(), d, cmd)

		received := receiveCommand(t, peer)
		require.Equal(t, cmd.ID, received.ID)
		require.Equal(t, "1.00,2.00,3.00", received.AddObject.Overlay.Text)
		require.Equal(t, models.NewVec3(1, 2, 3), received.AddObject.Overlay.Position)

		sendReply(t, peer, protocol.SuccessReply(received.ID, "abc123"))

		r := awaitResult(t, res)
		require.NoError(t, r.err)
		require.Equal(t, "abc123", r.id)
		require.Equal(t, 0, d.Pending())
	})

	t.Run("remote failure", func(t *testing.T) {
		d, peer := newTestDispatcher(t, Config{})
		cmd := newOverlayCommand(t, "1.00,2.00,3.00")

		res := sendAsync(context.Background(), d, cmd)
		received := receiveCommand(t, peer)
		sendReply(t, peer, protocol.FailureReply(received.ID, "bad request"))

		r := awaitResult(t, res)
		require.Error(t, r.err)
		require.True(t, errors.IsType(r.err, ErrTypeRemote))
		require.Equal(t, "bad request", errors.Message(r.err))
		require.Equal(t, 0, d.Pending())
	})

	t.Run("malformed reply", func(t *testing.T) {
		d, peer := newTestDispatcher(t, Config{})
		cmd := newOverlayCommand(t, "hello")

		res := sendAsync(context.Background(), d, cmd)
		received := receiveCommand(t, peer)
		sendReply(t, peer, protocol.Reply{ID: received.ID})

		r := awaitResult(t, res)
		require.True(t, errors.IsType(r.err, ErrTypeProtocol))
	})

	t.Run("camera state reply to an add object", func(t *testing.T) {
		d, peer := newTestDispatcher(t, Config{})
		cmd := newOverlayCommand(t, "hello")
		protocolErrors := testutil.ToFloat64(commandErrors.WithLabelValues(ErrTypeProtocol))

		res := sendAsync(context.Background(), d, cmd)
		received := receiveCommand(t, peer)
		sendReply(t, peer, protocol.Reply{
			ID:          received.ID,
			CameraState: &protocol.CameraState{},
		})

		r := awaitResult(t, res)
		require.True(t, errors.IsType(r.err, ErrTypeProtocol))
		require.Empty(t, r.id)
		require.Equal(t, protocolErrors+1, testutil.ToFloat64(commandErrors.WithLabelValues(ErrTypeProtocol)))
	})

	t.Run("invalid command", func(t *testing.T) {
		d, _ := newTestDispatcher(t, Config{})

		_, err := d.SendAndWait(context.Background(), protocol.Command{})
		require.True(t, errors.IsType(err, protocol.ErrTypeValidation))
		require.Equal(t, 0, d.Pending())
	})
}

func TestDispatcherDo(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{})

	cmd, err := protocol.NewCommand(&protocol.GetCameraState{})
	require.NoError(t, err)

	res := doAsync(context.Background(), d, cmd)
	received := receiveCommand(t, peer)
	require.NotNil(t, received.GetCameraState)

	state := &protocol.CameraState{
		Position:      models.NewVec3(0, 0, 10),
		Up:            models.NewVec3(0, 1, 0),
		Mode:          protocol.Orthographic,
		FrustumHeight: 4,
	}
	sendReply(t, peer, protocol.Reply{
		ID:          received.ID,
		CameraState: state,
	})

	r := awaitResult(t, res)
	require.NoError(t, r.err)
	require.Equal(t, state, r.reply.CameraState)
}

func TestDispatcherCorrelatesReorderedReplies(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{})

	const count = 10
	results := make(map[string]<-chan result, count)
	for i := 0; i < count; i++ {
		text := fmt.Sprintf("label-%d", i)
		results[text] = sendAsync(context.Background(), d, newOverlayCommand(t, text))
	}

	var received []protocol.Command
	for i := 0; i < count; i++ {
		received = append(received, receiveCommand(t, peer))
	}

	for i := len(received) - 1; i >= 0; i-- {
		cmd := received[i]
		sendReply(t, peer, protocol.SuccessReply(cmd.ID, "object-"+cmd.AddObject.Overlay.Text))
	}

	for text, res := range results {
		r := awaitResult(t, res)
		require.NoError(t, r.err)
		require.Equal(t, "object-"+text, r.id)
	}
	require.Equal(t, 0, d.Pending())
}

func TestDispatcherDropsStrayReplies(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{})
	stray := testutil.ToFloat64(strayReplies)
	decodeErrors := testutil.ToFloat64(replyDecodeErrors)

	cmd := newOverlayCommand(t, "first")
	res := sendAsync(context.Background(), d, cmd)
	received := receiveCommand(t, peer)

	sendReply(t, peer, protocol.SuccessReply(received.ID, "abc123"))
	r := awaitResult(t, res)
	require.NoError(t, r.err)
	require.Equal(t, "abc123", r.id)

	t.Run("second reply", func(t *testing.T) {
		sendReply(t, peer, protocol.SuccessReply(received.ID, "def456"))

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(strayReplies) == stray+1
		}, testTimeout, 10*time.Millisecond)
	})

	t.Run("unknown id", func(t *testing.T) {
		sendReply(t, peer, protocol.SuccessReply(newOverlayCommand(t, "x").ID, "ghi789"))

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(strayReplies) == stray+2
		}, testTimeout, 10*time.Millisecond)
	})

	t.Run("undecodable message", func(t *testing.T) {
		_, err := peer.Sender()([]byte{0xff, 0xff, 0xff})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(replyDecodeErrors) == decodeErrors+1
		}, testTimeout, 10*time.Millisecond)
	})

	t.Run("keeps serving", func(t *testing.T) {
		cmd := newOverlayCommand(t, "second")
		res := sendAsync(context.Background(), d, cmd)
		received := receiveCommand(t, peer)
		sendReply(t, peer, protocol.SuccessReply(received.ID, "jkl012"))

		r := awaitResult(t, res)
		require.NoError(t, r.err)
		require.Equal(t, "jkl012", r.id)
		require.NoError(t, d.Err())
	})
}

func TestDispatcherDuplicateID(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{})
	cmd := newOverlayCommand(t, "hello")

	first := sendAsync(context.Background(), d, cmd)
	received := receiveCommand(t, peer)

	_, err := d.SendAndWait(context.Background(), cmd)
	require.True(t, errors.IsType(err, ErrTypeDuplicateID))

	sendReply(t, peer, protocol.SuccessReply(received.ID, "abc123"))
	r := awaitResult(t, first)
	require.NoError(t, r.err)
	require.Equal(t, "abc123", r.id)
}

func TestDispatcherSendFailure(t *testing.T) {
	d := NewDispatcher(failingChannel{}, Config{})
	defer d.Close()

	_, err := d.SendAndWait(context.Background(), newOverlayCommand(t, "hello"))
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeRemote))
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, 0, d.Pending())
}

type failingChannel struct{}

func (failingChannel) Sender() Sender {
	return func([]byte) (int, error) {
		return 0, errors.New("connection reset")
	}
}

func (failingChannel) Receiver() Receiver {
	block := make(chan struct{})
	return func() ([]byte, int, error) {
		<-block
		return nil, 0, nil
	}
}

func (failingChannel) Close() error {
	return nil
}

func TestDispatcherWaitCanceled(t *testing.T) {
	t.Run("context canceled", func(t *testing.T) {
		d, peer := newTestDispatcher(t, Config{})
		stray := testutil.ToFloat64(strayReplies)

		ctx, cancel := context.WithCancel(context.Background())
		res := sendAsync(ctx, d, newOverlayCommand(t, "hello"))
		received := receiveCommand(t, peer)
		cancel()

		r := awaitResult(t, res)
		require.True(t, errors.IsType(r.err, ErrTypeWaitCanceled))
		require.ErrorIs(t, r.err, context.Canceled)
		require.Equal(t, 0, d.Pending())

		sendReply(t, peer, protocol.SuccessReply(received.ID, "late"))
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(strayReplies) == stray+1
		}, testTimeout, 10*time.Millisecond)
	})

	t.Run("reply timeout", func(t *testing.T) {
		d, peer := newTestDispatcher(t, Config{ReplyTimeout: 50 * time.Millisecond})

		res := sendAsync(context.Background(), d, newOverlayCommand(t, "hello"))
		receiveCommand(t, peer)

		r := awaitResult(t, res)
		require.True(t, errors.IsType(r.err, ErrTypeWaitCanceled))
		require.ErrorIs(t, r.err, context.DeadlineExceeded)
		require.Equal(t, 0, d.Pending())
	})
}

func TestDispatcherClose(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{})

	res := sendAsync(context.Background(), d, newOverlayCommand(t, "hello"))
	receiveCommand(t, peer)

	require.NoError(t, peer.Close())

	r := awaitResult(t, res)
	require.True(t, errors.IsType(r.err, ErrTypeRemote))

	select {
	case <-d.Done():
	case <-time.After(testTimeout):
		t.Fatal("dispatcher is not terminated")
	}
	require.True(t, errors.IsType(d.Err(), ErrTypeRemote))

	_, err := d.SendAndWait(context.Background(), newOverlayCommand(t, "again"))
	require.True(t, errors.IsType(err, ErrTypeRemote))
	require.Equal(t, 0, d.Pending())
}

func TestDispatcherMaxInFlight(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{MaxInFlight: 1})

	first := sendAsync(context.Background(), d, newOverlayCommand(t, "first"))
	received := receiveCommand(t, peer)

	second := sendAsync(context.Background(), d, newOverlayCommand(t, "second"))
	require.Never(t, func() bool {
		return d.Pending() > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	sendReply(t, peer, protocol.SuccessReply(received.ID, "abc123"))
	require.NoError(t, awaitResult(t, first).err)

	received = receiveCommand(t, peer)
	require.Equal(t, "second", received.AddObject.Overlay.Text)
	sendReply(t, peer, protocol.SuccessReply(received.ID, "def456"))

	r := awaitResult(t, second)
	require.NoError(t, r.err)
	require.Equal(t, "def456", r.id)
}

func TestDispatcherCommandRate(t *testing.T) {
	d, peer := newTestDispatcher(t, Config{CommandRate: 20})

	start := time.Now()
	var results []<-chan result
	for i := 0; i < 25; i++ {
		results = append(results, sendAsync(context.Background(), d, newOverlayCommand(t, "x")))
	}

	for range results {
		received := receiveCommand(t, peer)
		sendReply(t, peer, protocol.SuccessReply(received.ID, "ok"))
	}

	for _, res := range results {
		require.NoError(t, awaitResult(t, res).err)
	}

	// A burst of 20 then 5 commands at 20 per second.
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}
