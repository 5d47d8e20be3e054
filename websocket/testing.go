package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/aukilabs/pointcloud-viewer/protocol"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Creates a testing environment where a mock viewer is connected to a
// listener. It returns the channel accepted by the listener.
func NewTestingEnv(t *testing.T, viewer *MockViewer) (dispatch.Channel, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	ch, close := newTestingEnv(t, viewer)
	return ch, func() {
		close()

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	}
}

func newTestingEnv(t *testing.T, viewer *MockViewer) (dispatch.Channel, func()) {
	listener := &Listener{
		Wrap: func(ch dispatch.Channel, conn *websocket.Conn) dispatch.Channel {
			ch = ChannelWithLogs(ch, ClientID(conn), time.Millisecond*100)
			return ChannelWithMetrics(ch, "test")
		},
	}
	server := httptest.NewServer(listener)

	config, err := websocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://"),
		"http://localhost",
	)
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}
	config.Header.Set(HeaderClientID, uuid.NewString())

	conn, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	go viewer.Serve(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	ch, err := listener.Accept(ctx)
	if err != nil {
		t.Fatalf("error accepting viewer: %s", err)
	}

	return ch, func() {
		ch.Close()
		conn.Close()
		listener.Close()
		server.Close()
	}
}

// MockViewer is a fake viewer that answers the commands it receives.
type MockViewer struct {
	// Returns the reply to a command. The command is left unanswered when ok
	// is false. DefaultReply is used when nil.
	Reply func(cmd protocol.Command) (r protocol.Reply, ok bool)

	mutex    sync.Mutex
	commands []protocol.Command
}

// Serve reads commands from the given connection and answers them until the
// connection is closed.
func (v *MockViewer) Serve(conn *websocket.Conn) {
	defer conn.Close()

	reply := v.Reply
	if reply == nil {
		reply = DefaultReply
	}

	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			return
		}

		cmd, err := protocol.UnmarshalCommand(msg)
		if err != nil {
			logs.Warn(errors.New("mock viewer received an invalid command").Wrap(err))
			continue
		}

		v.mutex.Lock()
		v.commands = append(v.commands, cmd)
		v.mutex.Unlock()

		r, ok := reply(cmd)
		if !ok {
			continue
		}

		if err := websocket.Message.Send(conn, protocol.MarshalReply(r)); err != nil {
			return
		}
	}
}

// Commands returns the commands received so far.
func (v *MockViewer) Commands() []protocol.Command {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	return append([]protocol.Command(nil), v.commands...)
}

// DefaultReply answers AddObject commands with a new object id, SetCamera
// commands with an empty success and GetCameraState commands with a fixed
// perspective camera state.
func DefaultReply(cmd protocol.Command) (protocol.Reply, bool) {
	switch {
	case cmd.AddObject != nil:
		id := uuid.New()
		return protocol.SuccessReply(cmd.ID, strings.ReplaceAll(id.String(), "-", "")), true

	case cmd.SetCamera != nil:
		return protocol.SuccessReply(cmd.ID, ""), true

	case cmd.GetCameraState != nil:
		return protocol.Reply{
			ID: cmd.ID,
			CameraState: &protocol.CameraState{
				Position: models.NewVec3(0, 0, 10),
				Up:       models.NewVec3(0, 1, 0),
				Mode:     protocol.Perspective,
				RollLock: true,
				FOV:      0.8,
			},
		}, true

	default:
		return protocol.FailureReply(cmd.ID, "unknown command"), true
	}
}
