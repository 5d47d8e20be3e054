package protocol

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCommandRoundTrip(t *testing.T) {
	tests := []struct {
		scenario string
		payload  Payload
	}{
		{
			scenario: "point cloud",
			payload: &AddObject{
				PointCloud: &PointCloud{PCDData: []byte("VERSION 0.7\nDATA binary\n\x01\x02")},
			},
		},
		{
			scenario: "line set",
			payload: &AddObject{
				LineSet: &LineSet{
					Points: []models.Vec3{
						{X: 0, Y: 0, Z: 0},
						{X: 1, Y: -2, Z: 3.5},
						{X: 300, Y: 0, Z: -0.25},
					},
					FromIndex: []uint32{0, 1, 2},
					ToIndex:   []uint32{1, 2, 300000},
				},
			},
		},
		{
			scenario: "overlay",
			payload: &AddObject{
				Overlay: &Overlay{
					Position: models.NewVec3(1, 2, 3),
					Text:     "1.00,2.00,3.00",
				},
			},
		},
		{
			scenario: "camera position",
			payload: &SetCamera{
				Setting:  CameraPosition,
				Position: models.NewVec3(0, 0, 10),
			},
		},
		{
			scenario: "orthographic camera",
			payload: &SetCamera{
				Setting:       CameraOrthographic,
				FrustumHeight: 4.5,
			},
		},
		{
			scenario: "perspective camera",
			payload: &SetCamera{
				Setting: CameraPerspective,
				FOV:     60,
			},
		},
		{
			scenario: "get camera state",
			payload:  &GetCameraState{},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			cmd, err := NewCommand(test.payload)
			require.NoError(t, err)

			b, err := MarshalCommand(cmd)
			require.NoError(t, err)

			decoded, err := UnmarshalCommand(b)
			require.NoError(t, err)

			if diff := cmp.Diff(cmd, decoded); diff != "" {
				t.Fatalf("decoded command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMarshalCommandValidates(t *testing.T) {
	_, err := MarshalCommand(Command{ID: uuid.New()})
	require.True(t, errors.IsType(err, ErrTypeValidation))
}

func TestMarshalReply(t *testing.T) {
	id := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")

	b := MarshalReply(SuccessReply(id, "abc123"))

	expected := []byte{0x0a, 0x10}
	expected = append(expected, id[:]...)
	expected = append(expected, 0x12, 0x08, 0x0a, 0x06)
	expected = append(expected, "abc123"...)
	require.Equal(t, expected, b)
}

func TestReplyRoundTrip(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		scenario string
		reply    Reply
	}{
		{
			scenario: "success",
			reply:    SuccessReply(id, "abc123"),
		},
		{
			scenario: "success with empty object id",
			reply:    SuccessReply(id, ""),
		},
		{
			scenario: "failure",
			reply:    FailureReply(id, "bad request"),
		},
		{
			scenario: "no result",
			reply:    Reply{ID: id},
		},
		{
			scenario: "camera state",
			reply: Reply{
				ID:      id,
				Result:  ResultSuccess,
				Message: "",
				CameraState: &CameraState{
					Position:      models.NewVec3(1, 2, 3),
					Target:        models.NewVec3(0, 0, 0),
					Up:            models.NewVec3(0, 1, 0),
					Mode:          Orthographic,
					RollLock:      true,
					FOV:           45,
					FrustumHeight: 12,
				},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			decoded, err := UnmarshalReply(MarshalReply(test.reply))
			require.NoError(t, err)

			if diff := cmp.Diff(test.reply, decoded); diff != "" {
				t.Fatalf("decoded reply mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalReplyTolerance(t *testing.T) {
	id := uuid.New()

	t.Run("skips unknown fields", func(t *testing.T) {
		b := protowire.AppendTag(nil, 42, protowire.VarintType)
		b = protowire.AppendVarint(b, 7)
		b = protowire.AppendTag(b, 43, protowire.BytesType)
		b = protowire.AppendString(b, "ignored")
		b = append(b, MarshalReply(FailureReply(id, "bad request"))...)
		b = protowire.AppendTag(b, 44, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, 1)

		r, err := UnmarshalReply(b)
		require.NoError(t, err)
		require.Equal(t, FailureReply(id, "bad request"), r)
	})

	t.Run("last result wins", func(t *testing.T) {
		b := MarshalReply(FailureReply(id, "bad request"))
		b = append(b, MarshalReply(SuccessReply(id, "abc123"))...)

		r, err := UnmarshalReply(b)
		require.NoError(t, err)
		require.Equal(t, SuccessReply(id, "abc123"), r)
	})
}

func TestUnmarshalUnpackedIndexes(t *testing.T) {
	var ls []byte
	for _, i := range []uint64{3, 4} {
		ls = protowire.AppendTag(ls, lineSetFromIndex, protowire.VarintType)
		ls = protowire.AppendVarint(ls, i)
	}
	ls = protowire.AppendTag(ls, lineSetToIndex, protowire.VarintType)
	ls = protowire.AppendVarint(ls, 5)
	ls = appendPackedUint32s(ls, lineSetToIndex, []uint32{6})

	id := uuid.New()
	b := appendUUID(nil, serverCommandUUID, id)
	b = appendMessage(b, serverCommandAddObject, appendMessage(nil, addObjectLineSet, ls))

	cmd, err := UnmarshalCommand(b)
	require.NoError(t, err)
	require.Equal(t, id, cmd.ID)
	require.Equal(t, []uint32{3, 4}, cmd.AddObject.LineSet.FromIndex)
	require.Equal(t, []uint32{5, 6}, cmd.AddObject.LineSet.ToIndex)
}

func TestUnmarshalErrors(t *testing.T) {
	id := uuid.New()
	valid := MarshalReply(SuccessReply(id, "abc123"))

	shortID := protowire.AppendTag(nil, clientCommandUUID, protowire.BytesType)
	shortID = protowire.AppendBytes(shortID, id[:8])

	badVec := appendUUID(nil, serverCommandUUID, id)
	badVec = appendMessage(badVec, serverCommandSetCamera,
		appendMessage(nil, setCameraPosition, []byte{0x0d, 0x00}),
	)

	tests := []struct {
		scenario  string
		data      []byte
		unmarshal func([]byte) error
	}{
		{
			scenario:  "empty reply",
			data:      nil,
			unmarshal: unmarshalReply,
		},
		{
			scenario:  "reply without uuid",
			data:      appendMessage(nil, clientCommandResult, appendString(nil, resultSuccess, "x")),
			unmarshal: unmarshalReply,
		},
		{
			scenario:  "short uuid",
			data:      shortID,
			unmarshal: unmarshalReply,
		},
		{
			scenario:  "truncated reply",
			data:      valid[:len(valid)-2],
			unmarshal: unmarshalReply,
		},
		{
			scenario:  "garbage",
			data:      []byte{0xff, 0xff, 0xff},
			unmarshal: unmarshalReply,
		},
		{
			scenario:  "command without uuid",
			data:      appendMessage(nil, serverCommandGetCameraState, nil),
			unmarshal: unmarshalCommand,
		},
		{
			scenario:  "truncated vector",
			data:      badVec,
			unmarshal: unmarshalCommand,
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			err := test.unmarshal(test.data)
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeDecode))
		})
	}
}

func unmarshalReply(b []byte) error {
	_, err := UnmarshalReply(b)
	return err
}

func unmarshalCommand(b []byte) error {
	_, err := UnmarshalCommand(b)
	return err
}
