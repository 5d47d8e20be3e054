package protocol

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the viewer messages.
const (
	vecX protowire.Number = 1
	vecY protowire.Number = 2
	vecZ protowire.Number = 3

	addObjectPointCloud protowire.Number = 1
	addObjectLineSet    protowire.Number = 2
	addObjectOverlay    protowire.Number = 3

	pointCloudPCDData protowire.Number = 1

	lineSetPoints    protowire.Number = 1
	lineSetFromIndex protowire.Number = 2
	lineSetToIndex   protowire.Number = 3

	overlayPosition protowire.Number = 1
	overlayText     protowire.Number = 2

	setCameraPosition      protowire.Number = 1
	setCameraFrustumHeight protowire.Number = 2
	setCameraFOV           protowire.Number = 3

	serverCommandUUID           protowire.Number = 1
	serverCommandAddObject      protowire.Number = 2
	serverCommandSetCamera      protowire.Number = 3
	serverCommandGetCameraState protowire.Number = 4

	cameraStatePosition      protowire.Number = 1
	cameraStateTarget        protowire.Number = 2
	cameraStateUp            protowire.Number = 3
	cameraStateMode          protowire.Number = 4
	cameraStateRollLock      protowire.Number = 5
	cameraStateFOV           protowire.Number = 6
	cameraStateFrustumHeight protowire.Number = 7

	resultSuccess protowire.Number = 1
	resultFailure protowire.Number = 2

	clientCommandUUID        protowire.Number = 1
	clientCommandResult      protowire.Number = 2
	clientCommandCameraState protowire.Number = 3
)

// MarshalCommand returns the wire encoding of the given command.
func MarshalCommand(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	b := appendUUID(nil, serverCommandUUID, cmd.ID)

	switch {
	case cmd.AddObject != nil:
		b = appendMessage(b, serverCommandAddObject, appendAddObject(nil, cmd.AddObject))

	case cmd.SetCamera != nil:
		b = appendMessage(b, serverCommandSetCamera, appendSetCamera(nil, cmd.SetCamera))

	case cmd.GetCameraState != nil:
		b = appendMessage(b, serverCommandGetCameraState, nil)
	}

	return b, nil
}

// MarshalReply returns the wire encoding of the given reply.
func MarshalReply(r Reply) []byte {
	b := appendUUID(nil, clientCommandUUID, r.ID)

	switch r.Result {
	case ResultSuccess:
		b = appendMessage(b, clientCommandResult, appendString(nil, resultSuccess, r.Message))

	case ResultFailure:
		b = appendMessage(b, clientCommandResult, appendString(nil, resultFailure, r.Message))
	}

	if r.CameraState != nil {
		b = appendMessage(b, clientCommandCameraState, appendCameraState(nil, r.CameraState))
	}

	return b
}

func appendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

// appendImplicitFloat omits positive zeros, as proto3 does for scalar fields
// without presence.
func appendImplicitFloat(b []byte, num protowire.Number, v float32) []byte {
	if math.Float32bits(v) == 0 {
		return b
	}
	return appendFloat(b, num, v)
}

func appendVec(b []byte, v models.Vec3) []byte {
	b = appendImplicitFloat(b, vecX, v.X)
	b = appendImplicitFloat(b, vecY, v.Y)
	return appendImplicitFloat(b, vecZ, v.Z)
}

func appendPackedUint32s(b []byte, num protowire.Number, values []uint32) []byte {
	if len(values) == 0 {
		return b
	}

	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func appendAddObject(b []byte, a *AddObject) []byte {
	switch {
	case a.PointCloud != nil:
		var pc []byte
		if len(a.PointCloud.PCDData) != 0 {
			pc = appendMessage(pc, pointCloudPCDData, a.PointCloud.PCDData)
		}
		b = appendMessage(b, addObjectPointCloud, pc)

	case a.LineSet != nil:
		var ls []byte
		for _, p := range a.LineSet.Points {
			ls = appendMessage(ls, lineSetPoints, appendVec(nil, p))
		}
		ls = appendPackedUint32s(ls, lineSetFromIndex, a.LineSet.FromIndex)
		ls = appendPackedUint32s(ls, lineSetToIndex, a.LineSet.ToIndex)
		b = appendMessage(b, addObjectLineSet, ls)

	case a.Overlay != nil:
		o := appendMessage(nil, overlayPosition, appendVec(nil, a.Overlay.Position))
		if a.Overlay.Text != "" {
			o = appendString(o, overlayText, a.Overlay.Text)
		}
		b = appendMessage(b, addObjectOverlay, o)
	}

	return b
}

func appendSetCamera(b []byte, s *SetCamera) []byte {
	switch s.Setting {
	case CameraPosition:
		return appendMessage(b, setCameraPosition, appendVec(nil, s.Position))
	case CameraOrthographic:
		return appendFloat(b, setCameraFrustumHeight, s.FrustumHeight)
	case CameraPerspective:
		return appendFloat(b, setCameraFOV, s.FOV)
	default:
		return b
	}
}

func appendCameraState(b []byte, s *CameraState) []byte {
	b = appendMessage(b, cameraStatePosition, appendVec(nil, s.Position))
	b = appendMessage(b, cameraStateTarget, appendVec(nil, s.Target))
	b = appendMessage(b, cameraStateUp, appendVec(nil, s.Up))

	if s.Mode != Perspective {
		b = protowire.AppendTag(b, cameraStateMode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Mode))
	}

	if s.RollLock {
		b = protowire.AppendTag(b, cameraStateRollLock, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}

	b = appendImplicitFloat(b, cameraStateFOV, s.FOV)
	return appendImplicitFloat(b, cameraStateFrustumHeight, s.FrustumHeight)
}

// UnmarshalCommand decodes a command. Unknown fields are skipped and the
// payload is not validated.
func UnmarshalCommand(b []byte) (Command, error) {
	var cmd Command
	var hasID bool

	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		var err error
		switch num {
		case serverCommandUUID:
			cmd.ID, err = parseUUID(v)
			hasID = true

		case serverCommandAddObject:
			cmd.AddObject, cmd.SetCamera, cmd.GetCameraState = &AddObject{}, nil, nil
			err = consumeAddObject(v, cmd.AddObject)

		case serverCommandSetCamera:
			cmd.AddObject, cmd.SetCamera, cmd.GetCameraState = nil, &SetCamera{}, nil
			err = consumeSetCamera(v, cmd.SetCamera)

		case serverCommandGetCameraState:
			cmd.AddObject, cmd.SetCamera, cmd.GetCameraState = nil, nil, &GetCameraState{}
		}
		return n, err
	})
	if err == nil && !hasID {
		err = errors.New("missing uuid")
	}
	if err != nil {
		return Command{}, errors.New("decoding command failed").
			WithType(ErrTypeDecode).
			Wrap(err)
	}

	return cmd, nil
}

// UnmarshalReply decodes a viewer reply. Unknown fields are skipped.
func UnmarshalReply(b []byte) (Reply, error) {
	var r Reply
	var hasID bool

	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		var err error
		switch num {
		case clientCommandUUID:
			r.ID, err = parseUUID(v)
			hasID = true

		case clientCommandResult:
			err = consumeResult(v, &r)

		case clientCommandCameraState:
			r.CameraState = &CameraState{}
			err = consumeCameraState(v, r.CameraState)
		}
		return n, err
	})
	if err == nil && !hasID {
		err = errors.New("missing uuid")
	}
	if err != nil {
		return Reply{}, errors.New("decoding reply failed").
			WithType(ErrTypeDecode).
			Wrap(err)
	}

	return r, nil
}

// fieldFunc consumes the value of a field and returns its length. It returns
// 0 to skip the field or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeMessage(b []byte, f fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}

	return nil
}

func parseUUID(b []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid uuid").
			WithTag("length", len(b)).
			Wrap(err)
	}
	return id, nil
}

func consumeFloat(typ protowire.Type, b []byte) (float32, int) {
	if typ != protowire.Fixed32Type {
		return 0, 0
	}

	v, n := protowire.ConsumeFixed32(b)
	return math.Float32frombits(v), n
}

func consumeVec(b []byte) (models.Vec3, error) {
	var v models.Vec3

	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		f, n := consumeFloat(typ, b)

		switch num {
		case vecX:
			v.X = f
		case vecY:
			v.Y = f
		case vecZ:
			v.Z = f
		}
		return n, nil
	})

	return v, err
}

func consumeUint32s(typ protowire.Type, b []byte, values *[]uint32) int {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*values = append(*values, uint32(v))
		}
		return n

	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}

		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*values = append(*values, uint32(v))
			packed = packed[m:]
		}
		return n

	default:
		return 0
	}
}

func consumeAddObject(b []byte, a *AddObject) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		var err error
		switch num {
		case addObjectPointCloud:
			a.PointCloud, a.LineSet, a.Overlay = &PointCloud{}, nil, nil
			err = consumePointCloud(v, a.PointCloud)

		case addObjectLineSet:
			a.PointCloud, a.LineSet, a.Overlay = nil, &LineSet{}, nil
			err = consumeLineSet(v, a.LineSet)

		case addObjectOverlay:
			a.PointCloud, a.LineSet, a.Overlay = nil, nil, &Overlay{}
			err = consumeOverlay(v, a.Overlay)
		}
		return n, err
	})
}

func consumePointCloud(b []byte, pc *PointCloud) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != pointCloudPCDData || typ != protowire.BytesType {
			return 0, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n >= 0 {
			pc.PCDData = append([]byte(nil), v...)
		}
		return n, nil
	})
}

func consumeLineSet(b []byte, ls *LineSet) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case lineSetPoints:
			if typ != protowire.BytesType {
				return 0, nil
			}

			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}

			p, err := consumeVec(v)
			ls.Points = append(ls.Points, p)
			return n, err

		case lineSetFromIndex:
			return consumeUint32s(typ, b, &ls.FromIndex), nil

		case lineSetToIndex:
			return consumeUint32s(typ, b, &ls.ToIndex), nil

		default:
			return 0, nil
		}
	})
}

func consumeOverlay(b []byte, o *Overlay) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}

		var err error
		switch num {
		case overlayPosition:
			o.Position, err = consumeVec(v)
		case overlayText:
			o.Text = string(v)
		}
		return n, err
	})
}

func consumeSetCamera(b []byte, s *SetCamera) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case setCameraPosition:
			if typ != protowire.BytesType {
				return 0, nil
			}

			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}

			var err error
			s.Setting = CameraPosition
			s.Position, err = consumeVec(v)
			return n, err

		case setCameraFrustumHeight:
			f, n := consumeFloat(typ, b)
			if n > 0 {
				s.Setting = CameraOrthographic
				s.FrustumHeight = f
			}
			return n, nil

		case setCameraFOV:
			f, n := consumeFloat(typ, b)
			if n > 0 {
				s.Setting = CameraPerspective
				s.FOV = f
			}
			return n, nil

		default:
			return 0, nil
		}
	})
}

func consumeResult(b []byte, r *Reply) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}

		switch num {
		case resultSuccess:
			r.Result = ResultSuccess
		case resultFailure:
			r.Result = ResultFailure
		default:
			return 0, nil
		}

		v, n := protowire.ConsumeString(b)
		r.Message = v
		return n, nil
	})
}

func consumeCameraState(b []byte, s *CameraState) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case cameraStatePosition, cameraStateTarget, cameraStateUp:
			if typ != protowire.BytesType {
				return 0, nil
			}

			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}

			vec, err := consumeVec(v)
			switch num {
			case cameraStatePosition:
				s.Position = vec
			case cameraStateTarget:
				s.Target = vec
			default:
				s.Up = vec
			}
			return n, err

		case cameraStateMode, cameraStateRollLock:
			if typ != protowire.VarintType {
				return 0, nil
			}

			v, n := protowire.ConsumeVarint(b)
			if num == cameraStateMode {
				s.Mode = CameraMode(int32(v))
			} else {
				s.RollLock = protowire.DecodeBool(v)
			}
			return n, nil

		case cameraStateFOV:
			f, n := consumeFloat(typ, b)
			s.FOV = f
			return n, nil

		case cameraStateFrustumHeight:
			f, n := consumeFloat(typ, b)
			s.FrustumHeight = f
			return n, nil

		default:
			return 0, nil
		}
	})
}
