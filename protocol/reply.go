package protocol

import (
	"fmt"

	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/google/uuid"
)

// ResultKind is the outcome reported by a viewer reply.
type ResultKind int

const (
	// ResultNone is set when a reply carries no result.
	ResultNone ResultKind = iota

	// ResultSuccess is set when the viewer executed the command.
	ResultSuccess

	// ResultFailure is set when the viewer rejected the command.
	ResultFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultNone:
		return "none"
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// Reply is a message sent by a viewer in response to a command.
type Reply struct {
	// The correlation id of the command being answered.
	ID uuid.UUID

	Result ResultKind

	// The created object id on success, or the failure reason.
	Message string

	// The camera state, sent in response to GetCameraState.
	CameraState *CameraState
}

// SuccessReply returns a reply reporting the creation of the given object.
func SuccessReply(id uuid.UUID, objectID string) Reply {
	return Reply{
		ID:      id,
		Result:  ResultSuccess,
		Message: objectID,
	}
}

// FailureReply returns a reply reporting a command failure.
func FailureReply(id uuid.UUID, reason string) Reply {
	return Reply{
		ID:      id,
		Result:  ResultFailure,
		Message: reason,
	}
}

// CameraMode is the projection used by a viewer camera.
type CameraMode int

const (
	Perspective CameraMode = iota
	Orthographic
)

func (m CameraMode) String() string {
	switch m {
	case Perspective:
		return "perspective"
	case Orthographic:
		return "orthographic"
	default:
		return fmt.Sprintf("camera_mode(%d)", int(m))
	}
}

// CameraState describes a viewer camera.
type CameraState struct {
	Position      models.Vec3
	Target        models.Vec3
	Up            models.Vec3
	Mode          CameraMode
	RollLock      bool
	FOV           float32
	FrustumHeight float32
}
