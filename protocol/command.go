// Package protocol defines the messages exchanged with a remote viewer and
// their wire encoding.
package protocol

import (
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/google/uuid"
)

// Payload is the content of a command. It is one of *AddObject, *SetCamera or
// *GetCameraState.
type Payload interface {
	kind() string
	validate() error
}

// AddObject is a request to add an object to the viewer scene. Exactly one of
// its fields is set.
type AddObject struct {
	PointCloud *PointCloud
	LineSet    *LineSet
	Overlay    *Overlay
}

// PointCloud is a point cloud encoded in the binary PCD format.
type PointCloud struct {
	PCDData []byte
}

// LineSet is a set of segments. The i-th segment joins
// Points[FromIndex[i]] and Points[ToIndex[i]].
type LineSet struct {
	Points    []models.Vec3
	FromIndex []uint32
	ToIndex   []uint32
}

// Overlay is a text label anchored at a position.
type Overlay struct {
	Position models.Vec3
	Text     string
}

func (a *AddObject) kind() string {
	switch {
	case a.PointCloud != nil:
		return "add_point_cloud"
	case a.LineSet != nil:
		return "add_line_set"
	case a.Overlay != nil:
		return "add_overlay"
	default:
		return "add_object"
	}
}

func (a *AddObject) validate() error {
	var count int
	if a.PointCloud != nil {
		count++
	}
	if a.LineSet != nil {
		count++
	}
	if a.Overlay != nil {
		count++
	}

	if count != 1 {
		return errors.New("add object must hold exactly one object").
			WithType(ErrTypeValidation).
			WithTag("objects", count)
	}
	return nil
}

// CameraSetting is the camera property changed by a SetCamera command.
type CameraSetting int

const (
	// CameraPosition moves the camera.
	CameraPosition CameraSetting = iota

	// CameraOrthographic switches to an orthographic projection.
	CameraOrthographic

	// CameraPerspective switches to a perspective projection.
	CameraPerspective
)

func (s CameraSetting) String() string {
	switch s {
	case CameraPosition:
		return "position"
	case CameraOrthographic:
		return "orthographic"
	case CameraPerspective:
		return "perspective"
	default:
		return fmt.Sprintf("camera_setting(%d)", int(s))
	}
}

// SetCamera is a request to change the viewer camera. Only the field matching
// Setting is sent.
type SetCamera struct {
	Setting CameraSetting

	// The camera position, used by CameraPosition.
	Position models.Vec3

	// The visible height of the scene, used by CameraOrthographic.
	FrustumHeight float32

	// The vertical field of view in degrees, used by CameraPerspective.
	FOV float32
}

func (s *SetCamera) kind() string {
	return "set_camera"
}

func (s *SetCamera) validate() error {
	switch s.Setting {
	case CameraPosition:
		if s.Position.IsNaN() {
			return errors.New("camera position must be a number").
				WithType(ErrTypeValidation)
		}

	case CameraOrthographic:
		if !(s.FrustumHeight > 0) {
			return errors.New("frustum height must be positive").
				WithType(ErrTypeValidation).
				WithTag("frustum_height", s.FrustumHeight)
		}

	case CameraPerspective:
		if !(s.FOV > 0 && s.FOV < 180) {
			return errors.New("field of view must be between 0 and 180 degrees").
				WithType(ErrTypeValidation).
				WithTag("fov", s.FOV)
		}

	default:
		return errors.New("unknown camera setting").
			WithType(ErrTypeValidation).
			WithTag("setting", int(s.Setting))
	}
	return nil
}

// GetCameraState is a request for the viewer camera state.
type GetCameraState struct{}

func (g *GetCameraState) kind() string {
	return "get_camera_state"
}

func (g *GetCameraState) validate() error {
	return nil
}

// Command is a request sent to a viewer. Exactly one payload field is set.
type Command struct {
	// The correlation id echoed by the viewer reply.
	ID uuid.UUID

	AddObject      *AddObject
	SetCamera      *SetCamera
	GetCameraState *GetCameraState
}

// NewCommand returns a command that carries the given payload under a new
// random correlation id.
func NewCommand(p Payload) (Command, error) {
	cmd := Command{ID: uuid.New()}

	switch p := p.(type) {
	case *AddObject:
		cmd.AddObject = p
	case *SetCamera:
		cmd.SetCamera = p
	case *GetCameraState:
		cmd.GetCameraState = p
	}

	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Payload returns the command payload, or nil when none is set.
func (c Command) Payload() Payload {
	switch {
	case c.AddObject != nil:
		return c.AddObject
	case c.SetCamera != nil:
		return c.SetCamera
	case c.GetCameraState != nil:
		return c.GetCameraState
	default:
		return nil
	}
}

// Kind returns a short name of the command payload, suited for metric labels.
func (c Command) Kind() string {
	if p := c.Payload(); p != nil {
		return p.kind()
	}
	return "unknown"
}

// Validate returns a validation error when the command does not hold exactly
// one valid payload.
func (c Command) Validate() error {
	var count int
	if c.AddObject != nil {
		count++
	}
	if c.SetCamera != nil {
		count++
	}
	if c.GetCameraState != nil {
		count++
	}

	if count != 1 {
		return errors.New("command must hold exactly one payload").
			WithType(ErrTypeValidation).
			WithTag("payloads", count)
	}
	return c.Payload().validate()
}
