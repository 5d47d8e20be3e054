// Package viewer sends scene objects and camera commands to a remote viewer.
package viewer

import (
	"context"
	"math/rand/v2"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/pointcloud-viewer/dispatch"
	"github.com/aukilabs/pointcloud-viewer/downsample"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/aukilabs/pointcloud-viewer/protocol"
)

// Commander sends commands to a viewer and waits for their replies.
// dispatch.Dispatcher is the implementation used outside of tests.
type Commander interface {
	// Sends an AddObject command and returns the id of the created object.
	SendAndWait(ctx context.Context, cmd protocol.Command) (string, error)

	// Sends a command and returns its reply.
	Do(ctx context.Context, cmd protocol.Command) (protocol.Reply, error)
}

// Viewer is a remote viewer where point clouds, line sets, overlays and camera
// changes are sent.
//
// A Viewer is safe for concurrent use only when Rand is nil.
type Viewer struct {
	Commander Commander

	// The strategy used to reduce point clouds larger than MaxPoints.
	Strategy downsample.Strategy

	// The maximum number of points sent in a point cloud. Zero disables
	// downsampling.
	MaxPoints int

	// The generator used by random sampling. Optional.
	Rand *rand.Rand
}

// SendPointCloud sends a point cloud with optional per point colors, 3 bytes
// per point. It returns the id of the created object.
//
// Clouds larger than MaxPoints are downsampled. Colors are packed into a 4th
// column beforehand so that they go through the same reduction as positions.
func (v *Viewer) SendPointCloud(ctx context.Context, xyz models.PointSet, rgb []uint8) (string, error) {
	var obj models.SceneObject = models.PointCloud{
		XYZ: xyz,
		RGB: rgb,
	}

	// Malformed clouds are left to the encoder so that they fail with a
	// validation error.
	wellFormed := xyz.Width == 3 &&
		xyz.HasValidShape() &&
		(rgb == nil || len(rgb) == 3*xyz.Len())

	if wellFormed && v.exceedsMaxPoints(xyz) {
		points := xyz
		if rgb != nil {
			points = xyz.WithColors(rgb)
		}

		points, err := v.downsample(points)
		if err != nil {
			return "", err
		}

		if rgb != nil {
			obj = models.PointCloudXYZRGB{XYZRGB: points}
		} else {
			obj = models.PointCloud{XYZ: points}
		}
	}

	return v.sendObject(ctx, obj)
}

// SendPointCloudXYZRGB sends a point cloud whose 4th column holds packed
// colors. It returns the id of the created object.
func (v *Viewer) SendPointCloudXYZRGB(ctx context.Context, xyzrgb models.PointSet) (string, error) {
	if xyzrgb.Width == 4 && xyzrgb.HasValidShape() && v.exceedsMaxPoints(xyzrgb) {
		points, err := v.downsample(xyzrgb)
		if err != nil {
			return "", err
		}
		xyzrgb = points
	}

	return v.sendObject(ctx, models.PointCloudXYZRGB{XYZRGB: xyzrgb})
}

// SendLineSet sends segments between the given points. Each line holds two
// indexes into points.
func (v *Viewer) SendLineSet(ctx context.Context, points []models.Vec3, lines [][2]uint32) (string, error) {
	return v.sendObject(ctx, models.LineSet{
		Points: points,
		Lines:  lines,
	})
}

// SendOverlayText sends a text displayed at the given position.
func (v *Viewer) SendOverlayText(ctx context.Context, text string, x, y, z float32) (string, error) {
	return v.sendObject(ctx, models.Overlay{
		Text:     text,
		Position: models.NewVec3(x, y, z),
	})
}

// SetCameraPosition moves the viewer camera.
func (v *Viewer) SetCameraPosition(ctx context.Context, x, y, z float32) error {
	return v.setCamera(ctx, &protocol.SetCamera{
		Setting:  protocol.CameraPosition,
		Position: models.NewVec3(x, y, z),
	})
}

// SetOrthographicCamera switches the viewer to an orthographic projection
// showing the given height of the scene.
func (v *Viewer) SetOrthographicCamera(ctx context.Context, frustumHeight float32) error {
	return v.setCamera(ctx, &protocol.SetCamera{
		Setting:       protocol.CameraOrthographic,
		FrustumHeight: frustumHeight,
	})
}

// SetPerspectiveCamera switches the viewer to a perspective projection with
// the given vertical field of view in degrees.
func (v *Viewer) SetPerspectiveCamera(ctx context.Context, fov float32) error {
	return v.setCamera(ctx, &protocol.SetCamera{
		Setting: protocol.CameraPerspective,
		FOV:     fov,
	})
}

// GetCameraState returns the current state of the viewer camera.
func (v *Viewer) GetCameraState(ctx context.Context) (protocol.CameraState, error) {
	cmd, err := protocol.NewCommand(&protocol.GetCameraState{})
	if err != nil {
		return protocol.CameraState{}, err
	}

	reply, err := v.Commander.Do(ctx, cmd)
	if err != nil {
		return protocol.CameraState{}, err
	}

	if reply.CameraState == nil {
		return protocol.CameraState{}, errors.New("reply has no camera state").
			WithType(dispatch.ErrTypeProtocol).
			WithTag("correlation_id", cmd.ID)
	}
	return *reply.CameraState, nil
}

func (v *Viewer) setCamera(ctx context.Context, s *protocol.SetCamera) error {
	cmd, err := protocol.NewCommand(s)
	if err != nil {
		return err
	}

	_, err = v.Commander.Do(ctx, cmd)
	return err
}

func (v *Viewer) sendObject(ctx context.Context, obj models.SceneObject) (string, error) {
	payload, err := protocol.EncodeObject(obj)
	if err != nil {
		return "", err
	}

	cmd, err := protocol.NewCommand(payload)
	if err != nil {
		return "", err
	}

	return v.Commander.SendAndWait(ctx, cmd)
}

func (v *Viewer) exceedsMaxPoints(p models.PointSet) bool {
	return v.MaxPoints > 0 && p.Len() > v.MaxPoints
}

func (v *Viewer) downsample(p models.PointSet) (models.PointSet, error) {
	var opts []downsample.Option
	if v.Rand != nil {
		opts = append(opts, downsample.WithRand(v.Rand))
	}

	res, err := downsample.Downsample(p, v.Strategy, v.MaxPoints, opts...)
	if err != nil {
		return models.PointSet{}, err
	}

	instrumentDownsample(v.Strategy, p.Len(), res.Len())
	logs.WithTag("strategy", v.Strategy.String()).
		WithTag("input_points", p.Len()).
		WithTag("output_points", res.Len()).
		Debug("point cloud downsampled")
	return res, nil
}
