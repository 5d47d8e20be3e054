package main

import (
	"context"
	"fmt"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/pointcloud-viewer/featureflag"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/aukilabs/pointcloud-viewer/viewer"
	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
)

// The number of overlay labels sent at the same time.
const overlayConcurrency = 4

// The edges of the unit cube, as indexes into cubeCorners.
var cubeEdges = [][2]uint32{
	{0, 1}, {0, 2}, {1, 3}, {2, 3},
	{4, 5}, {4, 6}, {5, 7}, {6, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

var cubeCorners = []models.Vec3{
	{X: 0, Y: 0, Z: 0},
	{X: 1, Y: 0, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 1, Y: 1, Z: 0},
	{X: 0, Y: 0, Z: 1},
	{X: 1, Y: 0, Z: 1},
	{X: 0, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: 1},
}

// scene is a centered point cloud and the cube that bounds it.
type scene struct {
	cloud  models.PointSet
	radius float32
}

// newScene drops the points with a NaN coordinate and moves the remaining
// ones so that their centroid is the origin.
func newScene(points models.PointSet) scene {
	width := points.Width
	data := make([]float32, 0, len(points.Data))

	for i := 0; i < points.Len(); i++ {
		row := points.Row(i)
		if math32.IsNaN(row[0]) || math32.IsNaN(row[1]) || math32.IsNaN(row[2]) {
			continue
		}
		data = append(data, row...)
	}

	cloud := models.PointSet{Width: width, Data: data}
	center := models.Centroid(cloud)
	for i := 0; i < cloud.Len(); i++ {
		row := cloud.Row(i)
		row[0] -= center.X
		row[1] -= center.Y
		row[2] -= center.Z
	}

	return scene{
		cloud:  cloud,
		radius: models.Radius(cloud),
	}
}

// corners returns the corners of the cube of edge 2*radius centered on the
// origin.
func (s scene) corners() []models.Vec3 {
	offset := models.NewVec3(-s.radius, -s.radius, -s.radius)

	corners := make([]models.Vec3, len(cubeCorners))
	for i, c := range cubeCorners {
		corners[i] = c.Mul(s.radius * 2).Add(offset)
	}
	return corners
}

// frustumHeight returns the orthographic frustum height that shows the whole
// cloud.
func (s scene) frustumHeight() float32 {
	if s.radius <= 0 {
		return 1
	}
	return s.radius * 2
}

// send sends the scene to the given viewer: the cloud, a coordinate label on
// each corner of the bounding cube, the cube edges, and an orthographic
// camera framing it all.
func (s scene) send(ctx context.Context, v *viewer.Viewer, flags featureflag.FeatureFlag) error {
	id, err := s.sendCloud(ctx, v)
	if err != nil {
		return errors.New("sending point cloud failed").Wrap(err)
	}
	logs.WithTag("object_id", id).
		WithTag("points", s.cloud.Len()).
		WithTag("radius", s.radius).
		Info("point cloud sent")

	corners := s.corners()

	flags.IfNotSet(featureflag.FlagDisableOverlayLabels, func() {
		err = s.sendLabels(ctx, v, corners)
	})
	if err != nil {
		return err
	}

	flags.IfNotSet(featureflag.FlagDisableBoundingBox, func() {
		if _, err = v.SendLineSet(ctx, corners, cubeEdges); err != nil {
			err = errors.New("sending bounding box failed").Wrap(err)
		}
	})
	if err != nil {
		return err
	}

	flags.IfNotSet(featureflag.FlagDisableCameraSetup, func() {
		err = v.SetOrthographicCamera(ctx, s.frustumHeight())
	})
	return err
}

func (s scene) sendCloud(ctx context.Context, v *viewer.Viewer) (string, error) {
	if s.cloud.Width == 4 {
		return v.SendPointCloudXYZRGB(ctx, s.cloud)
	}
	return v.SendPointCloud(ctx, s.cloud, nil)
}

func (s scene) sendLabels(ctx context.Context, v *viewer.Viewer, corners []models.Vec3) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(overlayConcurrency)

	for _, c := range corners {
		g.Go(func() error {
			text := fmt.Sprintf("%.2f,%.2f,%.2f", c.X, c.Y, c.Z)
			if _, err := v.SendOverlayText(ctx, text, c.X, c.Y, c.Z); err != nil {
				return errors.New("sending overlay label failed").
					WithTag("text", text).
					Wrap(err)
			}
			return nil
		})
	}
	return g.Wait()
}
