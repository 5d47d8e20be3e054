package models

// SceneObject is an entity rendered by the remote viewer. It is one of
// PointCloud, PointCloudXYZRGB, LineSet or Overlay.
type SceneObject interface {
	sceneObject()
}

// PointCloud is a point cloud with optional per point colors.
type PointCloud struct {
	// Points of width 3.
	XYZ PointSet

	// Optional row-major colors, 3 bytes per point.
	RGB []uint8
}

// PointCloudXYZRGB is a point cloud whose 4th column already holds packed
// colors.
type PointCloudXYZRGB struct {
	XYZRGB PointSet
}

// LineSet is a set of segments between indexed points.
type LineSet struct {
	Points []Vec3

	// Pairs of indexes into Points.
	Lines [][2]uint32
}

// Overlay is a text displayed at a position that follows the camera.
type Overlay struct {
	Text     string
	Position Vec3
}

func (PointCloud) sceneObject()       {}
func (PointCloudXYZRGB) sceneObject() {}
func (LineSet) sceneObject()          {}
func (Overlay) sceneObject()          {}
