// Package downsample reduces point sets to a bounded number of points while
// preserving their spatial distribution.
package downsample

import (
	"math"
	"math/rand/v2"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
)

// Option configures a Downsample call.
type Option func(*options)

type options struct {
	rand *rand.Rand
}

// WithRand sets the random generator used for sampling. Seeding it makes
// results reproducible.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rand = r
	}
}

// Downsample returns a point set of at most maxPoints points built from the
// given points with the given strategy.
//
// Points are returned unchanged when there are no more than maxPoints of
// them, or when the strategy is None. The input is never modified.
func Downsample(points models.PointSet, s Strategy, maxPoints int, opts ...Option) (models.PointSet, error) {
	if !points.HasValidShape() {
		return models.PointSet{}, errors.New("points must have 3 or 4 columns").
			WithType(ErrTypeShape).
			WithTag("width", points.Width).
			WithTag("values", len(points.Data))
	}

	if maxPoints < 1 {
		return models.PointSet{}, errors.New("max points must be at least 1").
			WithType(ErrTypeConfig).
			WithTag("max_points", maxPoints)
	}

	if err := s.Validate(); err != nil {
		return models.PointSet{}, err
	}

	if points.Len() <= maxPoints {
		return points, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	switch s.Kind {
	case RandomSample:
		return randomSample(o.rand, points, maxPoints), nil

	case VoxelGrid:
		return voxelGrid(o.rand, points, s.VoxelSize, maxPoints), nil

	default:
		return points, nil
	}
}

// randomSample draws n rows uniformly with replacement, in draw order.
func randomSample(r *rand.Rand, points models.PointSet, n int) models.PointSet {
	count := points.Len()
	data := make([]float32, 0, n*points.Width)

	for i := 0; i < n; i++ {
		data = append(data, points.Row(r.IntN(count))...)
	}

	return models.PointSet{
		Width: points.Width,
		Data:  data,
	}
}

type voxelKey [3]int64

type voxelAccum struct {
	sum   [4]float64
	count int
}

// voxelGrid averages the rows of each occupied voxel, in the order voxels are
// first seen, then randomly samples the centroids if there are still more
// than maxPoints of them.
//
// Keys are rounded half to even on the float32 scaled coordinate: with a voxel
// size of 1, x=0.5 and x=-0.5 fall in voxel 0 while x=1.5 and x=2.5 fall in
// voxel 2.
func voxelGrid(r *rand.Rand, points models.PointSet, voxelSize float64, maxPoints int) models.PointSet {
	scale := float32(1 / voxelSize)
	width := points.Width
	count := points.Len()

	voxels := make(map[voxelKey]*voxelAccum, count/4)
	var keys []voxelKey

	for i := 0; i < count; i++ {
		row := points.Row(i)
		key := voxelKey{
			int64(math.RoundToEven(float64(row[0] * scale))),
			int64(math.RoundToEven(float64(row[1] * scale))),
			int64(math.RoundToEven(float64(row[2] * scale))),
		}

		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccum{}
			voxels[key] = acc
			keys = append(keys, key)
		}

		for c, v := range row {
			acc.sum[c] += float64(v)
		}
		acc.count++
	}

	data := make([]float32, 0, len(keys)*width)
	for _, key := range keys {
		acc := voxels[key]
		for c := 0; c < width; c++ {
			data = append(data, float32(acc.sum[c]/float64(acc.count)))
		}
	}

	centroids := models.PointSet{
		Width: width,
		Data:  data,
	}
	if centroids.Len() > maxPoints {
		return randomSample(r, centroids, maxPoints)
	}
	return centroids
}
