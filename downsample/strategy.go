package downsample

import (
	"fmt"
	"math"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Kind is a downsampling method.
type Kind int

const (
	// None returns points unchanged.
	None Kind = iota

	// RandomSample picks points uniformly at random, with replacement.
	RandomSample

	// VoxelGrid replaces the points of each occupied voxel by their centroid.
	VoxelGrid
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case RandomSample:
		return "random"
	case VoxelGrid:
		return "voxel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Strategy describes how a point set is downsampled.
type Strategy struct {
	Kind Kind

	// The edge length of a voxel. Only used by VoxelGrid.
	VoxelSize float64
}

// NoneStrategy returns a strategy that leaves points unchanged.
func NoneStrategy() Strategy {
	return Strategy{Kind: None}
}

// RandomSampleStrategy returns a strategy that samples points with
// replacement.
func RandomSampleStrategy() Strategy {
	return Strategy{Kind: RandomSample}
}

// VoxelGridStrategy returns a strategy that averages points by voxel.
func VoxelGridStrategy(voxelSize float64) Strategy {
	return Strategy{
		Kind:      VoxelGrid,
		VoxelSize: voxelSize,
	}
}

func (s Strategy) String() string {
	if s.Kind == VoxelGrid {
		return fmt.Sprintf("%s(%g)", s.Kind, s.VoxelSize)
	}
	return s.Kind.String()
}

// Validate returns a config error when the strategy parameters are invalid.
func (s Strategy) Validate() error {
	switch s.Kind {
	case None, RandomSample:
		return nil

	case VoxelGrid:
		// Written to also reject NaN.
		if !(s.VoxelSize > 0) {
			return errors.New("voxel size must be positive").
				WithType(ErrTypeConfig).
				WithTag("voxel_size", s.VoxelSize)
		}

		// Voxel keys are computed on float32 coordinates scaled by the
		// inverse voxel size.
		if math.IsInf(float64(float32(1/s.VoxelSize)), 1) {
			return errors.New("voxel size is too small").
				WithType(ErrTypeConfig).
				WithTag("voxel_size", s.VoxelSize)
		}
		return nil

	default:
		return errors.New("unknown downsampling strategy").
			WithType(ErrTypeConfig).
			WithTag("kind", int(s.Kind))
	}
}

// ParseStrategy returns the strategy named by s: none, random or voxel. The
// voxel size is only used by voxel.
func ParseStrategy(s string, voxelSize float64) (Strategy, error) {
	var strategy Strategy

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		strategy = NoneStrategy()

	case "random", "random_sample":
		strategy = RandomSampleStrategy()

	case "voxel", "voxel_grid":
		strategy = VoxelGridStrategy(voxelSize)

	default:
		return Strategy{}, errors.New("unknown downsampling strategy").
			WithType(ErrTypeConfig).
			WithTag("strategy", s)
	}

	return strategy, strategy.Validate()
}
