package protocol

import (
	"unicode/utf8"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/pointcloud-viewer/models"
	"github.com/aukilabs/pointcloud-viewer/pcd"
)

// EncodeObject returns the AddObject payload that creates the given object in
// a viewer scene.
func EncodeObject(obj models.SceneObject) (*AddObject, error) {
	switch obj := obj.(type) {
	case models.PointCloud:
		return encodePointCloud(obj)

	case models.PointCloudXYZRGB:
		return encodePointCloudXYZRGB(obj)

	case models.LineSet:
		return encodeLineSet(obj)

	case models.Overlay:
		return encodeOverlay(obj)

	case nil:
		return nil, errors.New("object is required").
			WithType(ErrTypeValidation)

	default:
		return nil, errors.Newf("unsupported object %T", obj).
			WithType(ErrTypeValidation)
	}
}

func encodePointCloud(obj models.PointCloud) (*AddObject, error) {
	if obj.XYZ.Data == nil {
		return nil, errors.New("xyz is required").
			WithType(ErrTypeValidation)
	}

	if obj.XYZ.Width != 3 || !obj.XYZ.HasValidShape() {
		return nil, errors.New("xyz must have 3 columns").
			WithType(ErrTypeValidation).
			WithTag("width", obj.XYZ.Width).
			WithTag("values", len(obj.XYZ.Data))
	}

	points := obj.XYZ
	if obj.RGB != nil {
		if len(obj.RGB) != 3*points.Len() {
			return nil, errors.New("rgb must have 3 values per point").
				WithType(ErrTypeValidation).
				WithTag("points", points.Len()).
				WithTag("rgb_values", len(obj.RGB))
		}
		points = points.WithColors(obj.RGB)
	}

	return &AddObject{
		PointCloud: &PointCloud{PCDData: pcd.Encode(points)},
	}, nil
}

func encodePointCloudXYZRGB(obj models.PointCloudXYZRGB) (*AddObject, error) {
	if obj.XYZRGB.Data == nil {
		return nil, errors.New("xyzrgb is required").
			WithType(ErrTypeValidation)
	}

	if obj.XYZRGB.Width != 4 || !obj.XYZRGB.HasValidShape() {
		return nil, errors.New("xyzrgb must have 4 columns").
			WithType(ErrTypeValidation).
			WithTag("width", obj.XYZRGB.Width).
			WithTag("values", len(obj.XYZRGB.Data))
	}

	return &AddObject{
		PointCloud: &PointCloud{PCDData: pcd.Encode(obj.XYZRGB)},
	}, nil
}

func encodeLineSet(obj models.LineSet) (*AddObject, error) {
	from := make([]uint32, len(obj.Lines))
	to := make([]uint32, len(obj.Lines))

	for i, l := range obj.Lines {
		if int64(l[0]) >= int64(len(obj.Points)) || int64(l[1]) >= int64(len(obj.Points)) {
			return nil, errors.New("line index out of range").
				WithType(ErrTypeValidation).
				WithTag("line", i).
				WithTag("from", l[0]).
				WithTag("to", l[1]).
				WithTag("points", len(obj.Points))
		}

		from[i] = l[0]
		to[i] = l[1]
	}

	return &AddObject{
		LineSet: &LineSet{
			Points:    append([]models.Vec3(nil), obj.Points...),
			FromIndex: from,
			ToIndex:   to,
		},
	}, nil
}

func encodeOverlay(obj models.Overlay) (*AddObject, error) {
	if !utf8.ValidString(obj.Text) {
		return nil, errors.New("overlay text must be valid utf-8").
			WithType(ErrTypeValidation)
	}

	return &AddObject{
		Overlay: &Overlay{
			Position: obj.Position,
			Text:     obj.Text,
		},
	}, nil
}
