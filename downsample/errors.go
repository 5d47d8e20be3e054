package downsample

const (
	// The error type returned when a point set has an invalid row width.
	ErrTypeShape = "downsample_shape_error"

	// The error type returned when downsampling parameters are invalid.
	ErrTypeConfig = "downsample_config_error"
)
