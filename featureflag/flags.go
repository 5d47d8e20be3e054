package featureflag

// Flag is the name of a feature flag.
type Flag string

const (
	// Skips the bounding box line set sent by the demo.
	FlagDisableBoundingBox Flag = "DISABLE_BOUNDING_BOX"

	// Skips the corner coordinate labels sent by the demo.
	FlagDisableOverlayLabels Flag = "DISABLE_OVERLAY_LABELS"

	// Leaves the viewer camera untouched after the scene is sent.
	FlagDisableCameraSetup Flag = "DISABLE_CAMERA_SETUP"
)

var knownFlags = map[Flag]struct{}{
	FlagDisableBoundingBox:   {},
	FlagDisableOverlayLabels: {},
	FlagDisableCameraSetup:   {},
}

// IsKnown reports whether the flag is read by the host.
func (f Flag) IsKnown() bool {
	_, ok := knownFlags[f]
	return ok
}
