package protocol

const (
	// The error type returned when an object or a command cannot be encoded.
	ErrTypeValidation = "validation_error"

	// The error type returned when a message read from a viewer is not valid.
	ErrTypeDecode = "decode_error"
)
