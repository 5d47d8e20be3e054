package dispatch

const (
	// The error type returned when a command id is already pending.
	ErrTypeDuplicateID = "duplicate_id_error"

	// The error type returned when a viewer reports a failure or when the
	// channel to the viewer fails.
	ErrTypeRemote = "remote_error"

	// The error type returned when a viewer reply holds no result.
	ErrTypeProtocol = "protocol_error"

	// The error type returned when a caller stops waiting for a reply.
	ErrTypeWaitCanceled = "wait_canceled_error"
)
