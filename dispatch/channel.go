package dispatch

// Sender sends a message to a viewer and returns the number of bytes written.
type Sender func(msg []byte) (int, error)

// Receiver blocks until a message is received from a viewer. It returns the
// message and the number of bytes read.
type Receiver func() ([]byte, int, error)

// Channel is a bidirectional message channel to a viewer.
type Channel interface {
	// Creates a function that sends messages.
	Sender() Sender

	// Creates a function that receives messages.
	Receiver() Receiver

	// Closes the channel. Pending receives return an error.
	Close() error
}
