package transport

import "fmt"

// Sender is the fire-and-forget command boundary. A nil return means the
// frame left this process; it says nothing about delivery.
type Sender interface {
	SendRead(deviceID, paramID, fromID string) error
	SendWrite(deviceID, paramID string, value float64, fromID string) error
}

// SendError wraps a transport-level send failure. It surfaces synchronously
// to the operation's caller and is never retried here; the link layer already
// retries below us.
type SendError struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("transport send failed (%s to %s): %v", e.Op, e.DeviceID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
