package cloud

import "fmt"

// TransportError indicates the request never produced a usable response:
// connection failures, timeouts and cancelled contexts all surface here.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("cloud transport failure: %s: %s", e.Op, e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the remote end answered, but not with an
// authoritative success: a non-2xx HTTP status, a body that does not decode,
// or an envelope missing the success sentinel. Callers must treat this the
// same as a TransportError, the split exists for logging and tests.
type ProtocolError struct {
	Op         string
	HTTPStatus int
	StatusCode int
	Message    string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("cloud protocol failure: %s: http=%d status=%d message=%q", e.Op, e.HTTPStatus, e.StatusCode, e.Message)
}
