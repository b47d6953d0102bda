package analysis

import "fmt"

// ConnectError wraps a failed attempt to open the analysis connection.
// The session manager treats it as a degraded admission, never a rejection.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to analysis service at %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
