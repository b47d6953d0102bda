package session

import "fmt"

// AdmissionError rejects an init frame with missing required fields. No
// session is created; the client receives an error notice.
type AdmissionError struct {
	Field string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// FinalizeError wraps a failure inside the finalize sequence. The session
// ends in status failed when one occurs.
type FinalizeError struct {
	Step string
	Err  error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize failed at %s: %v", e.Step, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}
