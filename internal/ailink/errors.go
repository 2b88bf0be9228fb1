package ailink

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayExhausted matches every failure where the attempt budget ran out.
	ErrGatewayExhausted = errors.New("gateway exhausted")
	// ErrSchemaValidation matches every structured extraction failure.
	ErrSchemaValidation = errors.New("schema validation failed")
	// ErrTimeout matches caller deadline or cancellation during dispatch.
	ErrTimeout = errors.New("gateway timeout")
	// ErrNoEndpoints is returned when the pool is empty.
	ErrNoEndpoints = errors.New("provider pool is empty")
)

// ErrorKind classifies a single provider call failure.
type ErrorKind string

const (
	KindAuth              ErrorKind = "auth"
	KindRateLimited       ErrorKind = "rate_limited"
	KindTransport         ErrorKind = "transport"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindRejected          ErrorKind = "rejected"
)

// CallError is one failed call to one endpoint.
type CallError struct {
	Endpoint string
	Tier     Tier
	Kind     ErrorKind
	Err      error
}

func (e *CallError) Error() string {
	if e == nil {
		return "call error"
	}
	return fmt.Sprintf("%s endpoint %s: %s: %v", e.Tier, e.Endpoint, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExhaustedError reports that no endpoint succeeded within the attempt budget.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return ErrGatewayExhausted.Error()
	}
	if e.LastErr == nil {
		return fmt.Sprintf("%s after %d attempts", ErrGatewayExhausted, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrGatewayExhausted, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrGatewayExhausted
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.LastErr
}

// SchemaValidationError reports that no schema-conformant object could be recovered.
type SchemaValidationError struct {
	Schema string
	Reason string
	Raw    string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	if e == nil {
		return ErrSchemaValidation.Error()
	}
	msg := ErrSchemaValidation.Error()
	if e.Schema != "" {
		msg += " (" + e.Schema + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

func (e *SchemaValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError wraps the context error that aborted dispatch.
type TimeoutError struct {
	Attempts int
	LastErr  error
	Err      error
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ErrTimeout.Error()
	}
	if e.LastErr != nil {
		return fmt.Sprintf("%s after %d attempts: %v (last error: %v)", ErrTimeout, e.Attempts, e.Err, e.LastErr)
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrTimeout, e.Attempts, e.Err)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LastCallError returns the most recent per-call failure wrapped in err, if any.
func LastCallError(err error) *CallError {
	var cerr *CallError
	if errors.As(err, &cerr) {
		return cerr
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) && exhausted.LastErr != nil {
		if errors.As(exhausted.LastErr, &cerr) {
			return cerr
		}
	}
	return nil
}
