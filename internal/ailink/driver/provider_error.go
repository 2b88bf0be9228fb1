package driver

import "fmt"

// ProviderError captures a non-2xx provider response.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Message == "" {
		return fmt.Sprintf("%s request failed: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// DecodeError reports a 2xx response whose body could not be interpreted.
type DecodeError struct {
	Provider string
	Err      error
}

func (e *DecodeError) Error() string {
	if e == nil || e.Err == nil {
		return "decode response"
	}
	return fmt.Sprintf("%s decode response: %v", e.Provider, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
