package ailink

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

// classifyError maps a driver failure onto an ErrorKind so the dispatcher never
// branches on free-text messages.
func classifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrSchemaValidation) {
		return KindMalformedResponse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}

	var derr *driver.DecodeError
	if errors.As(err, &derr) {
		return KindMalformedResponse
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return KindAuth
		case status == http.StatusTooManyRequests:
			return KindRateLimited
		case status == http.StatusRequestTimeout:
			return KindTransport
		case status >= 500 && status <= 599:
			return KindTransport
		case status >= 400 && status <= 499:
			return KindRejected
		default:
			return KindTransport
		}
	}

	return KindTransport
}

// isJSONModeUnsupported reports a provider refusing constrained JSON output.
func isJSONModeUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil && perr.StatusCode == http.StatusBadRequest {
		msg := strings.ToLower(perr.Message)
		return strings.Contains(msg, "json_object") || strings.Contains(msg, "response_format") || strings.Contains(msg, "json mode")
	}
	return false
}
