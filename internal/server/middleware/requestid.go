package middleware

import (
	"context"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nexusadvisory/llmgate/internal/ailink"
)

// RequestIDHeader carries the gateway request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID reuses a sane inbound ID or mints one, hands it to the dispatcher
// through the context, and echoes it on the response. Generation results and
// error envelopes therefore carry the same ID the caller sees in the header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := cleanRequestID(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = chimw.GetReqID(r.Context())
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ailink.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID returns the gateway request ID, falling back to chi's.
func GetRequestID(ctx context.Context) string {
	if id := ailink.RequestIDFrom(ctx); id != "" {
		return id
	}
	return chimw.GetReqID(ctx)
}

// cleanRequestID drops inbound IDs that are too long or carry anything but
// visible ASCII, since they end up in logs and upstream metadata.
func cleanRequestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return ""
		}
	}
	return id
}
