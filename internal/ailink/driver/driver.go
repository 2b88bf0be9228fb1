package driver

import (
	"context"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/content"
)

// Driver defines the interface for text completion providers.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "openai").
	Name() string
	// Capabilities returns what this driver supports.
	Capabilities() Capabilities
}

// Capabilities describes driver features.
type Capabilities struct {
	SupportsJSONMode  bool
	SupportsSystem    bool
	SupportsStreaming bool
}

// ResponseFormat specifies the expected response format.
type ResponseFormat struct {
	Type string `json:"type"` // "text", "json_object"
}

// JSONObjectFormat requests constrained JSON output.
func JSONObjectFormat() *ResponseFormat {
	return &ResponseFormat{Type: "json_object"}
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model          string
	Messages       []content.Message
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	Metadata       map[string]string
}

// Response is a provider-agnostic completion response.
type Response struct {
	Content      []content.ContentBlock
	FinishReason string
	Usage        *Usage
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == content.ContentTypeText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// SystemAndUser splits messages into a joined system prompt and the remaining turns.
func SystemAndUser(messages []content.Message) (string, []content.Message) {
	var system []string
	rest := make([]content.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == content.RoleSystem {
			for _, block := range msg.Content {
				if block.Type == content.ContentTypeText && strings.TrimSpace(block.Text) != "" {
					system = append(system, block.Text)
				}
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
