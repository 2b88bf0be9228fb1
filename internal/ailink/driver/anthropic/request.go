package anthropic

import (
	"fmt"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/content"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildMessagesRequest(req *driver.Request) (*messagesRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	system, turns := driver.SystemAndUser(req.Messages)
	if len(turns) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	messages := make([]message, 0, len(turns))
	for _, turn := range turns {
		role := turn.Role
		if role != content.RoleAssistant {
			role = content.RoleUser
		}
		messages = append(messages, message{Role: role, Content: joinText(turn.Content)})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	return &messagesRequest{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, nil
}

func joinText(blocks []content.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
