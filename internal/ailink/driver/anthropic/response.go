package anthropic

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/content"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

type messagesResponse struct {
	Content    []responseBlock `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      *usage          `json:"usage,omitempty"`
}

type responseBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func toDriverResponse(resp *messagesResponse) (*driver.Response, error) {
	if resp == nil {
		return nil, &driver.DecodeError{Provider: "anthropic", Err: errors.New("empty response")}
	}

	var text string
	found := false
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			found = true
			break
		}
	}
	if !found {
		return nil, &driver.DecodeError{Provider: "anthropic", Err: errors.New("response has no text content")}
	}

	response := &driver.Response{
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: text}},
		FinishReason: resp.StopReason,
	}
	if resp.Usage != nil {
		response.Usage = &driver.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return response, nil
}

func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && strings.TrimSpace(env.Error.Message) != "" {
		if env.Error.Type != "" {
			return env.Error.Type + ": " + env.Error.Message
		}
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}
