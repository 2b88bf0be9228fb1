package openai

import (
	"errors"
	"net/http"

	"github.com/nexusadvisory/llmgate/internal/ailink/content"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

type chatCompletionResponse struct {
	Choices []choice       `json:"choices"`
	Usage   *usage         `json:"usage,omitempty"`
	Error   *embeddedError `json:"error,omitempty"`
}

type choice struct {
	Message      chatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatResponseMessage struct {
	Content string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type embeddedError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

func (e *embeddedError) statusCode() int {
	switch v := e.Code.(type) {
	case float64:
		if v >= 400 && v <= 599 {
			return int(v)
		}
	}
	return http.StatusBadGateway
}

func toDriverResponse(resp *chatCompletionResponse) (*driver.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, &driver.DecodeError{Provider: "openai", Err: errors.New("empty response choices")}
	}

	choice := resp.Choices[0]
	response := &driver.Response{
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: choice.Message.Content}},
		FinishReason: choice.FinishReason,
	}

	if resp.Usage != nil {
		response.Usage = &driver.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return response, nil
}
