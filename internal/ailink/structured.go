package ailink

import (
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/content"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

const (
	structuredInstruction = "\nReturn ONLY a JSON object matching this schema: "
	plainInstruction      = "\nReturn ONLY a valid JSON object matching this schema (no markdown, no preamble): "
)

// systemPromptFor appends the schema instruction matching the request mode.
func systemPromptFor(system string, s Schema, jsonMode bool) string {
	if s == nil {
		return system
	}
	if jsonMode {
		return system + structuredInstruction + schemaJSON(s)
	}
	return system + plainInstruction + schemaJSON(s)
}

// buildDriverRequest renders a gateway request for one endpoint. jsonMode asks
// the provider for constrained JSON output.
func buildDriverRequest(ep Endpoint, req GenerationRequest, jsonMode bool, meta map[string]string) *driver.Request {
	jsonMode = jsonMode && req.Schema != nil
	system := systemPromptFor(req.SystemPrompt, req.Schema, jsonMode)

	messages := make([]content.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, content.TextMessage(content.RoleSystem, system))
	}
	messages = append(messages, content.TextMessage(content.RoleUser, req.Prompt))

	maxTokens := req.MaxTokens
	out := &driver.Request{
		Model:     ep.Model,
		Messages:  messages,
		MaxTokens: &maxTokens,
		Metadata:  meta,
	}
	if jsonMode {
		out.ResponseFormat = driver.JSONObjectFormat()
	}
	return out
}
