package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexusadvisory/llmgate/internal/ailink/content"
	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("", "")
	_, err := client.Complete(context.Background(), &driver.Request{
		Model:    "glm-4.7",
		Messages: []content.Message{content.TextMessage(content.RoleUser, "hi")},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestMessagesURL(t *testing.T) {
	require.Equal(t, "https://api.anthropic.com/v1/messages", messagesURL("https://api.anthropic.com"))
	require.Equal(t, "https://api.z.ai/api/anthropic/v1/messages", messagesURL("https://api.z.ai/api/anthropic/"))
	require.Equal(t, "http://x/v1/messages", messagesURL("http://x/v1"))
}

func TestClientSendsMessagesRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "zai-key", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var payload messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "glm-4.7", payload.Model)
		require.Equal(t, "be brief", payload.System)
		require.Equal(t, 4000, payload.MaxTokens)
		require.Len(t, payload.Messages, 1)
		require.Equal(t, "user", payload.Messages[0].Role)
		require.Equal(t, "hello", payload.Messages[0].Content)

		_, _ = w.Write([]byte(`{"content":[{"type":"thinking"},{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "zai-key")
	client.HTTPClient = server.Client()

	resp, err := client.Complete(context.Background(), &driver.Request{
		Model: "glm-4.7",
		Messages: []content.Message{
			content.TextMessage(content.RoleSystem, "be brief"),
			content.TextMessage(content.RoleUser, "hello"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hi there", resp.Text())
	require.Equal(t, "end_turn", resp.FinishReason)
	require.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"quota exceeded"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), &driver.Request{
		Model:    "glm-4.7",
		Messages: []content.Message{content.TextMessage(content.RoleUser, "hello")},
	})
	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, "rate_limit_error: quota exceeded", perr.Message)
}

func TestClientRejectsResponseWithoutText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), &driver.Request{
		Model:    "glm-4.7",
		Messages: []content.Message{content.TextMessage(content.RoleUser, "hello")},
	})
	var derr *driver.DecodeError
	require.True(t, errors.As(err, &derr))
}
