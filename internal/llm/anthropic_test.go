package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicClient_GenerateJSONWithSystem(t *testing.T) {
	var seen map[string]any
	srv := newAnthropicServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "Here you go:\n{\"headline\": \"ok\"}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`, &seen)

	client, err := NewAnthropicClient(DefaultAnthropicConfig(), "test-key", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	out, err := client.GenerateJSONWithSystem(t.Context(), "be terse", "write json", TierAdvanced)
	require.NoError(t, err)
	assert.Equal(t, `{"headline": "ok"}`, out)

	assert.Equal(t, "claude-sonnet-4-5", seen["model"])
	assert.EqualValues(t, 16000, seen["max_tokens"])
	system := seen["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "be terse", system[0].(map[string]any)["text"])
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := newAnthropicServer(t, http.StatusBadRequest, `{"type": "error", "error": {"type": "invalid_request_error", "message": "bad"}}`, nil)

	client, err := NewAnthropicClient(DefaultAnthropicConfig(), "test-key", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = client.GenerateJSON(t.Context(), "hello", TierStandard)
	var apiErr *APICallError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ProviderAnthropic, apiErr.Provider)
}

func TestAnthropicClient_EmptyContent(t *testing.T) {
	srv := newAnthropicServer(t, http.StatusOK, `{
		"id": "msg_02", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [], "stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 0}
	}`, nil)

	client, err := NewAnthropicClient(DefaultAnthropicConfig(), "test-key", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = client.GenerateJSON(t.Context(), "hello", TierStandard)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}
