package providers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/draftloop/llm"
)

func TestProvidersRegistered(t *testing.T) {
	for _, name := range []string{"openai", "minimax", "anthropic"} {
		assert.NotNil(t, llm.GetProvider(name), "provider %s not registered", name)
	}
}

func TestOpenAIProvider_BuildURL(t *testing.T) {
	p := &OpenAIProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "https://api.openai.com/v1/chat/completions",
		},
		{
			name:    "custom base URL",
			baseURL: "http://localhost:8080/v1",
			want:    "http://localhost:8080/v1/chat/completions",
		},
		{
			name:    "trailing slash handled",
			baseURL: "https://api.openai.com/v1/",
			want:    "https://api.openai.com/v1/chat/completions",
		},
		{
			name:    "full path kept",
			baseURL: "http://localhost:8080/v1/chat/completions",
			want:    "http://localhost:8080/v1/chat/completions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.BuildURL(tt.baseURL))
		})
	}
}

func TestOpenAIProvider_SetHeaders(t *testing.T) {
	p := &OpenAIProvider{}
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	req, _ := http.NewRequest("POST", "https://api.openai.com/v1/chat/completions", nil)
	p.SetHeaders(req)

	assert.Equal(t, "Bearer test-api-key", req.Header.Get("Authorization"))
}

func TestOpenAIProvider_BuildRequestBody(t *testing.T) {
	p := &OpenAIProvider{}
	temp := 0.5

	t.Run("full request", func(t *testing.T) {
		body, err := p.BuildRequestBody("gpt-4o-mini", []llm.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		}, &temp, 100)
		require.NoError(t, err)

		var req openAIRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Len(t, req.Messages, 2)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.5, *req.Temperature)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 100, *req.MaxTokens)
	})

	t.Run("defaults omitted", func(t *testing.T) {
		body, err := p.BuildRequestBody("gpt-4o-mini", []llm.Message{{Role: "user", Content: "x"}}, nil, 0)
		require.NoError(t, err)
		assert.NotContains(t, string(body), "max_tokens")
		assert.NotContains(t, string(body), "temperature")
	})
}

func TestOpenAIProvider_ParseResponse(t *testing.T) {
	p := &OpenAIProvider{}

	t.Run("valid response", func(t *testing.T) {
		body := `{
			"choices": [{"message": {"content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
			"model": "gpt-4o-mini-2024"
		}`
		resp, err := p.ParseResponse([]byte(body), "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content)
		assert.Equal(t, "stop", resp.FinishReason)
		assert.Equal(t, "gpt-4o-mini-2024", resp.Model, "server-reported model wins")
		assert.Equal(t, 15, resp.Usage.TotalTokens)
	})

	t.Run("model falls back to request", func(t *testing.T) {
		resp, err := p.ParseResponse([]byte(`{"choices": [{"message": {"content": "x"}}]}`), "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", resp.Model)
	})

	t.Run("no choices is fatal", func(t *testing.T) {
		_, err := p.ParseResponse([]byte(`{"choices": []}`), "m")
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
	})

	t.Run("invalid JSON is fatal", func(t *testing.T) {
		_, err := p.ParseResponse([]byte("not json"), "m")
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
	})
}

func TestMiniMaxProvider_BuildURL(t *testing.T) {
	p := &MiniMaxProvider{}
	assert.Equal(t, "https://api.minimax.chat/v1/text/chatcompletion_v2", p.BuildURL(""))
	assert.Equal(t, "http://localhost:9090/text/chatcompletion_v2", p.BuildURL("http://localhost:9090"))
}

func TestMiniMaxProvider_BuildRequestBody(t *testing.T) {
	p := &MiniMaxProvider{}
	body, err := p.BuildRequestBody("abab6.5s", []llm.Message{{Role: "user", Content: "x"}}, nil, 0)
	require.NoError(t, err)

	var req minimaxRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.False(t, req.Stream, "streaming must stay disabled")
	assert.Equal(t, "abab6.5s", req.Model)
}

func TestMiniMaxProvider_ParseResponse(t *testing.T) {
	p := &MiniMaxProvider{}

	t.Run("valid response", func(t *testing.T) {
		body := `{
			"choices": [{"message": {"content": "hi"}, "finish_reason": "stop"}],
			"usage": {"total_tokens": 20},
			"model": "abab6.5s",
			"base_resp": {"status_code": 0}
		}`
		resp, err := p.ParseResponse([]byte(body), "abab6.5s")
		require.NoError(t, err)
		assert.Equal(t, "hi", resp.Content)
		assert.Equal(t, 20, resp.Usage.TotalTokens)
	})

	t.Run("base_resp error on HTTP 200", func(t *testing.T) {
		body := `{"base_resp": {"status_code": 1008, "status_msg": "insufficient balance"}}`
		_, err := p.ParseResponse([]byte(body), "abab6.5s")
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
		assert.Contains(t, err.Error(), "1008")
	})
}

func TestAnthropicProvider_BuildURL(t *testing.T) {
	p := &AnthropicProvider{}
	assert.Equal(t, "https://api.anthropic.com/v1/messages", p.BuildURL(""))
	assert.Equal(t, "http://localhost:7070/v1/messages", p.BuildURL("http://localhost:7070/"))
}

func TestAnthropicProvider_SetHeaders(t *testing.T) {
	p := &AnthropicProvider{}
	t.Setenv("ANTHROPIC_API_KEY", "test-api-key")

	req, _ := http.NewRequest("POST", "https://api.anthropic.com/v1/messages", nil)
	p.SetHeaders(req)

	assert.Equal(t, "test-api-key", req.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, req.Header.Get("anthropic-version"))
}

func TestAnthropicProvider_BuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	t.Run("system message hoisted", func(t *testing.T) {
		body, err := p.BuildRequestBody("claude-sonnet-4-5", []llm.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		}, nil, 500)
		require.NoError(t, err)

		var req anthropicRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "be brief", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, 500, req.MaxTokens)
	})

	t.Run("max_tokens defaulted", func(t *testing.T) {
		body, err := p.BuildRequestBody("claude-sonnet-4-5", []llm.Message{{Role: "user", Content: "x"}}, nil, 0)
		require.NoError(t, err)

		var req anthropicRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, 4096, req.MaxTokens, "max_tokens is required by the API")
	})
}

func TestAnthropicProvider_ParseResponse(t *testing.T) {
	p := &AnthropicProvider{}
	body := `{
		"content": [
			{"type": "text", "text": "part one "},
			{"type": "tool_use", "text": "ignored"},
			{"type": "text", "text": "part two"}
		],
		"model": "claude-sonnet-4-5",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 8}
	}`
	resp, err := p.ParseResponse([]byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", resp.Content, "text blocks concatenate")
	assert.Equal(t, 20, resp.Usage.TotalTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
}
