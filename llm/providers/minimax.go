package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/draftloop/llm"
)

// MiniMaxProvider implements the MiniMax chat completion v2 API.
type MiniMaxProvider struct{}

func init() {
	llm.RegisterProvider(&MiniMaxProvider{})
}

// Name returns the provider identifier.
func (m *MiniMaxProvider) Name() string {
	return "minimax"
}

// Configured reports whether an API key is available.
func (m *MiniMaxProvider) Configured() bool {
	return os.Getenv("MINIMAX_API_KEY") != ""
}

// BuildURL constructs the chat completion endpoint.
func (m *MiniMaxProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.minimax.chat/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/text/chatcompletion_v2") {
		return baseURL
	}

	return baseURL + "/text/chatcompletion_v2"
}

// SetHeaders adds MiniMax authentication headers.
func (m *MiniMaxProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("MINIMAX_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// minimaxRequest is the chat completion v2 request format. It follows the
// OpenAI message shape.
type minimaxRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

// BuildRequestBody creates the request body.
func (m *MiniMaxProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	apiMessages := make([]openAIMessage, len(messages))
	for i, msg := range messages {
		apiMessages[i] = openAIMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := minimaxRequest{
		Model:       model,
		Messages:    apiMessages,
		Stream:      false,
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	return json.Marshal(req)
}

// minimaxResponse is the chat completion v2 response format. base_resp
// carries an API-level status even on HTTP 200.
type minimaxResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model    string `json:"model"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// ParseResponse extracts the completion from the response body.
func (m *MiniMaxProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	var resp minimaxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("parse response: %w", err))
	}

	if resp.BaseResp.StatusCode != 0 {
		return nil, llm.NewFatalError(fmt.Errorf("minimax API error %d: %s",
			resp.BaseResp.StatusCode, resp.BaseResp.StatusMsg))
	}

	if len(resp.Choices) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("response contained no choices"))
	}

	usedModel := resp.Model
	if usedModel == "" {
		usedModel = model
	}

	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   usedModel,
		Usage: llm.TokenUsage{
			TotalTokens: resp.Usage.TotalTokens,
		},
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
