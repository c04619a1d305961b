package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
)

func TestCompleteTextSendsMessages(t *testing.T) {
	var got struct {
		Model    string              `json:"model"`
		Messages []map[string]string `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"gpt-4-0613","choices":[{"message":{"role":"assistant","content":"평가 점수: 5/7"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer server.Close()

	p, err := llm.GetProvider("openai", map[string]string{"api_key": "sk-test", "base_url": server.URL + "/"})
	require.NoError(t, err)

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{SystemPrompt: "para", Prompt: "text", Model: "gpt-4"})
	require.NoError(t, err)

	assert.Equal(t, "평가 점수: 5/7", resp.Text)
	assert.Equal(t, "gpt-4-0613", resp.ModelName)
	assert.Equal(t, 5, resp.TokensUsed)
	assert.Equal(t, "gpt-4", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0]["role"])
	assert.Equal(t, "text", got.Messages[1]["content"])
}

func TestCompleteTextWithoutSystemPromptSendsOneMessage(t *testing.T) {
	var count int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]string `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		count = len(body.Messages)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	p, err := llm.GetProvider("openai", map[string]string{"api_key": "k", "base_url": server.URL})
	require.NoError(t, err)

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "only user"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "gpt-4", resp.ModelName)
}

func TestCompleteTextErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"未授权", http.StatusUnauthorized, `{"error":"bad key"}`, apperrors.IsUnauthorizedError},
		{"服务器错误", http.StatusInternalServerError, `boom`, apperrors.IsTransportError},
		{"空结果", http.StatusOK, `{"choices":[]}`, apperrors.IsMalformedResponseError},
		{"非JSON", http.StatusOK, `<html>`, apperrors.IsMalformedResponseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := llm.GetProvider("openai", map[string]string{"api_key": "k", "base_url": server.URL})
			require.NoError(t, err)

			_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "x"})
			require.Error(t, err)
			assert.True(t, tt.check(err), "错误类型不符: %v", err)
		})
	}
}

func TestInitializeRequiresKey(t *testing.T) {
	_, err := llm.GetProvider("openai", map[string]string{})
	require.Error(t, err)
	assert.Equal(t, "OpenAI API key is not provided", err.(*apperrors.AppError).Message)
}
