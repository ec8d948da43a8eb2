package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harun/insightx/pkg/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFactory(t *testing.T) {
	t.Run("rejects unknown kind", func(t *testing.T) {
		_, err := NewClientFactory(FactoryConfig{Kind: "gemini"})
		assert.Error(t, err)
	})

	t.Run("caches one provider per key", func(t *testing.T) {
		f, err := NewClientFactory(FactoryConfig{})
		require.NoError(t, err)

		a, err := f.NewProvider(credential.Credential{Index: 0, Key: "key-a"})
		require.NoError(t, err)
		again, err := f.NewProvider(credential.Credential{Index: 0, Key: "key-a"})
		require.NoError(t, err)
		b, err := f.NewProvider(credential.Credential{Index: 1, Key: "key-b"})
		require.NoError(t, err)

		assert.Same(t, a, again)
		assert.NotSame(t, a, b)
		assert.Equal(t, KindOpenAI, a.Provider())
	})

	t.Run("anthropic kind", func(t *testing.T) {
		f, err := NewClientFactory(FactoryConfig{Kind: KindAnthropic})
		require.NoError(t, err)
		p, err := f.NewProvider(credential.Credential{Key: "key-a"})
		require.NoError(t, err)
		assert.Equal(t, KindAnthropic, p.Provider())
	})

	t.Run("rejects empty key", func(t *testing.T) {
		f, err := NewClientFactory(FactoryConfig{})
		require.NoError(t, err)
		_, err = f.NewProvider(credential.Credential{})
		assert.Error(t, err)
	})
}

func TestOpenAIProvider_Call(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"text\":\"hello\"}"}
			}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL)
	resp, err := p.Call(context.Background(), Request{
		Model:        "test-model",
		SystemPrompt: "be terse",
		Messages:     []Message{{Role: "user", Content: "hi"}},
		Temperature:  0.2,
		MaxTokens:    100,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"text":"hello"}`, resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 7, resp.Usage.InputTokens)
	assert.Equal(t, "test-model", got["model"])

	msgs, ok := got["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIProvider_ClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL)
	_, err := p.Call(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, credential.FailureRateLimited, KindOf(err))
}

func TestAnthropicProvider_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "hi there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 4, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL)
	resp, err := p.Call(context.Background(), Request{
		Model:    "claude-test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}

func TestAnthropicProvider_ClassifiesAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL)
	_, err := p.Call(context.Background(), Request{
		Model:    "claude-test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, credential.FailureAuth, KindOf(err))
}
