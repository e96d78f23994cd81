package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *Config {
	return &Config{
		APIKey:      "test-key",
		APIURL:      url,
		Model:       "openai/gpt-4o-mini",
		MaxTokens:   1000,
		Temperature: 0.2,
		Timeout:     5,
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")

	cfg := testConfig("http://localhost")
	cfg.Temperature = 3
	_, err = NewClient(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
}

func TestSimpleChat_ReturnsAssistantContent(t *testing.T) {
	var gotRequest ChatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "<p>Hallo</p>"}}},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	content, err := client.SimpleChat(context.Background(), "<p>Hello</p>", "You translate HTML.")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hallo</p>", content)
	assert.Equal(t, "Bearer test-key", gotAuth)

	require.Len(t, gotRequest.Messages, 2)
	assert.Equal(t, "system", gotRequest.Messages[0].Role)
	assert.Equal(t, "You translate HTML.", gotRequest.Messages[0].Content)
	assert.Equal(t, "user", gotRequest.Messages[1].Role)
	assert.Equal(t, "openai/gpt-4o-mini", gotRequest.Model)
}

func TestSimpleChat_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(ChatResponse{
			Error: &Error{Message: "rate limit exceeded", Type: "rate_limit"},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SimpleChat(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestSimpleChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatResponse{})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SimpleChat(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
