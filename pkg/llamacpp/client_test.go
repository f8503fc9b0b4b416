package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/site-analyzer/pkg/client"
)

func TestGenerate(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"items\":[]}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", WithSchema(json.RawMessage(`{"type":"object"}`)), WithMaxTokens(1024))
	require.NoError(t, err)

	text, err := c.Generate(context.Background(), "qwen2.5-vl", "find hazards", "aGk=", "image/png")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, text)

	assert.Equal(t, "qwen2.5-vl", got.Model)
	assert.Equal(t, 1024, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.JSONEq(t, `{"type":"object"}`, string(got.ResponseFormat.Schema))

	parts, ok := got.Messages[0].Content.([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,aGk=", img["url"])
}

func TestGenerateArrayContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	text, err := c.Generate(context.Background(), "m", "p", "aGk=", "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"server error", http.StatusInternalServerError, "model not loaded", nil, "server returned status 500: model not loaded"},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrNoChoices, ""},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`, client.ErrEmptyResponse, ""},
		{"bad json", http.StatusOK, `not json`, nil, "failed to parse response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL)
			_, err := c.Generate(context.Background(), "m", "p", "aGk=", "image/jpeg")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.Nil(t, c.schema)
}
