// Package gemini calls the Gemini generateContent REST endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/site-analyzer/pkg/client"
)

// DefaultBaseURL is the public v1beta endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrMissingAPIKey is returned by NewClient without a key
var ErrMissingAPIKey = errors.New("gemini API key is required")

// ErrNoText is returned when the first candidate carries no text part
var ErrNoText = errors.New("no text in gemini response")

// Client sends image prompts to Gemini
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	schema     json.RawMessage
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another endpoint
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithSchema requests JSON output matching schema
func WithSchema(schema json.RawMessage) Option {
	return func(c *Client) {
		c.schema = schema
	}
}

// WithHTTPClient replaces the HTTP client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Gemini client
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	InlineData *inlineData `json:"inline_data,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

// snakeConfig is the REST spelling of generationConfig
type snakeConfig struct {
	ResponseMimeType string          `json:"response_mime_type,omitempty"`
	ResponseSchema   json.RawMessage `json:"response_schema,omitempty"`
}

// camelConfig is the spelling some API versions insist on
type camelConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type request struct {
	Contents         []content `json:"contents"`
	GenerationConfig any       `json:"generationConfig,omitempty"`
}

type response struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends one image and prompt. The request is first sent with
// snake_case generationConfig fields and retried once with camelCase ones.
func (c *Client) Generate(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	parts := []part{
		{InlineData: &inlineData{MimeType: mimeType, Data: imgB64}},
		{Text: prompt},
	}

	snake := request{Contents: []content{{Parts: parts}}}
	camel := request{Contents: []content{{Parts: parts}}}
	if len(c.schema) > 0 {
		snake.GenerationConfig = snakeConfig{ResponseMimeType: "application/json", ResponseSchema: c.schema}
		camel.GenerationConfig = camelConfig{ResponseMimeType: "application/json", ResponseSchema: c.schema}
	}

	text, err1 := c.post(ctx, model, snake)
	if err1 == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("gemini call failed: %w", err1)
	}

	text, err2 := c.post(ctx, model, camel)
	if err2 != nil {
		return "", fmt.Errorf("gemini call failed: first: %w; then: %w", err1, err2)
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, model string, body request) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		switch {
		case decodeErr == nil && out.Error != nil && out.Error.Message != "":
			msg = out.Error.Message
		case decodeErr == nil && len(out.Candidates) > 0 && out.Candidates[0].FinishReason != "":
			msg = out.Candidates[0].FinishReason
		}
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to parse response: %w", decodeErr)
	}

	if len(out.Candidates) == 0 {
		return "", ErrNoText
	}
	for _, p := range out.Candidates[0].Content.Parts {
		if p.Text != nil {
			if *p.Text == "" {
				return "", client.ErrEmptyResponse
			}
			return *p.Text, nil
		}
	}
	if reason := out.Candidates[0].FinishReason; reason != "" {
		return "", fmt.Errorf("%w (finish reason %s)", ErrNoText, reason)
	}
	return "", ErrNoText
}
