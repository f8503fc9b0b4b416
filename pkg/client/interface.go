package client

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without any text
var ErrEmptyResponse = errors.New("empty response from vision model")

// VisionClient sends one image plus a prompt to a vision model and returns
// the raw model text. Parsing and recovery happen in the caller.
type VisionClient interface {
	Generate(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error)
}
