// Package session holds the state of one batch analysis run and rolls the
// per-image results up into session-level statistics.
package session

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/site-analyzer/pkg/types"
)

// ErrNoImages is returned when a session is created without inputs
var ErrNoImages = errors.New("session needs at least one image")

// FileInput describes one image handed to New
type FileInput struct {
	Path   string
	Name   string
	Width  int
	Height int
}

// Session is owned by the host and passed explicitly to every component
type Session struct {
	ID        string             `json:"sessionId" yaml:"sessionId"`
	CreatedAt time.Time          `json:"timestamp" yaml:"timestamp"`
	Images    []*types.ImageTask `json:"images" yaml:"images"`
}

// New creates a session with every image queued
func New(files []FileInput) (*Session, error) {
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	images := make([]*types.ImageTask, len(files))
	for i, f := range files {
		name := f.Name
		if name == "" {
			name = filepath.Base(f.Path)
		}
		images[i] = &types.ImageTask{
			ID:       fmt.Sprintf("img_%03d", i+1),
			FileRef:  f.Path,
			FileName: name,
			Width:    f.Width,
			Height:   f.Height,
			Status:   types.StatusQueued,
		}
	}

	return &Session{
		ID:        "session_" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Images:    images,
	}, nil
}

// Task returns the image with the given ID
func (s *Session) Task(id string) (*types.ImageTask, bool) {
	for _, img := range s.Images {
		if img.ID == id {
			return img, true
		}
	}
	return nil, false
}

// Failed returns the images that ended in error, in session order
func (s *Session) Failed() []*types.ImageTask {
	var out []*types.ImageTask
	for _, img := range s.Images {
		if img.Status == types.StatusError {
			out = append(out, img)
		}
	}
	return out
}

// Requeue resets the given tasks so they can be dispatched again
func Requeue(tasks []*types.ImageTask) {
	for _, t := range tasks {
		t.Status = types.StatusQueued
		t.Err = nil
		t.Result = nil
		t.Insights = nil
		t.RawText = ""
	}
}

// Progress counts images per status
type Progress struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Analyzing  int `json:"analyzing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
	Done       int `json:"done"`
	Percentage int `json:"percentage"`
}

// GetProgress reports how far the session has come. An empty session is 100% done.
func GetProgress(s *Session) Progress {
	p := Progress{Total: len(s.Images)}
	for _, img := range s.Images {
		switch img.Status {
		case types.StatusQueued:
			p.Queued++
		case types.StatusAnalyzing:
			p.Analyzing++
		case types.StatusCompleted:
			p.Completed++
		case types.StatusError:
			p.Error++
		}
	}
	p.Done = p.Completed + p.Error
	if p.Total == 0 {
		p.Percentage = 100
	} else {
		p.Percentage = int(math.Round(float64(p.Done) / float64(p.Total) * 100))
	}
	return p
}

// Status is the overall state of a session
type Status string

const (
	StatusAnalyzing      Status = "analyzing"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
	StatusPartialFailure Status = "partial_failure"
)

// GetStatus derives the session state from its images
func GetStatus(s *Session) Status {
	anyError, anyCompleted := false, false
	for _, img := range s.Images {
		switch img.Status {
		case types.StatusCompleted:
			anyCompleted = true
		case types.StatusError:
			anyError = true
		default:
			return StatusAnalyzing
		}
	}
	switch {
	case anyError && anyCompleted:
		return StatusPartialFailure
	case anyError:
		return StatusError
	default:
		return StatusCompleted
	}
}
