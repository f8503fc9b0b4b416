package siteanalyzer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/site-analyzer/internal/config"
	"github.com/menta2k/site-analyzer/pkg/session"
	"github.com/menta2k/site-analyzer/pkg/types"
)

const siteResponse = `{
  "image": {"coordSystem": "normalized_0_1000"},
  "detections": [
    {"id": "d1", "label": "scaffold", "category": "object", "confidence": 0.8, "bbox": [0, 0, 500, 500]},
    {"id": "d2", "label": "missing guardrail", "category": "safety_issue", "bbox": [500, 500, 1000, 1000],
     "safety": {"isViolation": true, "severity": "high", "rule": "guardrail at open edge"}},
    {"id": "d3", "label": "framing", "category": "progress", "progress": {"phase": "framing", "percentComplete": 40}}
  ],
  "global_insights": []
}`

type stubClient struct {
	calls atomic.Int32
	text  string
	err   error
}

func (s *stubClient) Generate(ctx context.Context, model, prompt, imgB64, mimeType string) (string, error) {
	s.calls.Add(1)
	return s.text, s.err
}

// writeTestImage saves a small gray PNG
func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{96, 96, 96, 255})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
}

func TestAnalyzeFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "north.png")
	b := filepath.Join(dir, "south.png")
	writeTestImage(t, a, 200, 100)
	writeTestImage(t, b, 200, 100)

	stub := &stubClient{text: siteResponse}
	sa := New(stub, "test-model", WithConcurrency(2))

	res, err := sa.AnalyzeFiles(context.Background(), []string{a, b})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if res.Status() != session.StatusCompleted {
		t.Errorf("Expected completed session, got %s", res.Status())
	}
	if stub.calls.Load() != 2 {
		t.Errorf("Expected 2 model calls, got %d", stub.calls.Load())
	}

	agg := res.Aggregates
	if agg.TotalImages != 2 || agg.CompletedImages != 2 || agg.FailedImages != 0 {
		t.Errorf("Unexpected image counts: %+v", agg)
	}
	if agg.TotalDetections != 6 {
		t.Errorf("Expected 6 detections, got %d", agg.TotalDetections)
	}
	if agg.SafetyBySeverity.High != 2 {
		t.Errorf("Expected 2 high severity issues, got %d", agg.SafetyBySeverity.High)
	}
	if agg.ProgressSummary.AveragePercent != 40 {
		t.Errorf("Expected average progress 40, got %f", agg.ProgressSummary.AveragePercent)
	}

	task := res.Session.Images[0]
	if task.Width != 200 || task.Height != 100 {
		t.Errorf("Expected task size 200x100, got %dx%d", task.Width, task.Height)
	}
	box := task.Result[0].Box
	if box == nil || box.Width != 100 || box.Height != 50 {
		t.Errorf("Expected a 100x50 box in source pixels, got %+v", box)
	}

	report := res.Report()
	if report.SessionID != res.Session.ID || len(report.Images) != 2 {
		t.Errorf("Report does not mirror the session: %+v", report)
	}
}

func TestAnalyzeFilesPartialFailureAndRetry(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	late := filepath.Join(dir, "late.png")
	writeTestImage(t, good, 64, 64)

	stub := &stubClient{text: siteResponse}
	sa := New(stub, "test-model")

	res, err := sa.AnalyzeFiles(context.Background(), []string{good, late})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Status() != session.StatusPartialFailure {
		t.Fatalf("Expected partial_failure, got %s", res.Status())
	}
	if res.Aggregates.FailedImages != 1 || res.Aggregates.TotalDetections != 3 {
		t.Errorf("Unexpected aggregates after failure: %+v", res.Aggregates)
	}
	if res.Session.Images[1].Err == nil {
		t.Error("Expected the missing image to carry an error")
	}

	writeTestImage(t, late, 64, 64)
	res, err = sa.RetryFailed(context.Background(), res.Session)
	if err != nil {
		t.Fatalf("Unexpected error on retry: %v", err)
	}
	if res.Status() != session.StatusCompleted {
		t.Errorf("Expected completed after retry, got %s", res.Status())
	}
	if res.Aggregates.TotalDetections != 6 {
		t.Errorf("Expected completed image to keep its detections, got %d", res.Aggregates.TotalDetections)
	}
	if stub.calls.Load() != 2 {
		t.Errorf("Expected only the failed image to be re-sent, got %d calls", stub.calls.Load())
	}
}

func TestAnalyzeFilesModelError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.png")
	writeTestImage(t, p, 32, 32)

	sa := New(&stubClient{err: errors.New("model offline")}, "m")
	res, err := sa.AnalyzeFiles(context.Background(), []string{p})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Status() != session.StatusError {
		t.Errorf("Expected error status, got %s", res.Status())
	}
	if res.Aggregates.PerImage[0].Status != types.StatusError {
		t.Errorf("Expected failed image in per-image summary")
	}
}

func TestAnalyzeFilesCancelled(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.png")
	writeTestImage(t, p, 32, 32)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubClient{text: siteResponse}
	res, err := New(stub, "m").AnalyzeFiles(ctx, []string{p})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if stub.calls.Load() != 0 {
		t.Errorf("Expected no model calls, got %d", stub.calls.Load())
	}
	if res.Aggregates.FailedImages != 1 {
		t.Errorf("Expected the undispatched image to fail, got %+v", res.Aggregates)
	}
}

func TestAnalyzeFilesNoInput(t *testing.T) {
	_, err := New(&stubClient{}, "m").AnalyzeFiles(context.Background(), nil)
	if !errors.Is(err, session.ErrNoImages) {
		t.Errorf("Expected ErrNoImages, got %v", err)
	}
}

func TestProgressCallback(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		writeTestImage(t, p, 16, 16)
		paths = append(paths, p)
	}

	var mu sync.Mutex
	var snapshots []session.Progress
	sa := New(&stubClient{text: `{"detections":[]}`}, "m",
		WithConcurrency(1),
		WithProgress(func(p session.Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		}))

	if _, err := sa.AnalyzeFiles(context.Background(), paths); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(snapshots) != 6 {
		t.Fatalf("Expected 6 progress snapshots, got %d", len(snapshots))
	}
	last := snapshots[len(snapshots)-1]
	if last.Total != 3 || last.Completed != 3 || last.Percentage != 100 {
		t.Errorf("Unexpected final progress: %+v", last)
	}
	for _, p := range snapshots {
		if p.Analyzing > 1 {
			t.Errorf("Expected at most one image analyzing, got %+v", p)
		}
	}
}

func TestProgressCallbackOrderedUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		p := filepath.Join(dir, fmt.Sprintf("img%02d.png", i))
		writeTestImage(t, p, 16, 16)
		paths = append(paths, p)
	}

	var snapshots []session.Progress
	var inCallback atomic.Int32
	sa := New(&stubClient{text: `{"detections":[]}`}, "m",
		WithConcurrency(4),
		WithProgress(func(p session.Progress) {
			if inCallback.Add(1) != 1 {
				t.Error("Expected progress callbacks to never overlap")
			}
			snapshots = append(snapshots, p)
			inCallback.Add(-1)
		}))

	if _, err := sa.AnalyzeFiles(context.Background(), paths); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(snapshots) != 24 {
		t.Fatalf("Expected 24 progress snapshots, got %d", len(snapshots))
	}
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		if cur.Done < prev.Done || cur.Percentage < prev.Percentage {
			t.Errorf("Expected non-decreasing progress, got %+v after %+v", cur, prev)
		}
	}
	if last := snapshots[len(snapshots)-1]; last.Done != 12 || last.Percentage != 100 {
		t.Errorf("Unexpected final progress: %+v", last)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := NewWithConfig(cfg); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cfg.Backend.Type = config.BackendGemini
	if _, err := NewWithConfig(cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig without an API key, got %v", err)
	}

	cfg.Backend.APIKey = "key"
	cfg.Analysis.Mode = "items"
	cfg.Analysis.Prompt = "list items"
	sa, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sa.Detector() == nil {
		t.Error("Expected a detector")
	}
}

func TestNewClient(t *testing.T) {
	cfg := DefaultConfig()
	for _, backend := range []string{config.BackendOllama, config.BackendLlamaCpp} {
		cfg.Backend.Type = backend
		if _, err := NewClient(cfg, nil); err != nil {
			t.Errorf("%s: unexpected error: %v", backend, err)
		}
	}

	cfg.Backend.Type = "openai"
	if _, err := NewClient(cfg, nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("Expected %s, got %s", Version, GetVersion())
	}
}
