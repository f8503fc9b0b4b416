// Package siteanalyzer runs batches of site photos through a vision model
// and rolls the findings up into session statistics.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		siteanalyzer "github.com/menta2k/site-analyzer"
//		"github.com/menta2k/site-analyzer/pkg/export"
//	)
//
//	func main() {
//		cfg := siteanalyzer.DefaultConfig()
//		cfg.Backend.Type = "gemini"
//		cfg.Backend.Model = "gemini-2.5-flash"
//		cfg.Backend.APIKey = os.Getenv("GEMINI_API_KEY")
//
//		sa, err := siteanalyzer.NewWithConfig(cfg)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		res, err := sa.AnalyzeFiles(context.Background(), []string{"north.jpg", "roof.jpg"})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := export.SessionCSV(os.Stdout, res.Report()); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package wires four pieces together:
//
//  1. Dispatch (pkg/dispatch): bounded worker pool over the session's images
//  2. Detection (pkg/detection): prompt, model call, response recovery and extraction
//  3. Geometry (pkg/geometry): maps model coordinates into source pixels
//  4. Session (pkg/session): per-image state and the aggregated statistics
package siteanalyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/menta2k/site-analyzer/internal/config"
	"github.com/menta2k/site-analyzer/pkg/client"
	"github.com/menta2k/site-analyzer/pkg/detection"
	"github.com/menta2k/site-analyzer/pkg/dispatch"
	"github.com/menta2k/site-analyzer/pkg/export"
	"github.com/menta2k/site-analyzer/pkg/gemini"
	"github.com/menta2k/site-analyzer/pkg/geometry"
	"github.com/menta2k/site-analyzer/pkg/llamacpp"
	"github.com/menta2k/site-analyzer/pkg/ollama"
	"github.com/menta2k/site-analyzer/pkg/recovery"
	"github.com/menta2k/site-analyzer/pkg/session"
	"github.com/menta2k/site-analyzer/pkg/types"
)

// Version of the site analyzer library
const Version = "1.0.0"

// Config is the full analyzer configuration
type Config = config.Config

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return config.Default()
}

// ProgressFunc receives a progress snapshot after every status transition
type ProgressFunc func(p session.Progress)

// SiteAnalyzer provides a high-level interface for batch site analysis
type SiteAnalyzer struct {
	detector    *detection.Detector
	concurrency int
	logger      *log.Logger
	progress    ProgressFunc
	observers   []dispatch.Observer
}

// Option configures a SiteAnalyzer
type Option func(*SiteAnalyzer)

// WithLogger logs dispatch failures and preprocessing warnings to l
func WithLogger(l *log.Logger) Option {
	return func(sa *SiteAnalyzer) {
		sa.logger = l
	}
}

// WithConcurrency sets how many images are analyzed at once
func WithConcurrency(n int) Option {
	return func(sa *SiteAnalyzer) {
		sa.concurrency = n
	}
}

// WithProgress registers a progress callback. It is called from worker
// goroutines, one call at a time, so snapshots arrive in transition order.
func WithProgress(fn ProgressFunc) Option {
	return func(sa *SiteAnalyzer) {
		sa.progress = fn
	}
}

// WithObserver registers an extra dispatch observer
func WithObserver(o dispatch.Observer) Option {
	return func(sa *SiteAnalyzer) {
		if o != nil {
			sa.observers = append(sa.observers, o)
		}
	}
}

// New creates a SiteAnalyzer around an existing vision client
func New(c client.VisionClient, model string, opts ...Option) *SiteAnalyzer {
	sa := &SiteAnalyzer{concurrency: dispatch.DefaultConcurrency}
	for _, opt := range opts {
		opt(sa)
	}
	sa.detector = detection.NewDetector(c, model, detection.WithLogger(sa.logger))
	return sa
}

// NewWithConfig validates cfg, builds the configured backend and returns a
// ready SiteAnalyzer
func NewWithConfig(cfg *Config, opts ...Option) (*SiteAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := detection.Mode(cfg.Analysis.Mode)
	c, err := NewClient(cfg, mode.Schema())
	if err != nil {
		return nil, err
	}

	sa := &SiteAnalyzer{concurrency: cfg.Analysis.Concurrency}
	for _, opt := range opts {
		opt(sa)
	}

	parser := recovery.New(
		recovery.WithPayloadKeys(cfg.Recovery.PayloadKeys...),
		recovery.WithSentinels(cfg.Recovery.Sentinels...),
	)
	detOpts := []detection.Option{
		detection.WithMode(mode),
		detection.WithPrepareOptions(cfg.Processing),
		detection.WithParser(parser),
		detection.WithCoordinateHints(geometry.CoordSystem(cfg.Analysis.CoordSystem), geometry.Origin(cfg.Analysis.Origin)),
		detection.WithMinImageSize(cfg.Analysis.MinImageSize),
		detection.WithLogger(sa.logger),
	}
	if cfg.Analysis.Prompt != "" {
		detOpts = append(detOpts, detection.WithPrompt(cfg.Analysis.Prompt))
	}
	sa.detector = detection.NewDetector(c, cfg.Backend.Model, detOpts...)

	return sa, nil
}

// NewClient builds the vision client selected by cfg.Backend. schema, when
// set, asks the backend for structured output.
func NewClient(cfg *Config, schema json.RawMessage) (client.VisionClient, error) {
	switch cfg.Backend.Type {
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.ResolvedURL(), ollama.WithFormat(schema))
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cfg.ResolvedURL(), llamacpp.WithSchema(schema))
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	case config.BackendGemini:
		opts := []gemini.Option{gemini.WithSchema(schema)}
		if cfg.Backend.URL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Backend.URL))
		}
		c, err := gemini.NewClient(cfg.Backend.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use ollama, llamacpp or gemini)", cfg.Backend.Type)
	}
}

// Detector exposes the underlying detector for single-image use
func (sa *SiteAnalyzer) Detector() *detection.Detector {
	return sa.detector
}

// SessionResult is a finished session and its aggregates
type SessionResult struct {
	Session    *session.Session
	Aggregates types.SessionAggregates
}

// Status is the overall session state
func (r SessionResult) Status() session.Status {
	return session.GetStatus(r.Session)
}

// Report builds the export view of the result
func (r SessionResult) Report() export.Report {
	return export.NewReport(r.Session, r.Aggregates)
}

// AnalyzeFiles creates a session for paths and analyzes it
func (sa *SiteAnalyzer) AnalyzeFiles(ctx context.Context, paths []string) (SessionResult, error) {
	inputs := make([]session.FileInput, len(paths))
	for i, p := range paths {
		inputs[i] = session.FileInput{Path: p}
	}
	s, err := session.New(inputs)
	if err != nil {
		return SessionResult{}, err
	}
	return sa.AnalyzeSession(ctx, s)
}

// AnalyzeSession dispatches every image of s that is not yet terminal and
// returns the aggregates once all of them settle. Images that already
// completed or failed are carried into the aggregates unchanged. Per-image
// failures are recorded on the tasks; the returned error is only set when
// ctx ends before the batch does.
func (sa *SiteAnalyzer) AnalyzeSession(ctx context.Context, s *session.Session) (SessionResult, error) {
	agg := session.NewAggregator(s)
	var pending []*types.ImageTask
	for _, img := range s.Images {
		if img.Status.Terminal() {
			agg.Update(*img)
			continue
		}
		pending = append(pending, img)
	}

	opts := []dispatch.Option{dispatch.WithObserver(agg), dispatch.WithLogger(sa.logger)}
	for _, o := range sa.observers {
		opts = append(opts, dispatch.WithObserver(o))
	}
	if sa.progress != nil {
		opts = append(opts, dispatch.WithObserver(sa.progressObserver(s)))
	}

	dispatch.Run(ctx, pending, sa.concurrency, sa.detector.Analyze, opts...)

	res := SessionResult{Session: s, Aggregates: agg.Finalize()}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("analysis interrupted: %w", err)
	}
	return res, nil
}

// RetryFailed requeues the images of s that ended in error and analyzes them again
func (sa *SiteAnalyzer) RetryFailed(ctx context.Context, s *session.Session) (SessionResult, error) {
	session.Requeue(s.Failed())
	return sa.AnalyzeSession(ctx, s)
}

// progressObserver tracks statuses itself since the session's tasks are
// being written by workers while it runs
func (sa *SiteAnalyzer) progressObserver(s *session.Session) dispatch.Observer {
	var mu sync.Mutex
	statuses := make(map[string]types.Status, len(s.Images))
	for _, img := range s.Images {
		statuses[img.ID] = img.Status
	}

	return dispatch.ObserverFunc(func(task types.ImageTask, status types.Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses[task.ID] = status
		snapshot := &session.Session{Images: make([]*types.ImageTask, 0, len(statuses))}
		for id, st := range statuses {
			snapshot.Images = append(snapshot.Images, &types.ImageTask{ID: id, Status: st})
		}
		sa.progress(session.GetProgress(snapshot))
	})
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
