// Package detection turns one image into detections: it prepares the image,
// asks a vision model for structured output, recovers the JSON and maps it
// into canonical geometry.
package detection

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/menta2k/site-analyzer/pkg/client"
	"github.com/menta2k/site-analyzer/pkg/dispatch"
	"github.com/menta2k/site-analyzer/pkg/geometry"
	"github.com/menta2k/site-analyzer/pkg/processing"
	"github.com/menta2k/site-analyzer/pkg/recovery"
	"github.com/menta2k/site-analyzer/pkg/types"
)

// Detector handles site image analysis using vision models
type Detector struct {
	client      client.VisionClient
	model       string
	mode        Mode
	prompt      string
	processor   *processing.Processor
	prepare     processing.PrepareOptions
	parser      *recovery.Parser
	coordSystem geometry.CoordSystem
	origin      geometry.Origin
	minSize     int
	logger      *log.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithMode selects the prompt and schema pair. A custom prompt set with
// WithPrompt takes precedence over the mode's prompt.
func WithMode(m Mode) Option {
	return func(d *Detector) {
		if m.Valid() {
			d.mode = m
		}
	}
}

// WithPrompt overrides the prompt text
func WithPrompt(prompt string) Option {
	return func(d *Detector) {
		d.prompt = prompt
	}
}

// WithPrepareOptions sets how images are downscaled and encoded
func WithPrepareOptions(opts processing.PrepareOptions) Option {
	return func(d *Detector) {
		d.prepare = opts
	}
}

// WithParser sets the recovery parser
func WithParser(p *recovery.Parser) Option {
	return func(d *Detector) {
		if p != nil {
			d.parser = p
		}
	}
}

// WithCoordinateHints sets the coordinate system and origin assumed when the
// model does not state them. Empty values leave inference per item.
func WithCoordinateHints(cs geometry.CoordSystem, origin geometry.Origin) Option {
	return func(d *Detector) {
		d.coordSystem = cs
		d.origin = origin
	}
}

// WithMinImageSize rejects images smaller than n pixels on either side
func WithMinImageSize(n int) Option {
	return func(d *Detector) {
		d.minSize = n
	}
}

// WithLogger logs preprocessing warnings and repairs to l
func WithLogger(l *log.Logger) Option {
	return func(d *Detector) {
		d.logger = l
	}
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, model string, opts ...Option) *Detector {
	d := &Detector{
		client:    c,
		model:     model,
		mode:      ModeSite,
		processor: processing.NewProcessor(),
		prepare:   processing.DefaultPrepareOptions(),
		parser:    recovery.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.prompt == "" {
		d.prompt = d.mode.Prompt()
	}
	return d
}

// Analyze loads the task's image and runs it through the model. It has the
// dispatch.AnalyzeFunc signature.
func (d *Detector) Analyze(ctx context.Context, task *types.ImageTask) (dispatch.Result, error) {
	img, err := d.processor.LoadImageSmart(task.FileRef)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("failed to load image: %w", err)
	}
	b := img.Bounds()
	task.Width, task.Height = b.Dx(), b.Dy()
	if d.minSize > 0 {
		if err := d.processor.ValidateImage(img, d.minSize); err != nil {
			return dispatch.Result{}, err
		}
	}

	return d.AnalyzeImage(ctx, img)
}

// AnalyzeImage runs an already decoded image through the model. Geometry in
// the result is in img's pixel space.
func (d *Detector) AnalyzeImage(ctx context.Context, img image.Image) (dispatch.Result, error) {
	prep, err := d.processor.PrepareImageForModel(img, d.prepare)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("failed to prepare image: %w", err)
	}
	for _, w := range prep.Warnings {
		d.logf("preprocess: %s", w)
	}

	text, err := d.client.Generate(ctx, d.model, d.prompt, prep.Base64, prep.MimeType)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("model call failed: %w", err)
	}

	doc, report, err := d.parser.ParseWithReport(text)
	if err != nil {
		return dispatch.Result{RawText: text}, err
	}
	if report.Repaired() {
		d.logf("repaired model output: %d payload(s) nulled, closers %q", report.Replaced, report.Closers)
	}

	sx, sy := prep.ScaleToSource()
	frame := geometry.Frame{
		CoordSystem: d.coordSystem,
		Origin:      d.origin,
		ImageW:      float64(prep.Width),
		ImageH:      float64(prep.Height),
		ScaleX:      sx,
		ScaleY:      sy,
		CanvasW:     float64(prep.SourceWidth),
		CanvasH:     float64(prep.SourceHeight),
	}
	dets, insights, err := Extract(doc, ExtractOptions{Frame: frame, Parser: d.parser})
	if err != nil {
		return dispatch.Result{RawText: text}, err
	}

	return dispatch.Result{Detections: dets, Insights: insights, RawText: text}, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, img image.Image) (string, error) {
	prep, err := d.processor.PrepareImageForModel(img, d.prepare)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}
	return d.client.Generate(ctx, d.model, SimpleTestPrompt, prep.Base64, prep.MimeType)
}

func (d *Detector) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
