package processing

import (
	"fmt"
	"math"
)

// Resize strategies reported by ComputeResizeDimensions
const (
	StrategyNoOpSmallInput     = "no-op-small-input"
	StrategyNoOpWithinTarget   = "no-op-already-within-target"
	StrategyNoOpTargetAchieved = "no-op-target-achieved"
	StrategyDownscaleShortSide = "downscale-short-side"
	StrategyDownscaleLongSide  = "downscale-long-side"
	StrategyDownscaleDualAxis  = "downscale-dual-axis"
)

// Tiling constants of the Gemini image tokenizer
const (
	DefaultTileSize = 768
	TokensPerTile   = 258
)

// ResizeOptions controls the pre-upload downscale heuristic.
// A zero MaxLongSide or MinShortSide disables that bound.
type ResizeOptions struct {
	TargetShortSide int  `json:"target_short_side" yaml:"target_short_side"`
	MinShortSide    int  `json:"min_short_side" yaml:"min_short_side"`
	MaxLongSide     int  `json:"max_long_side" yaml:"max_long_side"`
	AllowUpscale    bool `json:"allow_upscale" yaml:"allow_upscale"`
}

// DefaultResizeOptions keeps requests within a few tiles
func DefaultResizeOptions() ResizeOptions {
	return ResizeOptions{
		TargetShortSide: 960,
		MinShortSide:    720,
		MaxLongSide:     1600,
	}
}

// ResizePlan is the outcome of ComputeResizeDimensions
type ResizePlan struct {
	Scale    float64 `json:"scale"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Resized  bool    `json:"resized"`
	Strategy string  `json:"strategy"`
}

// ComputeResizeDimensions works out the size an image should be sent at.
// It only ever downscales and keeps the aspect ratio.
func ComputeResizeDimensions(width, height int, opts ResizeOptions) (ResizePlan, error) {
	if width <= 0 {
		return ResizePlan{}, fmt.Errorf("invalid width %d: must be positive", width)
	}
	if height <= 0 {
		return ResizePlan{}, fmt.Errorf("invalid height %d: must be positive", height)
	}

	keep := func(strategy string) ResizePlan {
		return ResizePlan{Scale: 1, Width: width, Height: height, Strategy: strategy}
	}

	short := float64(min(width, height))
	long := float64(max(width, height))
	withinShort := opts.TargetShortSide <= 0 || short <= float64(opts.TargetShortSide)
	withinLong := opts.MaxLongSide <= 0 || long <= float64(opts.MaxLongSide)

	if !opts.AllowUpscale && short < float64(opts.MinShortSide) {
		return keep(StrategyNoOpSmallInput), nil
	}
	if withinShort && withinLong {
		return keep(StrategyNoOpWithinTarget), nil
	}

	scale := 1.0
	if !withinShort {
		scale = math.Min(scale, float64(opts.TargetShortSide)/short)
	}
	if !withinLong {
		scale = math.Min(scale, float64(opts.MaxLongSide)/long)
	}

	// do not shrink the short side below the minimum when avoidable
	if opts.MinShortSide > 0 && short*scale < float64(opts.MinShortSide) {
		scale = math.Max(scale, float64(opts.MinShortSide)/short)
	}
	scale = math.Min(scale, 1)

	if scale >= 0.999 {
		return keep(StrategyNoOpTargetAchieved), nil
	}

	strategy := StrategyDownscaleShortSide
	switch {
	case !withinLong && withinShort:
		strategy = StrategyDownscaleLongSide
	case !withinLong && !withinShort:
		strategy = StrategyDownscaleDualAxis
	}

	return ResizePlan{
		Scale:    scale,
		Width:    max(1, int(math.Round(float64(width)*scale))),
		Height:   max(1, int(math.Round(float64(height)*scale))),
		Resized:  true,
		Strategy: strategy,
	}, nil
}

// TileFootprint estimates how an image is tokenized
type TileFootprint struct {
	TilesAcross     int `json:"tilesAcross"`
	TilesDown       int `json:"tilesDown"`
	TotalTiles      int `json:"totalTiles"`
	EstimatedTokens int `json:"estimatedTokens"`
}

// EstimateTileFootprint counts the tileSize×tileSize tiles covering the image
func EstimateTileFootprint(width, height, tileSize int) (TileFootprint, error) {
	if width <= 0 || height <= 0 {
		return TileFootprint{}, fmt.Errorf("invalid dimensions %dx%d: must be positive", width, height)
	}
	if tileSize <= 0 {
		return TileFootprint{}, fmt.Errorf("invalid tile size %d: must be positive", tileSize)
	}

	across := max(1, (width+tileSize-1)/tileSize)
	down := max(1, (height+tileSize-1)/tileSize)
	return TileFootprint{
		TilesAcross:     across,
		TilesDown:       down,
		TotalTiles:      across * down,
		EstimatedTokens: across * down * TokensPerTile,
	}, nil
}
