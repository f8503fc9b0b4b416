// Package geometry converts the box, polygon and point encodings emitted by vision
// models into canonical pixel/display space.
//
// Models disagree on almost everything: some return [ymin,xmin,ymax,xmax] arrays
// normalized to 0..1000, others return {x,y,width,height} objects in pixels, and a
// few measure vertical positions from the bottom edge. Every encoding is resolved
// here, once, into a types.Box or types.Point; nothing downstream looks at raw
// geometry again.
package geometry

import (
	"math"

	"github.com/menta2k/site-analyzer/pkg/types"
)

// CoordSystem tells whether raw values are pixels or normalized to 0..1000
type CoordSystem string

const (
	Pixel          CoordSystem = "pixel"
	Normalized1000 CoordSystem = "normalized_0_1000"
)

// normalizedExtent is the range of Normalized1000 values on each axis
const normalizedExtent = 1000.0

// Valid reports whether c is a known coordinate system
func (c CoordSystem) Valid() bool {
	return c == Pixel || c == Normalized1000
}

// Origin tells which corner vertical coordinates are measured from
type Origin string

const (
	TopLeft    Origin = "top-left"
	BottomLeft Origin = "bottom-left"
)

// Valid reports whether o is a known origin
func (o Origin) Valid() bool {
	return o == TopLeft || o == BottomLeft
}

// Defaults applied when neither the response nor the caller says otherwise
const (
	DefaultCoordSystem = Normalized1000
	DefaultOrigin      = TopLeft
)

// Frame describes how raw values map into the output space.
//
// Zero or non-finite ImageW/ImageH disable normalization and the origin flip,
// zero or non-finite scale factors mean 1, and a zero or non-finite canvas
// dimension disables clamping.
type Frame struct {
	CoordSystem CoordSystem
	Origin      Origin
	ImageW      float64
	ImageH      float64
	ScaleX      float64
	ScaleY      float64
	CanvasW     float64
	CanvasH     float64
}

// NewFrame returns a frame for source-pixel output: no display scaling and
// clamping to the image itself.
func NewFrame(cs CoordSystem, origin Origin, imageW, imageH float64) Frame {
	return Frame{
		CoordSystem: cs,
		Origin:      origin,
		ImageW:      imageW,
		ImageH:      imageH,
		ScaleX:      1,
		ScaleY:      1,
		CanvasW:     imageW,
		CanvasH:     imageH,
	}
}

// WithDefaults fills an empty coordinate system or origin
func (f Frame) WithDefaults() Frame {
	if !f.CoordSystem.Valid() {
		f.CoordSystem = DefaultCoordSystem
	}
	if !f.Origin.Valid() {
		f.Origin = DefaultOrigin
	}
	return f
}

// RawBox is one of the accepted box encodings: ArrayBox or ObjectBox
type RawBox interface {
	edges() (x, y, w, h float64, ok bool)
}

// ArrayBox is the [ymin, xmin, ymax, xmax] encoding
type ArrayBox [4]float64

func (b ArrayBox) edges() (float64, float64, float64, float64, bool) {
	ymin, xmin, ymax, xmax := b[0], b[1], b[2], b[3]
	if !allFinite(ymin, xmin, ymax, xmax) {
		return 0, 0, 0, 0, false
	}
	return xmin, ymin, math.Max(0, xmax-xmin), math.Max(0, ymax-ymin), true
}

// ObjectBox is the {x, y, width, height} encoding
type ObjectBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b ObjectBox) edges() (float64, float64, float64, float64, bool) {
	if !allFinite(b.X, b.Y, b.Width, b.Height) {
		return 0, 0, 0, 0, false
	}
	return b.X, b.Y, b.Width, b.Height, true
}

// RawPoint is an untransformed vertex
type RawPoint struct {
	X float64
	Y float64
}

// NormalizeBox resolves raw into a canonical box. It returns false when the
// input is not a usable box.
func NormalizeBox(raw RawBox, f Frame) (types.Box, bool) {
	if raw == nil {
		return types.Box{}, false
	}
	x, y, w, h, ok := raw.edges()
	if !ok {
		return types.Box{}, false
	}

	if f.CoordSystem == Normalized1000 && validDim(f.ImageW) && validDim(f.ImageH) {
		x = x / normalizedExtent * f.ImageW
		y = y / normalizedExtent * f.ImageH
		w = w / normalizedExtent * f.ImageW
		h = h / normalizedExtent * f.ImageH
	}

	if f.Origin == BottomLeft && validDim(f.ImageH) {
		y = f.ImageH - (y + h)
	}

	sx, sy := scale(f.ScaleX), scale(f.ScaleY)
	x, y, w, h = x*sx, y*sy, w*sx, h*sy

	if validDim(f.CanvasW) && validDim(f.CanvasH) {
		x = clamp(x, 0, f.CanvasW)
		y = clamp(y, 0, f.CanvasH)
		w = clamp(w, 0, f.CanvasW-x)
		h = clamp(h, 0, f.CanvasH-y)
	}

	return types.Box{X: x, Y: y, Width: math.Max(0, w), Height: math.Max(0, h)}, true
}

// NormalizePoint resolves a single vertex. Non-finite input is rejected.
func NormalizePoint(p RawPoint, f Frame) (types.Point, bool) {
	x, y := p.X, p.Y
	if !allFinite(x, y) {
		return types.Point{}, false
	}

	if f.CoordSystem == Normalized1000 && validDim(f.ImageW) && validDim(f.ImageH) {
		x = x / normalizedExtent * f.ImageW
		y = y / normalizedExtent * f.ImageH
	}
	if f.Origin == BottomLeft && validDim(f.ImageH) {
		y = f.ImageH - y
	}

	x, y = x*scale(f.ScaleX), y*scale(f.ScaleY)

	if validDim(f.CanvasW) && validDim(f.CanvasH) {
		x = clamp(x, 0, f.CanvasW)
		y = clamp(y, 0, f.CanvasH)
	}
	return types.Point{X: x, Y: y}, true
}

// NormalizePoints resolves every vertex, dropping the invalid ones
func NormalizePoints(pts []RawPoint, f Frame) []types.Point {
	out := make([]types.Point, 0, len(pts))
	for _, p := range pts {
		if np, ok := NormalizePoint(p, f); ok {
			out = append(out, np)
		}
	}
	return out
}

// NormalizePolygon resolves a polygon. Fewer than three surviving vertices
// cannot be drawn as a shape, so the polygon is rejected.
func NormalizePolygon(pts []RawPoint, f Frame) ([]types.Point, bool) {
	out := NormalizePoints(pts, f)
	if len(out) < 3 {
		return nil, false
	}
	return out, true
}

func scale(v float64) float64 {
	if v == 0 || !finite(v) {
		return 1
	}
	return v
}

func validDim(v float64) bool {
	return v > 0 && finite(v)
}

// clamp maps non-finite input to lo
func clamp(v, lo, hi float64) float64 {
	if !finite(v) {
		return lo
	}
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(vs ...float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}
