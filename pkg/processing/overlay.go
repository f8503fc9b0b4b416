package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/site-analyzer/pkg/types"
)

// Overlay colours per detection category
var (
	ColorSafetyIssue   = color.NRGBA{0xff, 0x5b, 0x5b, 0xff}
	ColorFacilityAsset = color.NRGBA{0x5b, 0xd1, 0xff, 0xff}
	ColorProgress      = color.NRGBA{0xa1, 0xff, 0x5b, 0xff}
	ColorObject        = color.NRGBA{0xff, 0xd0, 0x5b, 0xff}
	ColorDefault       = color.NRGBA{0xcc, 0xcc, 0xcc, 0xff}
)

// ColorForCategory returns the overlay colour of a category
func ColorForCategory(c types.Category) color.NRGBA {
	switch c {
	case types.CategorySafetyIssue:
		return ColorSafetyIssue
	case types.CategoryFacilityAsset:
		return ColorFacilityAsset
	case types.CategoryProgress:
		return ColorProgress
	case types.CategoryObject:
		return ColorObject
	default:
		return ColorDefault
	}
}

// CreateDebugOverlay draws every detection's geometry onto a copy of img.
// Detection geometry must already be in img's pixel space.
func (p *Processor) CreateDebugOverlay(img image.Image, dets []types.Detection) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(min(w, h))))   // ~1% of min side

	for _, det := range dets {
		c := ColorForCategory(det.Category)
		if det.Box != nil {
			drawBox(nrgba, *det.Box, c, stroke)
		}
		if len(det.Polygon) >= 3 {
			for i := range det.Polygon {
				a, b := det.Polygon[i], det.Polygon[(i+1)%len(det.Polygon)]
				drawLine(nrgba, a, b, c)
			}
		}
		for _, pt := range det.Points {
			px, py := int(pt.X+0.5), int(pt.Y+0.5)
			drawHLine(nrgba, py, px-cross, px+cross, c)
			drawVLine(nrgba, px, py-cross, py+cross, c)
		}
	}
	return nrgba
}

func boxToPixels(box types.Box, w, h int) (int, int, int, int) {
	x0 := int(clamp(box.X, 0, float64(w)) + 0.5)
	y0 := int(clamp(box.Y, 0, float64(h)) + 0.5)
	x1 := int(clamp(box.X+box.Width, 0, float64(w)) + 0.5)
	y1 := int(clamp(box.Y+box.Height, 0, float64(h)) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawBox(img *image.NRGBA, box types.Box, c color.NRGBA, stroke int) {
	x0, y0, x1, y1 := boxToPixels(box, img.Bounds().Dx(), img.Bounds().Dy())
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm
func drawLine(img *image.NRGBA, a, b types.Point, c color.NRGBA) {
	x0, y0 := int(a.X+0.5), int(a.Y+0.5)
	x1, y1 := int(b.X+0.5), int(b.Y+0.5)
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		setPixel(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= img.Bounds().Dx() || y >= img.Bounds().Dy() {
		return
	}
	i := y*img.Stride + x*4
	img.Pix[i+0] = c.R
	img.Pix[i+1] = c.G
	img.Pix[i+2] = c.B
	img.Pix[i+3] = c.A
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
