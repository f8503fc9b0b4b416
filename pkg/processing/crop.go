package processing

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/site-analyzer/pkg/types"
)

// ErrEmptyCrop is returned when a box does not overlap the image
var ErrEmptyCrop = errors.New("empty crop rectangle")

// CropImageToBox cuts a pixel-space box out of img, grown by padding (a
// fraction of the box size on each side). A positive target size fills the
// crop to exactly that size.
func (p *Processor) CropImageToBox(img image.Image, box types.Box, padding float64, targetWidth, targetHeight int) (image.Image, error) {
	bounds := img.Bounds()
	padding = math.Max(0, padding)
	padX, padY := box.Width*padding, box.Height*padding

	x0 := int(math.Floor(box.X - padX))
	y0 := int(math.Floor(box.Y - padY))
	x1 := int(math.Ceil(box.X + box.Width + padX))
	y1 := int(math.Ceil(box.Y + box.Height + padY))

	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	cropped := imaging.Crop(img, rect)
	if targetWidth > 0 && targetHeight > 0 {
		cropped = imaging.Fill(cropped, targetWidth, targetHeight, imaging.Center, imaging.Lanczos)
	}
	return cropped, nil
}
