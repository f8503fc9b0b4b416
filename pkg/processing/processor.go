package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned for images no registered decoder understands
var ErrUnsupportedFormat = errors.New("unsupported image format")

// inlinePayloadWarnBytes is where inline uploads get close to the 20 MB request cap
const inlinePayloadWarnBytes = 18 * 1024 * 1024

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Site-Analyzer/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return p.DecodeBytes(imageData)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	img, err := p.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// DecodeBytes decodes an image from byte data with WebP support
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, ErrUnsupportedFormat
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// GetImageInfo returns basic information about an image
func (p *Processor) GetImageInfo(img image.Image) ImageInfo {
	b := img.Bounds()
	info := ImageInfo{Width: b.Dx(), Height: b.Dy(), Area: b.Dx() * b.Dy()}
	if info.Height > 0 {
		info.AspectRatio = float64(info.Width) / float64(info.Height)
	}
	return info
}

// ValidateImage checks that an image meets the minimum size on both sides
func (p *Processor) ValidateImage(img image.Image, minSize int) error {
	b := img.Bounds()
	if b.Dx() < minSize || b.Dy() < minSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), minSize)
	}
	return nil
}

// PrepareOptions controls how an image is encoded for upload
type PrepareOptions struct {
	Format   string        `json:"format" yaml:"format"`
	Quality  int           `json:"quality" yaml:"quality"`
	TileSize int           `json:"tile_size" yaml:"tile_size"`
	Resize   ResizeOptions `json:"resize" yaml:"resize"`
}

// DefaultPrepareOptions sends JPEG at quality 85 with the default resize heuristic
func DefaultPrepareOptions() PrepareOptions {
	return PrepareOptions{
		Format:   "jpg",
		Quality:  85,
		TileSize: DefaultTileSize,
		Resize:   DefaultResizeOptions(),
	}
}

// Prepared is an image ready to be sent to a vision model
type Prepared struct {
	Base64       string
	MimeType     string
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Bytes        int
	Plan         ResizePlan
	Footprint    TileFootprint
	Warnings     []string
}

// ScaleToSource returns the factors that map sent pixels back to source pixels
func (p *Prepared) ScaleToSource() (float64, float64) {
	if p.Width <= 0 || p.Height <= 0 {
		return 1, 1
	}
	return float64(p.SourceWidth) / float64(p.Width), float64(p.SourceHeight) / float64(p.Height)
}

// PrepareImageForModel downscales and encodes img for upload
func (p *Processor) PrepareImageForModel(img image.Image, opts PrepareOptions) (*Prepared, error) {
	b := img.Bounds()
	plan, err := ComputeResizeDimensions(b.Dx(), b.Dy(), opts.Resize)
	if err != nil {
		return nil, err
	}
	if plan.Resized {
		img = imaging.Resize(img, plan.Width, plan.Height, imaging.Lanczos)
	}

	tileSize := opts.TileSize
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	footprint, err := EstimateTileFootprint(plan.Width, plan.Height, tileSize)
	if err != nil {
		return nil, err
	}

	data, mime, err := encode(img, opts.Format, opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	prep := &Prepared{
		Base64:       base64.StdEncoding.EncodeToString(data),
		MimeType:     mime,
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
		Width:        plan.Width,
		Height:       plan.Height,
		Bytes:        len(data),
		Plan:         plan,
		Footprint:    footprint,
	}
	if footprint.TotalTiles > 4 {
		prep.Warnings = append(prep.Warnings, fmt.Sprintf("image spans %d tiles of %dpx; consider cropping regions of interest", footprint.TotalTiles, tileSize))
	}
	if len(data) > inlinePayloadWarnBytes {
		prep.Warnings = append(prep.Warnings, "inline payload is approaching the 20 MB request limit")
	}
	return prep, nil
}

func encode(img image.Image, format string, quality int) ([]byte, string, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/webp", nil
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
