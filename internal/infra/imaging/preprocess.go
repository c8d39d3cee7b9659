package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ErrUnsupportedImage is returned when the upload cannot be decoded.
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// Options controls the canonical form produced by Prepare.
type Options struct {
	// Size is the edge of the square output canvas in pixels.
	Size    int
	Enhance bool
	// Contrast and Brightness are percentages in (-100, 100); Sharpen is a gaussian sigma.
	Contrast   float64
	Sharpen    float64
	Brightness float64
	// MaxPixels bounds width*height of the decoded source.
	MaxPixels int
}

// DefaultMaxPixels admits large digital radiographs while refusing decompression bombs.
const DefaultMaxPixels = 40_000_000

func DefaultOptions() Options {
	return Options{
		Size:       512,
		Enhance:    true,
		Contrast:   20,
		Sharpen:    0.5,
		Brightness: 5,
		MaxPixels:  DefaultMaxPixels,
	}
}

// Info describes the uploaded image before preparation.
type Info struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Prepared is a canonical RGB image plus metadata about its source.
type Prepared struct {
	Image  image.Image
	Source Info
}

type Processor struct {
	opts Options
}

func NewProcessor(opts Options) *Processor {
	if opts.Size <= 0 {
		opts.Size = DefaultOptions().Size
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Processor{opts: opts}
}

// Prepare decodes an upload and letterboxes it onto an opaque black square.
// Images smaller than the canvas are centered without upscaling.
func (p *Processor) Prepare(data []byte) (*Prepared, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > int64(p.opts.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedImage, cfg.Width, cfg.Height, p.opts.MaxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	if p.opts.Enhance {
		img = p.enhance(img)
	}

	size := p.opts.Size
	fitted := imaging.Fit(img, size, size, imaging.Lanczos)
	canvas := imaging.New(size, size, color.Black)

	return &Prepared{
		Image: imaging.OverlayCenter(canvas, fitted, 1.0),
		Source: Info{
			Format: format,
			Width:  cfg.Width,
			Height: cfg.Height,
		},
	}, nil
}

func (p *Processor) enhance(img image.Image) image.Image {
	out := imaging.AdjustContrast(img, p.opts.Contrast)
	if p.opts.Sharpen > 0 {
		out = imaging.Sharpen(out, p.opts.Sharpen)
	}
	return imaging.AdjustBrightness(out, p.opts.Brightness)
}

// Probe returns the small white image used for connectivity checks.
func Probe() image.Image {
	return imaging.New(100, 100, color.White)
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
