package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Input dimensions expected by the classification model.
const (
	Width    = 224
	Height   = 224
	Channels = 3
)

// MaxPixels is the default bound on the raster size an upload may declare.
const MaxPixels = 25_000_000

var ErrInvalidImage = errors.New("invalid image")

// Tensor is a dense HWC raster of byte-range channel values.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Pix      []uint8
}

// Shape returns the batch-of-one NHWC shape of the tensor.
func (t *Tensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), int64(t.Channels)}
}

// At returns the channel value at row y, column x.
func (t *Tensor) At(y, x, c int) uint8 {
	return t.Pix[(y*t.Width+x)*t.Channels+c]
}

// Float32 converts the raster into model input values in [0,255].
func (t *Tensor) Float32() []float32 {
	out := make([]float32, len(t.Pix))
	for i, v := range t.Pix {
		out[i] = float32(v)
	}
	return out
}

// Preprocess decodes data, drops alpha and resizes to Width x Height with a
// bilinear filter. data is only read.
func Preprocess(data []byte) (*Tensor, error) {
	return PreprocessLimit(data, MaxPixels)
}

// PreprocessLimit is Preprocess with an explicit pixel bound. The header is
// checked before the raster is decoded so an oversized claim costs no
// allocation. maxPixels <= 0 disables the bound.
func PreprocessLimit(data []byte, maxPixels int64) (*Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	resized := imaging.Resize(img, Width, Height, imaging.Linear)

	t := &Tensor{Height: Height, Width: Width, Channels: Channels, Pix: make([]uint8, Width*Height*Channels)}
	for y := 0; y < Height; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+Width*4]
		for x := 0; x < Width; x++ {
			dst := (y*Width + x) * Channels
			src := x * 4
			t.Pix[dst] = row[src]
			t.Pix[dst+1] = row[src+1]
			t.Pix[dst+2] = row[src+2]
		}
	}
	return t, nil
}
