package imageprocessor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func near(got, want uint8) bool {
	d := int(got) - int(want)
	return d >= -2 && d <= 2
}

func TestPreprocessResizesToModelInput(t *testing.T) {
	data := encodePNG(t, solid(50, 80, color.NRGBA{R: 200, G: 100, B: 50, A: 255}))

	tensor, err := Preprocess(data)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if tensor.Height != Height || tensor.Width != Width || tensor.Channels != Channels {
		t.Fatalf("unexpected dims: %dx%dx%d", tensor.Height, tensor.Width, tensor.Channels)
	}
	if len(tensor.Pix) != Height*Width*Channels {
		t.Fatalf("unexpected pixel count %d", len(tensor.Pix))
	}
	if r, g, b := tensor.At(112, 112, 0), tensor.At(112, 112, 1), tensor.At(112, 112, 2); !near(r, 200) || !near(g, 100) || !near(b, 50) {
		t.Fatalf("unexpected pixel (%d,%d,%d)", r, g, b)
	}

	shape := tensor.Shape()
	if len(shape) != 4 || shape[0] != 1 || shape[1] != 224 || shape[3] != 3 {
		t.Fatalf("unexpected shape %v", shape)
	}
}

func TestPreprocessIsDeterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 31, 17))
	for y := 0; y < 17; y++ {
		for x := 0; x < 31; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 15), B: uint8(x + y), A: 255})
		}
	}
	data := encodePNG(t, img)
	original := append([]byte(nil), data...)

	first, err := Preprocess(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Preprocess(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatal("expected identical output for identical input")
	}
	if !bytes.Equal(data, original) {
		t.Fatal("input buffer was mutated")
	}
}

func TestPreprocessDecodesJPEGAndDropsAlpha(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(10, 10, color.NRGBA{R: 10, G: 240, B: 10, A: 255}), &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	tensor, err := Preprocess(buf.Bytes())
	if err != nil {
		t.Fatalf("expected jpeg to decode, got %v", err)
	}
	if g := tensor.At(0, 0, 1); g < 220 {
		t.Fatalf("expected green channel to dominate, got %d", g)
	}

	translucent := encodePNG(t, solid(4, 4, color.NRGBA{R: 90, G: 80, B: 70, A: 128}))
	tensor, err = Preprocess(translucent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !near(tensor.At(0, 0, 0), 90) {
		t.Fatalf("expected raw red channel near 90, got %d", tensor.At(0, 0, 0))
	}
}

func TestPreprocessRejectsGarbage(t *testing.T) {
	_, err := Preprocess([]byte("definitely not an image"))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

// withDeclaredSize rewrites the IHDR dimensions of an encoded PNG without
// touching its pixel data.
func withDeclaredSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	if len(data) < 33 || string(data[12:16]) != "IHDR" {
		t.Fatal("unexpected PNG layout")
	}
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestPreprocessRejectsOversizedRaster(t *testing.T) {
	data := withDeclaredSize(t, encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1))), 20000, 20000)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width != 20000 || cfg.Height != 20000 {
		t.Fatalf("crafted header not accepted: %+v %v", cfg, err)
	}

	_, err = Preprocess(data)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestPreprocessLimitBounds(t *testing.T) {
	data := encodePNG(t, solid(50, 80, color.NRGBA{R: 1, G: 2, B: 3, A: 255}))

	if _, err := PreprocessLimit(data, 50*80-1); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage above the limit, got %v", err)
	}
	if _, err := PreprocessLimit(data, 50*80); err != nil {
		t.Fatalf("expected image at the limit to pass, got %v", err)
	}
	if _, err := PreprocessLimit(data, 0); err != nil {
		t.Fatalf("expected a zero limit to disable the bound, got %v", err)
	}
}

func TestFloat32KeepsByteRange(t *testing.T) {
	tensor := &Tensor{Height: 1, Width: 1, Channels: 3, Pix: []uint8{0, 128, 255}}
	got := tensor.Float32()
	if got[0] != 0 || got[1] != 128 || got[2] != 255 {
		t.Fatalf("unexpected values %v", got)
	}
}
