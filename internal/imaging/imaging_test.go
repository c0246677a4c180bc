package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/comfycap/comfycap/internal/capture"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestEncodePNGIsLossless(t *testing.T) {
	src := solid(7, 3, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src.SetRGBA(6, 2, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	data, err := EncodePNG(src)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v", decoded.Bounds())
	}
	r, g, b, _ := decoded.At(6, 2).RGBA()
	if r>>8 != 200 || g>>8 != 100 || b>>8 != 50 {
		t.Fatalf("pixel = %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestEncodePNGRejectsEmpty(t *testing.T) {
	if _, err := EncodePNG(image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, capture.ErrEncode) {
		t.Fatalf("err = %v", err)
	}
	if _, err := EncodePNG(nil); !errors.Is(err, capture.ErrEncode) {
		t.Fatalf("nil err = %v", err)
	}
}

func TestEncodeBase64PNG(t *testing.T) {
	s, err := EncodeBase64PNG(solid(2, 2, color.RGBA{A: 255}))
	if err != nil {
		t.Fatalf("EncodeBase64PNG: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("png: %v", err)
	}
}

func TestPreview(t *testing.T) {
	src := solid(400, 100, color.RGBA{R: 255, A: 255})

	if got := Preview(src, 0); got != src {
		t.Error("maxWidth 0 should return the source")
	}
	if got := Preview(src, 800); got != src {
		t.Error("wider limit should return the source")
	}

	got := Preview(src, 100)
	if got.Bounds().Dx() != 100 || got.Bounds().Dy() != 25 {
		t.Fatalf("preview bounds = %v", got.Bounds())
	}
	if c := got.RGBAAt(50, 12); c.R < 250 || c.G > 5 {
		t.Fatalf("preview colour = %+v", c)
	}

	thin := Preview(solid(1000, 1, color.RGBA{A: 255}), 10)
	if thin.Bounds().Dy() != 1 {
		t.Fatalf("thin preview height = %d", thin.Bounds().Dy())
	}
}
