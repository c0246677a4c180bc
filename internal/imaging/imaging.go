// Package imaging serializes captures for transport.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/comfycap/comfycap/internal/capture"
	"golang.org/x/image/draw"
)

// ContentTypePNG is the media type of EncodePNG output.
const ContentTypePNG = "image/png"

// EncodePNG encodes img losslessly as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", capture.ErrEncode)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG is EncodePNG followed by standard base64.
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Preview scales img down to at most maxWidth pixels wide, keeping the
// aspect ratio. A non-positive maxWidth or a narrower image returns img.
func Preview(img *image.RGBA, maxWidth int) *image.RGBA {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	height := max(b.Dy()*maxWidth/b.Dx(), 1)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
