// Package vision normalizes source camera frames into the canonical observation
// layout: a fixed target resolution (padding to preserve aspect ratio) in
// channel-first order.
package vision

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/robomosaic/robomosaic/robo-golib/errors"
	"gorgonia.org/tensor"
)

// ResizeWithPad scales img to fit within width x height preserving its aspect ratio,
// then centers it on a black canvas of exactly width x height.
func ResizeWithPad(img image.Image, width, height int) *image.NRGBA {
	fitted := imaging.Fit(img, width, height, imaging.Lanczos)
	canvas := imaging.New(width, height, color.NRGBA{A: 0xff})
	return imaging.PasteCenter(canvas, fitted)
}

// CHWUint8 reorders an image into channel-first (3, height, width) uint8 layout.
func CHWUint8(img *image.NRGBA) *tensor.Dense {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	out := make([]uint8, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			at := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			out[0*plane+y*w+x] = img.Pix[at+0]
			out[1*plane+y*w+x] = img.Pix[at+1]
			out[2*plane+y*w+x] = img.Pix[at+2]
		}
	}

	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(out))
}

// DecodeFrame decodes an encoded camera frame (PNG or JPEG).
func DecodeFrame(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding camera frame")
	}
	return img, nil
}

// NormalizeFrame decodes, resizes with padding, and reorders a native frame into the
// canonical channel-first tensor.
func NormalizeFrame(data []byte, width, height int) (*tensor.Dense, error) {
	img, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return CHWUint8(ResizeWithPad(img, width, height)), nil
}
