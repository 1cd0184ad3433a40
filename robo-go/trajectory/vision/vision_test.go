package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeWithPad_WideSource(t *testing.T) {
	// 320x120 source into a 160x128 target: scaled to 160x60, padded vertically.
	src := image.NewNRGBA(image.Rect(0, 0, 320, 120))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}

	out := ResizeWithPad(src, 160, 128)
	require.Equal(t, 160, out.Bounds().Dx())
	require.Equal(t, 128, out.Bounds().Dy())

	// top rows are padding
	r, g, b, _ := out.At(80, 2).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	// center is image content
	r, _, _, _ = out.At(80, 64).RGBA()
	assert.NotZero(t, r)
}

func TestCHWUint8(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff})
	src.SetNRGBA(1, 1, color.NRGBA{R: 40, G: 50, B: 60, A: 0xff})

	d := CHWUint8(src)
	require.True(t, d.Shape().Eq(tensor.Shape{3, 2, 2}))

	data := d.Data().([]uint8)
	// (c, y, x) layout
	assert.EqualValues(t, 10, data[0*4+0*2+0])
	assert.EqualValues(t, 20, data[1*4+0*2+0])
	assert.EqualValues(t, 30, data[2*4+0*2+0])
	assert.EqualValues(t, 60, data[2*4+1*2+1])
}

func TestNormalizeFrame(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	d, err := NormalizeFrame(encodePNG(t, src), 160, 128)
	require.NoError(t, err)
	require.True(t, d.Shape().Eq(tensor.Shape{3, 128, 160}))
	require.Equal(t, tensor.Uint8, d.Dtype())
}

func TestNormalizeFrame_BadData(t *testing.T) {
	_, err := NormalizeFrame([]byte("not a png"), 160, 128)
	require.Error(t, err)
}
