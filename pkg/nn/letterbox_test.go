package nn

import (
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

func TestLetterboxWide(t *testing.T) {
	src := cimg.NewImage(256, 128, cimg.PixelFormatRGB)
	for i := range src.Pixels {
		src.Pixels[i] = 255
	}
	dst, xform := Letterbox(src, 64)
	require.Equal(t, 64, dst.Width)
	require.Equal(t, 64, dst.Height)
	require.Equal(t, float32(0.25), xform.Scale)
	require.Equal(t, float32(0), xform.PadX)
	require.Equal(t, float32(16), xform.PadY)

	// Top border is padding, middle is image
	require.Equal(t, uint8(LetterboxPad), dst.Pixels[0])
	mid := 32*dst.Stride + 32*3
	require.Greater(t, dst.Pixels[mid], uint8(200))

	// Round trip through the transform
	b := Box{X1: 10, Y1: 20, X2: 110, Y2: 80}
	back := xform.ToSource(xform.ToNetwork(b))
	require.InDelta(t, b.X1, back.X1, 1e-4)
	require.InDelta(t, b.Y2, back.Y2, 1e-4)
}

func TestLetterboxNoResize(t *testing.T) {
	src := cimg.NewImage(32, 16, cimg.PixelFormatRGB)
	dst, xform := Letterbox(src, 32)
	require.Equal(t, float32(1), xform.Scale)
	require.Equal(t, float32(8), xform.PadY)
	require.Len(t, ToCHW(dst), 3*32*32)
}
