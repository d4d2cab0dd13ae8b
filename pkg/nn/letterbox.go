package nn

import (
	"github.com/bmharper/cimg/v2"
)

// LetterboxPad is the gray level of the border that a letterboxed image is padded with
const LetterboxPad = 114

// LetterboxTransform records how a source image was placed inside the square network input,
// so that network-space boxes can be projected back onto the source.
type LetterboxTransform struct {
	Scale float32 // network pixels per source pixel
	PadX  float32 // left border, in network pixels
	PadY  float32 // top border, in network pixels
}

// ToSource maps a box from network space to source image space
func (t LetterboxTransform) ToSource(b Box) Box {
	return Box{
		X1: (b.X1 - t.PadX) / t.Scale,
		Y1: (b.Y1 - t.PadY) / t.Scale,
		X2: (b.X2 - t.PadX) / t.Scale,
		Y2: (b.Y2 - t.PadY) / t.Scale,
	}
}

// ToNetwork maps a box from source image space to network space
func (t LetterboxTransform) ToNetwork(b Box) Box {
	return Box{
		X1: b.X1*t.Scale + t.PadX,
		Y1: b.Y1*t.Scale + t.PadY,
		X2: b.X2*t.Scale + t.PadX,
		Y2: b.Y2*t.Scale + t.PadY,
	}
}

// Letterbox resizes an RGB image into a size x size RGB image, preserving the aspect ratio,
// and centering it on a gray background. The transform is deterministic.
func Letterbox(src *cimg.Image, size int) (*cimg.Image, LetterboxTransform) {
	scale := min(float32(size)/float32(src.Width), float32(size)/float32(src.Height))
	scaledWidth := max(1, min(size, int(float32(src.Width)*scale)))
	scaledHeight := max(1, min(size, int(float32(src.Height)*scale)))
	padX := (size - scaledWidth) / 2
	padY := (size - scaledHeight) / 2

	dst := cimg.NewImage(size, size, cimg.PixelFormatRGB)
	for i := range dst.Pixels {
		dst.Pixels[i] = LetterboxPad
	}

	if scaledWidth == src.Width && scaledHeight == src.Height {
		dst.CopyImageRect(src, 0, 0, src.Width, src.Height, padX, padY)
	} else {
		resizeParams := cimg.ResizeParams{CheapSRGBFilter: true}
		if scale < 1 {
			resizeParams.Filter = cimg.ResizeFilterCatmullRom
		} else {
			resizeParams.Filter = cimg.ResizeFilterTriangle
		}
		offset := padY*dst.Stride + padX*3
		window := cimg.WrapImageStrided(scaledWidth, scaledHeight, cimg.PixelFormatRGB, dst.Pixels[offset:], dst.Stride)
		cimg.Resize(src, window, &resizeParams)
	}

	xform := LetterboxTransform{
		Scale: scale,
		PadX:  float32(padX),
		PadY:  float32(padY),
	}
	return dst, xform
}

// ToCHW converts an RGB image into a planar float32 tensor with values in [0,1]
func ToCHW(img *cimg.Image) []float32 {
	plane := img.Width * img.Height
	out := make([]float32, 3*plane)
	for y := 0; y < img.Height; y++ {
		row := img.Pixels[y*img.Stride : y*img.Stride+img.Width*3]
		for x := 0; x < img.Width; x++ {
			i := y*img.Width + x
			out[i] = float32(row[x*3]) / 255
			out[plane+i] = float32(row[x*3+1]) / 255
			out[2*plane+i] = float32(row[x*3+2]) / 255
		}
	}
	return out
}
