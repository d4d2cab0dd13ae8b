// Package imgcodec turns uploaded image bytes into RGB buffers, and RGB buffers into
// JPEG data URIs that a browser can show directly.
package imgcodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/bmharper/cimg/v2"
	"github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// JPEGQuality is the quality of annotated previews
const JPEGQuality = 95

// DecodeError is returned when an uploaded file is not an image we can read
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("Unable to decode image '%v': %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode reads a PNG, JPEG, GIF, BMP, TIFF or WebP file and returns it as packed RGB.
// Alpha is discarded and palette or grayscale images are expanded.
func Decode(filename string, data []byte) (*cimg.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("empty file")}
	}
	var img image.Image
	var err error
	if isWebP(data) {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, &DecodeError{Filename: filename, Err: err}
	}
	rgb := FromImage(img)
	if rgb.Width == 0 || rgb.Height == 0 {
		return nil, &DecodeError{Filename: filename, Err: fmt.Errorf("image has no pixels")}
	}
	return rgb, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// FromImage converts any Go image into packed RGB
func FromImage(img image.Image) *cimg.Image {
	bounds := img.Bounds()
	dst := cimg.NewImage(bounds.Dx(), bounds.Dy(), cimg.PixelFormatRGB)
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < dst.Height; y++ {
			s := src.Pix[y*src.Stride : y*src.Stride+dst.Width*4]
			d := dst.Pixels[y*dst.Stride : y*dst.Stride+dst.Width*3]
			for x := 0; x < dst.Width; x++ {
				d[x*3] = s[x*4]
				d[x*3+1] = s[x*4+1]
				d[x*3+2] = s[x*4+2]
			}
		}
	case *image.NRGBA:
		for y := 0; y < dst.Height; y++ {
			s := src.Pix[y*src.Stride : y*src.Stride+dst.Width*4]
			d := dst.Pixels[y*dst.Stride : y*dst.Stride+dst.Width*3]
			for x := 0; x < dst.Width; x++ {
				d[x*3] = s[x*4]
				d[x*3+1] = s[x*4+1]
				d[x*3+2] = s[x*4+2]
			}
		}
	default:
		for y := 0; y < dst.Height; y++ {
			d := dst.Pixels[y*dst.Stride:]
			for x := 0; x < dst.Width; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				d[x*3] = uint8(r >> 8)
				d[x*3+1] = uint8(g >> 8)
				d[x*3+2] = uint8(b >> 8)
			}
		}
	}
	return dst
}

// ToRGBA wraps a packed RGB image as an *image.RGBA, for drawing with the standard image interfaces
func ToRGBA(img *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		s := img.Pixels[y*img.Stride : y*img.Stride+img.Width*3]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			d[x*4] = s[x*3]
			d[x*4+1] = s[x*3+1]
			d[x*4+2] = s[x*3+2]
			d[x*4+3] = 255
		}
	}
	return dst
}

// EncodeJPEG compresses an RGB image
func EncodeJPEG(img *cimg.Image, quality int) ([]byte, error) {
	return cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling444, quality, 0))
}

// EncodeDataURI compresses an image to JPEG and returns it as a "data:image/jpeg;base64," URI
func EncodeDataURI(img *cimg.Image) (string, error) {
	jpg, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg), nil
}
