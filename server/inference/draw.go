package inference

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/yololab/pkg/imgcodec"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Box colors, cycled by class id
var palette = [][3]float64{
	{0.90, 0.10, 0.29},
	{0.24, 0.71, 0.29},
	{0.26, 0.39, 0.85},
	{1.00, 0.55, 0.10},
	{0.57, 0.12, 0.71},
	{0.27, 0.94, 0.94},
	{0.94, 0.20, 0.90},
	{0.74, 0.96, 0.05},
}

// drawDetections returns a copy of img with boxes and labels drawn on it
func drawDetections(img *cimg.Image, detections []Detection) *cimg.Image {
	dc := gg.NewContextForImage(imgcodec.ToRGBA(img))
	dc.SetFontFace(basicfont.Face7x13)
	lineWidth := max(2, float64(min(img.Width, img.Height))/300)
	dc.SetLineWidth(lineWidth)

	for _, d := range detections {
		color := palette[0]
		if d.ClassID > 0 {
			color = palette[d.ClassID%len(palette)]
		}
		b := d.BBox
		dc.SetRGB(color[0], color[1], color[2])
		dc.DrawRectangle(float64(b.X1), float64(b.Y1), float64(b.Width), float64(b.Height))
		dc.Stroke()

		label := fmt.Sprintf("%v %.2f", d.ClassName, d.Confidence)
		tw, th := dc.MeasureString(label)
		tx := float64(b.X1)
		ty := float64(b.Y1) - th - 4
		if ty < 0 {
			// No room above the box
			ty = float64(b.Y1)
		}
		dc.DrawRectangle(tx, ty, tw+6, th+4)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(label, tx+3, ty+th+1)
	}
	return imgcodec.FromImage(dc.Image())
}
