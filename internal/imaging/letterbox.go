package imaging

import (
	"image"
	"image/color"
	stddraw "image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Letterbox scales img to fit inside a width x height canvas while keeping
// its aspect ratio, and centres it on an opaque black background.
//
// When img already fits exactly along one axis it is copied without
// resampling. Otherwise it is scaled with bilinear interpolation.
func Letterbox(img image.Image, width, height int) *image.NRGBA {
	canvas := imaging.New(width, height, color.NRGBA{A: 255})
	sb := img.Bounds()
	if sb.Empty() || width <= 0 || height <= 0 {
		return canvas
	}

	scale := math.Min(float64(width)/float64(sb.Dx()), float64(height)/float64(sb.Dy()))
	dw := int(math.Round(float64(sb.Dx()) * scale))
	dh := int(math.Round(float64(sb.Dy()) * scale))
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	x0 := (width - dw) / 2
	y0 := (height - dh) / 2
	dst := image.Rect(x0, y0, x0+dw, y0+dh)

	if dw == sb.Dx() && dh == sb.Dy() {
		stddraw.Draw(canvas, dst, img, sb.Min, stddraw.Over)
		return canvas
	}
	draw.BiLinear.Scale(canvas, dst, img, sb, draw.Over, nil)
	return canvas
}

// Resize resamples img to exactly width x height, ignoring aspect ratio.
func Resize(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, height, imaging.Lanczos)
}
