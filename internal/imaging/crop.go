package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Crop extracts region r from img into a new image whose bounds start at
// (0,0). r is in img's coordinate space and must lie within its bounds.
func Crop(img image.Image, r image.Rectangle) (*image.NRGBA, error) {
	bounds := img.Bounds()

	if !r.In(bounds) {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if r.Empty() {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	return imaging.Crop(img, r), nil
}

// SquareAround returns the square of the given side centred on (cx, cy),
// shifted to stay inside bounds and shrunk only when bounds is smaller than
// the square.
//
// A region that would cross the frame edge slides inward instead of being
// clipped.
func SquareAround(cx, cy float64, side int, bounds image.Rectangle) image.Rectangle {
	w, h := side, side
	if w > bounds.Dx() {
		w = bounds.Dx()
	}
	if h > bounds.Dy() {
		h = bounds.Dy()
	}

	x0 := int(cx) - w/2
	y0 := int(cy) - h/2
	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x0+w > bounds.Max.X {
		x0 = bounds.Max.X - w
	}
	if y0+h > bounds.Max.Y {
		y0 = bounds.Max.Y - h
	}
	return image.Rect(x0, y0, x0+w, y0+h)
}
