package cv

import (
	"image"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// Contour is a closed polygon in pixel coordinates.
type Contour []geometry.Point

// Primitives is the functional CV surface consumed by the geometry and
// detection code.
type Primitives interface {
	// Grayscale converts any image to 8-bit luminance.
	Grayscale(img image.Image) *image.Gray

	// GaussianBlur smooths src with an approximately ksize x ksize kernel.
	GaussianBlur(src *image.Gray, ksize int) *image.Gray

	// Canny returns a binary edge map using hysteresis thresholds on the
	// Sobel gradient magnitude (0-255 scale inputs, OpenCV-style thresholds).
	Canny(src *image.Gray, low, high float64) *image.Gray

	// Dilate and Erode apply binary morphology with a ksize structuring element.
	Dilate(src *image.Gray, ksize int) *image.Gray
	Erode(src *image.Gray, ksize int) *image.Gray

	// FindContours returns the outer boundary of every foreground region that
	// is not enclosed by another region. Contours nested inside holes are
	// not reported.
	FindContours(binary *image.Gray) []Contour

	ContourArea(c Contour) float64
	ArcLength(c Contour, closed bool) float64

	// ApproxPolyDP simplifies a closed contour with tolerance epsilon pixels.
	ApproxPolyDP(c Contour, epsilon float64) Contour

	// MinAreaRect returns the corners of the smallest rotated rectangle
	// enclosing c.
	MinAreaRect(c Contour) ([4]geometry.Point, bool)

	// GetPerspectiveTransform returns the homography mapping src[i] to dst[i].
	GetPerspectiveTransform(src, dst [4]geometry.Point) (geometry.Homography, error)

	// WarpPerspective renders a width x height image whose pixel (x,y) is
	// sampled from src at H^-1(x,y). Pixels mapping outside src are black.
	WarpPerspective(src image.Image, h geometry.Homography, width, height int) (*image.NRGBA, error)

	// PointPolygonTest returns >0 inside, 0 on the contour, <0 outside.
	PointPolygonTest(c Contour, p geometry.Point) float64
}

// rebase returns g with its bounds moved to start at (0,0). The pixel
// buffer is shared.
func rebase(g *image.Gray) *image.Gray {
	if g.Rect.Min == (image.Point{}) {
		return g
	}
	return &image.Gray{
		Pix:    g.Pix,
		Stride: g.Stride,
		Rect:   image.Rect(0, 0, g.Rect.Dx(), g.Rect.Dy()),
	}
}

// ToGray repacks the luminance of a bild result into a one-byte-per-pixel
// image anchored at (0,0). bild filters return *image.RGBA with R=G=B for
// gray input, so the red channel carries the value.
func ToGray(src *image.RGBA) *image.Gray {
	b := src.Rect
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		s := src.Pix[y*src.Stride:]
		d := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			d[x] = s[4*x]
		}
	}
	return dst
}
