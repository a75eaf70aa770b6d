package cv

import (
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// Native implements Primitives in pure Go.
type Native struct{}

var _ Primitives = Native{}

// Grayscale converts img to luminance using bild's ITU-R BT.601 weights.
func (Native) Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return rebase(g)
	}
	return ToGray(effect.Grayscale(img))
}

// GaussianBlur smooths src. ksize follows the OpenCV convention (odd kernel
// width); it is mapped to a bild blur radius of (ksize-1)/2.
func (Native) GaussianBlur(src *image.Gray, ksize int) *image.Gray {
	if ksize < 3 {
		return rebase(src)
	}
	radius := float64(ksize-1) / 2
	return ToGray(blur.Gaussian(src, radius))
}

// Canny runs the hysteresis edge detector in canny.go.
func (Native) Canny(src *image.Gray, low, high float64) *image.Gray {
	return canny(src, low, high)
}

// Dilate grows foreground regions with bild's local-maximum filter.
func (Native) Dilate(src *image.Gray, ksize int) *image.Gray {
	if ksize < 2 {
		return rebase(src)
	}
	return ToGray(effect.Dilate(src, float64(ksize)/2))
}

// Erode shrinks foreground regions with bild's local-minimum filter.
func (Native) Erode(src *image.Gray, ksize int) *image.Gray {
	if ksize < 2 {
		return rebase(src)
	}
	return ToGray(effect.Erode(src, float64(ksize)/2))
}

// FindContours returns external contours only; see findExternalContours.
func (Native) FindContours(binary *image.Gray) []Contour {
	return findExternalContours(binary)
}

func (Native) ContourArea(c Contour) float64 {
	return geometry.PolygonArea(c)
}

func (Native) ArcLength(c Contour, closed bool) float64 {
	return geometry.ArcLength(c, closed)
}

func (Native) ApproxPolyDP(c Contour, epsilon float64) Contour {
	return geometry.ApproxPolyDP(c, epsilon)
}

func (Native) MinAreaRect(c Contour) ([4]geometry.Point, bool) {
	return geometry.MinAreaRect(c)
}

func (Native) GetPerspectiveTransform(src, dst [4]geometry.Point) (geometry.Homography, error) {
	return geometry.ComputeHomography(src, dst)
}

func (Native) PointPolygonTest(c Contour, p geometry.Point) float64 {
	return geometry.PointPolygonTest(c, p)
}

// WarpPerspective renders the destination by inverse mapping every output
// pixel through H^-1 and sampling src bilinearly. Output pixels that map
// outside src are opaque black.
func (Native) WarpPerspective(src image.Image, h geometry.Homography, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid warp size %dx%d", width, height)
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}

	s := imaging.Clone(src)
	sw, sh := s.Rect.Dx(), s.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			p := inv.Apply(geometry.Point{X: float64(x), Y: float64(y)})
			o := x * 4
			if !p.IsFinite() || p.X < -0.5 || p.Y < -0.5 || p.X > float64(sw)-0.5 || p.Y > float64(sh)-0.5 {
				row[o], row[o+1], row[o+2], row[o+3] = 0, 0, 0, 255
				continue
			}
			bilinear(s, p.X, p.Y, row[o:o+4])
		}
	}
	return dst, nil
}

// bilinear samples an NRGBA image at a sub-pixel position into out[0:4].
// Coordinates are clamped to the image.
func bilinear(img *image.NRGBA, x, y float64, out []uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x = math.Max(0, math.Min(x, float64(w-1)))
	y = math.Max(0, math.Min(y, float64(h-1)))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = w - 1
	}
	if y1 >= h {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := img.Pix[y0*img.Stride+x0*4:]
	p10 := img.Pix[y0*img.Stride+x1*4:]
	p01 := img.Pix[y1*img.Stride+x0*4:]
	p11 := img.Pix[y1*img.Stride+x1*4:]
	for c := 0; c < 4; c++ {
		top := float64(p00[c])*(1-fx) + float64(p10[c])*fx
		bot := float64(p01[c])*(1-fx) + float64(p11[c])*fx
		out[c] = uint8(math.Round(top*(1-fy) + bot*fy))
	}
}
