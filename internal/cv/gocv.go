//go:build gocv

package cv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// GoCV implements Primitives with OpenCV through gocv.
//
// Every call converts to and from gocv.Mat and closes the intermediate Mats
// before returning, so no native memory outlives a call.
type GoCV struct{}

var _ Primitives = GoCV{}

// Default returns the OpenCV-backed primitives.
func Default() Primitives {
	return GoCV{}
}

// Backend names the compiled-in default implementation.
const Backend = "gocv"

func grayMat(g *image.Gray) gocv.Mat {
	m, err := gocv.ImageGrayToMatGray(rebase(g))
	if err != nil {
		return gocv.NewMat()
	}
	return m
}

func matGray(m gocv.Mat) *image.Gray {
	img, err := m.ToImage()
	if err != nil {
		return image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	}
	if g, ok := img.(*image.Gray); ok {
		return rebase(g)
	}
	return Native{}.Grayscale(img)
}

func (GoCV) Grayscale(img image.Image) *image.Gray {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return Native{}.Grayscale(img)
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, gocv.ColorRGBToGray)
	return matGray(dst)
}

func (GoCV) GaussianBlur(src *image.Gray, ksize int) *image.Gray {
	if ksize < 3 {
		return rebase(src)
	}
	if ksize%2 == 0 {
		ksize++
	}
	m := grayMat(src)
	defer m.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(m, &dst, image.Pt(ksize, ksize), 0, 0, gocv.BorderDefault)
	return matGray(dst)
}

func (GoCV) Canny(src *image.Gray, low, high float64) *image.Gray {
	m := grayMat(src)
	defer m.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Canny(m, &dst, float32(low), float32(high))
	return matGray(dst)
}

func (GoCV) Dilate(src *image.Gray, ksize int) *image.Gray {
	return morph(src, ksize, gocv.Dilate)
}

func (GoCV) Erode(src *image.Gray, ksize int) *image.Gray {
	return morph(src, ksize, gocv.Erode)
}

func morph(src *image.Gray, ksize int, op func(gocv.Mat, *gocv.Mat, gocv.Mat)) *image.Gray {
	if ksize < 2 {
		return rebase(src)
	}
	m := grayMat(src)
	defer m.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	defer kernel.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	op(m, &dst, kernel)
	return matGray(dst)
}

func (GoCV) FindContours(binary *image.Gray) []Contour {
	m := grayMat(binary)
	defer m.Close()
	pv := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer pv.Close()

	out := make([]Contour, 0, pv.Size())
	for _, pts := range pv.ToPoints() {
		c := make(Contour, len(pts))
		for i, p := range pts {
			c[i] = geometry.FromImagePoint(p)
		}
		out = append(out, c)
	}
	return out
}

func pointVector(c Contour) gocv.PointVector {
	pts := make([]image.Point, len(c))
	for i, p := range c {
		pts[i] = p.Round()
	}
	return gocv.NewPointVectorFromPoints(pts)
}

func (GoCV) ContourArea(c Contour) float64 {
	pv := pointVector(c)
	defer pv.Close()
	return gocv.ContourArea(pv)
}

func (GoCV) ArcLength(c Contour, closed bool) float64 {
	pv := pointVector(c)
	defer pv.Close()
	return gocv.ArcLength(pv, closed)
}

func (GoCV) ApproxPolyDP(c Contour, epsilon float64) Contour {
	pv := pointVector(c)
	defer pv.Close()
	approx := gocv.ApproxPolyDP(pv, epsilon, true)
	defer approx.Close()
	pts := approx.ToPoints()
	out := make(Contour, len(pts))
	for i, p := range pts {
		out[i] = geometry.FromImagePoint(p)
	}
	return out
}

func (GoCV) MinAreaRect(c Contour) ([4]geometry.Point, bool) {
	if len(c) < 3 {
		return [4]geometry.Point{}, false
	}
	pv := pointVector(c)
	defer pv.Close()
	rr := gocv.MinAreaRect(pv)
	if len(rr.Points) != 4 {
		return [4]geometry.Point{}, false
	}
	var out [4]geometry.Point
	for i, p := range rr.Points {
		out[i] = geometry.FromImagePoint(p)
	}
	return out, true
}

func (GoCV) GetPerspectiveTransform(src, dst [4]geometry.Point) (geometry.Homography, error) {
	toVec := func(pts [4]geometry.Point) gocv.Point2fVector {
		fs := make([]gocv.Point2f, 4)
		for i, p := range pts {
			fs[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		}
		return gocv.NewPoint2fVectorFromPoints(fs)
	}
	s, d := toVec(src), toVec(dst)
	defer s.Close()
	defer d.Close()

	m := gocv.GetPerspectiveTransform2f(s, d)
	defer m.Close()
	if m.Empty() {
		return geometry.Homography{}, geometry.ErrInvalidHomography
	}
	var h geometry.Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = m.GetDoubleAt(r, c)
		}
	}
	if !geometry.IsValidHomography(h) {
		return geometry.Homography{}, geometry.ErrInvalidHomography
	}
	return h, nil
}

func (GoCV) WarpPerspective(src image.Image, h geometry.Homography, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid warp size %dx%d", width, height)
	}
	if !geometry.IsValidHomography(h) {
		return nil, geometry.ErrInvalidHomography
	}
	s, err := gocv.ImageToMatRGBA(src)
	if err != nil {
		return nil, fmt.Errorf("failed to convert source image: %w", err)
	}
	defer s.Close()

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r*3+c])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspectiveWithParams(s, &dst, m, image.Pt(width, height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{A: 255})

	img, err := dst.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert warped image: %w", err)
	}
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out, nil
}

func (GoCV) PointPolygonTest(c Contour, p geometry.Point) float64 {
	pv := pointVector(c)
	defer pv.Close()
	return gocv.PointPolygonTest(pv, p.Round(), false)
}
