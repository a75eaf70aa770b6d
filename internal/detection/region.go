package detection

import (
	"context"
	"errors"
	"image"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// ColorRegionSegmenter is a model-free MaskModel. It grows a 4-connected
// region from the prompt over pixels whose CIE Lab distance to the seed
// colour is within a tolerance, and rates the region by how well it fills
// its minimum-area rectangle.
//
// It suits cards with a solid border on a contrasting surface and is the
// default when no segmentation runtime is configured.
type ColorRegionSegmenter struct {
	MaxSide   int
	Tolerance float64
	CV        cv.Primitives
}

var _ MaskModel = (*ColorRegionSegmenter)(nil)

// NewColorRegionSegmenter returns a segmenter that works on frames reduced
// to at most maxSide pixels on their longest side.
func NewColorRegionSegmenter(maxSide int, tolerance float64) *ColorRegionSegmenter {
	return &ColorRegionSegmenter{MaxSide: maxSide, Tolerance: tolerance, CV: cv.Default()}
}

func (s *ColorRegionSegmenter) Load(ctx context.Context, progress ProgressFunc) error {
	if s.Tolerance <= 0 {
		return errors.New("color tolerance must be positive")
	}
	return nil
}

func (s *ColorRegionSegmenter) Close() error { return nil }

// Segment returns a single mask at the working resolution. A prompt outside
// the image yields no masks.
func (s *ColorRegionSegmenter) Segment(ctx context.Context, img image.Image, prompt geometry.Point) ([]Mask, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}

	scale := 1.0
	if long := math.Max(float64(w), float64(h)); s.MaxSide > 0 && long > float64(s.MaxSide) {
		scale = float64(s.MaxSide) / long
	}
	mw := int(math.Max(1, math.Round(float64(w)*scale)))
	mh := int(math.Max(1, math.Round(float64(h)*scale)))
	small := imaging.Resize(img, mw, mh)

	seedX := int(prompt.X * float64(mw) / float64(w))
	seedY := int(prompt.Y * float64(mh) / float64(h))
	if seedX < 0 || seedY < 0 || seedX >= mw || seedY >= mh {
		return nil, nil
	}

	lab := make([][3]float64, mw*mh)
	for y := 0; y < mh; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < mw; x++ {
			c, _ := colorful.MakeColor(small.NRGBAAt(x, y))
			l, a, bb := c.Lab()
			lab[y*mw+x] = [3]float64{l, a, bb}
		}
	}

	seed := seedColor(lab, mw, mh, seedX, seedY)
	data := growRegion(lab, mw, mh, seedX, seedY, seed, s.Tolerance)

	m := Mask{Width: mw, Height: mh, Data: data}
	m.Quality = s.rectangularity(m)
	return []Mask{m}, nil
}

// seedColor averages the 3x3 neighbourhood of the seed.
func seedColor(lab [][3]float64, w, h, sx, sy int) colorful.Color {
	var sum [3]float64
	n := 0.0
	for y := sy - 1; y <= sy+1; y++ {
		for x := sx - 1; x <= sx+1; x++ {
			if x < 0 || y < 0 || x >= w || y >= h {
				continue
			}
			v := lab[y*w+x]
			sum[0] += v[0]
			sum[1] += v[1]
			sum[2] += v[2]
			n++
		}
	}
	return colorful.Lab(sum[0]/n, sum[1]/n, sum[2]/n)
}

func growRegion(lab [][3]float64, w, h, sx, sy int, seed colorful.Color, tol float64) []float32 {
	data := make([]float32, w*h)
	visited := make([]bool, w*h)
	stack := []int{sy*w + sx}
	visited[sy*w+sx] = true

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v := lab[i]
		if colorful.Lab(v[0], v[1], v[2]).DistanceLab(seed) > tol {
			continue
		}
		data[i] = 1

		x, y := i%w, i/w
		for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
			if n[0] < 0 || n[1] < 0 || n[0] >= w || n[1] >= h {
				continue
			}
			j := n[1]*w + n[0]
			if !visited[j] {
				visited[j] = true
				stack = append(stack, j)
			}
		}
	}
	return data
}

// rectangularity is the region's contour area over the area of its
// minimum-area rectangle. Regions covering almost the whole frame are the
// background, not a card, and score 0.
func (s *ColorRegionSegmenter) rectangularity(m Mask) float64 {
	bin := BinarizeMask(m, 0.5)
	var largest cv.Contour
	largestArea := 0.0
	for _, c := range s.CV.FindContours(bin) {
		if a := s.CV.ContourArea(c); a > largestArea {
			largest, largestArea = c, a
		}
	}
	if largest == nil || largestArea > 0.9*float64(m.Width*m.Height) {
		return 0
	}
	rect, ok := s.CV.MinAreaRect(largest)
	if !ok {
		return 0
	}
	rectArea := geometry.PolygonArea(rect[:])
	if rectArea <= 0 {
		return 0
	}
	return math.Min(1, largestArea/rectArea)
}
