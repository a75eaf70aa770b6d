package imaging

import (
	"image"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
)

// SharpnessMaxSide is the longest side frames are reduced to before the
// sharpness measure is taken.
const SharpnessMaxSide = 320

// Sharpness returns the variance of the Laplacian of img's luminance.
// Higher values mean a crisper frame. Scores are only comparable between
// frames of the same source resolution.
//
// # Algorithm
//
//  1. Downscale so the longest side is at most SharpnessMaxSide
//  2. Convert to grayscale (ITU-R BT.601)
//  3. Convolve with the 4-neighbour Laplacian kernel
//     [0 1 0; 1 -4 1; 0 1 0], skipping the 1-pixel border
//  4. Return the population variance of the responses
//
// The response is signed, so it is accumulated directly rather than through
// a clamped 8-bit convolution.
func Sharpness(img image.Image) float64 {
	b := img.Bounds()
	if b.Dx() > SharpnessMaxSide || b.Dy() > SharpnessMaxSide {
		img = imaging.Fit(img, SharpnessMaxSide, SharpnessMaxSide, imaging.Box)
	}
	gray := cv.ToGray(effect.Grayscale(img))

	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x])
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
