package imaging

import (
	"image"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
)

// EdgeOptions configures the edge map used for card outline search.
type EdgeOptions struct {
	// BlurKernel is the Gaussian kernel width applied before Canny. Values
	// below 3 disable blurring.
	BlurKernel int `json:"blur_kernel"`

	// CannyLow and CannyHigh are the hysteresis thresholds on the Sobel
	// magnitude of 0-255 input. Typical values: 50 and 150.
	CannyLow  float64 `json:"canny_low"`
	CannyHigh float64 `json:"canny_high"`

	// CloseKernel is the structuring element size for the dilate-then-erode
	// pass that closes gaps in card outlines. Values below 2 disable it.
	CloseKernel int `json:"close_kernel"`
}

// DefaultEdgeOptions returns thresholds tuned for cards on a desk under
// indoor lighting.
func DefaultEdgeOptions() EdgeOptions {
	return EdgeOptions{
		BlurKernel:  5,
		CannyLow:    50,
		CannyHigh:   150,
		CloseKernel: 3,
	}
}

// EdgeMap runs the outline preprocessing chain on img and returns a binary
// image (255 edge, 0 background) with bounds starting at (0,0).
//
// # Algorithm
//
//  1. Grayscale conversion
//  2. Gaussian blur (BlurKernel) to suppress sensor noise and print texture
//  3. Canny edge detection (CannyLow, CannyHigh)
//  4. Morphological close: dilate then erode (CloseKernel), joining the
//     short breaks glare and sleeves leave in a card border
//
// Also returned is the raw Canny map before closing, which edge-support
// scoring samples against.
func EdgeMap(p cv.Primitives, img image.Image, opts EdgeOptions) (closed, raw *image.Gray) {
	gray := p.Grayscale(img)
	if opts.BlurKernel >= 3 {
		gray = p.GaussianBlur(gray, opts.BlurKernel)
	}
	raw = p.Canny(gray, opts.CannyLow, opts.CannyHigh)
	closed = raw
	if opts.CloseKernel >= 2 {
		closed = p.Erode(p.Dilate(raw, opts.CloseKernel), opts.CloseKernel)
	}
	return closed, raw
}
