// Package export produces the fixed-size canonical card image for a selected
// candidate.
package export

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/internal/rectify"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// Method records which path produced an export.
type Method string

const (
	// MethodWarped resampled the backend's own warped image.
	MethodWarped Method = "warped"
	// MethodPerspective warped the frame through the candidate polygon.
	MethodPerspective Method = "perspective"
	// MethodLetterbox fitted the box crop onto a black canvas.
	MethodLetterbox Method = "letterbox"
)

// ErrEmptyRegion is returned when the candidate box covers no pixels.
var ErrEmptyRegion = errors.New("candidate box is empty")

// Exporter renders Width x Height card images.
type Exporter struct {
	Width  int
	Height int
	Warper *rectify.Warper
}

// New returns an Exporter for width x height output.
func New(p cv.Primitives, width, height int) *Exporter {
	return &Exporter{
		Width:  width,
		Height: height,
		Warper: rectify.NewWarper(p, width, height, max(width, height)),
	}
}

// Export renders cand.
//
// frame must be the buffered frame the candidate was detected on: the box is
// mapped onto its bounds and the polygon is read in its pixel coordinates
// (origin at the frame's top-left).
//
// Paths, in order of preference:
//  1. the candidate's WarpedImage, cropped to the output aspect and resampled
//  2. a perspective warp through the polygon, when it is present and valid
//  3. the box region letterboxed onto a black canvas
//
// The result is always Width x Height.
func (e *Exporter) Export(cand detection.Candidate, frame image.Image) (*image.NRGBA, Method, error) {
	if e.Width <= 0 || e.Height <= 0 {
		return nil, "", fmt.Errorf("invalid output size %dx%d", e.Width, e.Height)
	}

	if cand.WarpedImage != nil {
		return e.fromWarped(cand.WarpedImage), MethodWarped, nil
	}

	b := frame.Bounds()
	if cand.Polygon != nil {
		v := geometry.ValidateQuad(*cand.Polygon, float64(b.Dx()), float64(b.Dy()))
		if v.Valid {
			out, err := e.Warper.WarpCard(frame, *cand.Polygon)
			if err != nil {
				return nil, "", err
			}
			return out, MethodPerspective, nil
		}
	}

	r := cand.Box.ImageRect(b.Dx(), b.Dy()).Add(b.Min)
	if r.Empty() {
		return nil, "", ErrEmptyRegion
	}
	crop, err := imaging.Crop(frame, r)
	if err != nil {
		return nil, "", err
	}
	return imaging.Letterbox(crop, e.Width, e.Height), MethodLetterbox, nil
}

// fromWarped takes the largest centred region of the output aspect ratio,
// which drops the letterbox bands of a square warp canvas, and resamples it.
func (e *Exporter) fromWarped(img image.Image) *image.NRGBA {
	b := img.Bounds()
	aspect := float64(e.Width) / float64(e.Height)

	w, h := float64(b.Dx()), float64(b.Dy())
	if w/h > aspect {
		w = h * aspect
	} else {
		h = w / aspect
	}
	cw := int(math.Round(w))
	ch := int(math.Round(h))
	x0 := b.Min.X + (b.Dx()-cw)/2
	y0 := b.Min.Y + (b.Dy()-ch)/2

	crop, err := imaging.Crop(img, image.Rect(x0, y0, x0+cw, y0+ch))
	if err != nil {
		return imaging.Resize(img, e.Width, e.Height)
	}
	return imaging.Resize(crop, e.Width, e.Height)
}
