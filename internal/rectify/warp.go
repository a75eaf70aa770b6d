package rectify

import (
	"fmt"
	"image"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// Standard trading card size in millimetres (63 x 88).
const (
	CardWidthMM  = 63.0
	CardHeightMM = 88.0
	// CardAspect is the portrait long/short edge ratio.
	CardAspect = CardHeightMM / CardWidthMM
)

// Warper maps an ordered card quad to the canonical card rectangle.
//
// The destination keeps the card's true aspect ratio (CardWidth x
// CardHeight). Warp additionally centres that rectangle on a black square
// canvas of side Canvas, which is the input layout identification expects.
type Warper struct {
	CV         cv.Primitives
	CardWidth  int
	CardHeight int
	Canvas     int
}

// NewWarper returns a Warper producing cardW x cardH cards on a canvas x
// canvas square. A canvas smaller than the card's long side is raised to it.
func NewWarper(p cv.Primitives, cardW, cardH, canvas int) *Warper {
	if canvas < cardW {
		canvas = cardW
	}
	if canvas < cardH {
		canvas = cardH
	}
	return &Warper{CV: p, CardWidth: cardW, CardHeight: cardH, Canvas: canvas}
}

// Homography returns the transform from q to the card rectangle, rejecting
// degenerate and near-singular results with geometry.ErrInvalidHomography.
func (w *Warper) Homography(q geometry.CardQuad) (geometry.Homography, error) {
	dst := [4]geometry.Point{
		{X: 0, Y: 0},
		{X: float64(w.CardWidth - 1), Y: 0},
		{X: float64(w.CardWidth - 1), Y: float64(w.CardHeight - 1)},
		{X: 0, Y: float64(w.CardHeight - 1)},
	}
	h, err := w.CV.GetPerspectiveTransform(q.Points(), dst)
	if err != nil {
		return geometry.Homography{}, fmt.Errorf("%w: %v", geometry.ErrInvalidHomography, err)
	}
	if !geometry.IsValidHomography(h) {
		return geometry.Homography{}, geometry.ErrInvalidHomography
	}
	return h, nil
}

// WarpCard renders the card outlined by q in img as a CardWidth x
// CardHeight image.
func (w *Warper) WarpCard(img image.Image, q geometry.CardQuad) (*image.NRGBA, error) {
	if w.CardWidth <= 0 || w.CardHeight <= 0 {
		return nil, fmt.Errorf("invalid card size %dx%d", w.CardWidth, w.CardHeight)
	}
	h, err := w.Homography(q)
	if err != nil {
		return nil, err
	}
	return w.CV.WarpPerspective(img, h, w.CardWidth, w.CardHeight)
}

// Warp renders the card and letterboxes it onto the square canvas.
func (w *Warper) Warp(img image.Image, q geometry.CardQuad) (*image.NRGBA, error) {
	card, err := w.WarpCard(img, q)
	if err != nil {
		return nil, err
	}
	return imaging.Letterbox(card, w.Canvas, w.Canvas), nil
}
