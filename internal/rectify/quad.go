package rectify

import (
	"errors"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// DefaultEpsilonSequence is the ordered list of Douglas-Peucker tolerances
// tried when reducing a contour to four corners, as fractions of the
// contour perimeter. The first value that yields exactly four vertices wins.
var DefaultEpsilonSequence = []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.08, 0.10}

// ErrNoQuad is returned when a contour cannot be reduced to a quadrilateral.
var ErrNoQuad = errors.New("contour does not approximate a quadrilateral")

// Method records how a quad was obtained from a contour.
type Method string

const (
	// MethodApprox means polygon approximation produced four vertices.
	MethodApprox Method = "approx"
	// MethodMinAreaRect means the rotated bounding rectangle was used.
	MethodMinAreaRect Method = "min_area_rect"
)

// QuadFromContour simplifies c at each epsilon in order and returns the
// first approximation with exactly four vertices. ok is false when no
// epsilon in the sequence succeeds. Returned corners are unordered.
func QuadFromContour(p cv.Primitives, c cv.Contour, epsilons []float64) (pts [4]geometry.Point, ok bool) {
	if len(c) < 4 {
		return pts, false
	}
	perimeter := p.ArcLength(c, true)
	if perimeter <= 0 {
		return pts, false
	}
	for _, e := range epsilons {
		approx := p.ApproxPolyDP(c, e*perimeter)
		if len(approx) == 4 {
			copy(pts[:], approx)
			return pts, true
		}
	}
	return pts, false
}

// ExtractQuad returns c's ordered card outline. It tries QuadFromContour
// first and, when allowed, falls back to the minimum-area rectangle.
// The result is ordered with geometry.OrderQuadPoints and must be convex.
func ExtractQuad(p cv.Primitives, c cv.Contour, epsilons []float64, allowMinRect bool) (geometry.CardQuad, Method, error) {
	pts, ok := QuadFromContour(p, c, epsilons)
	method := MethodApprox
	if !ok {
		if !allowMinRect {
			return geometry.CardQuad{}, "", ErrNoQuad
		}
		pts, ok = p.MinAreaRect(c)
		if !ok {
			return geometry.CardQuad{}, "", ErrNoQuad
		}
		method = MethodMinAreaRect
	}

	q, err := geometry.OrderQuadPoints(pts)
	if err != nil {
		return geometry.CardQuad{}, "", err
	}
	if v := geometry.ValidateQuad(q, 0, 0); !v.Valid {
		return geometry.CardQuad{}, "", errors.New("quad " + v.Reason)
	}
	return q, method, nil
}
