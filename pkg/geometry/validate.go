package geometry

// Validation failure reasons reported by ValidateQuad.
const (
	ReasonNotConvex   = "not convex"
	ReasonOutOfBounds = "out of bounds"
)

// QuadValidation is the outcome of ValidateQuad.
type QuadValidation struct {
	Valid bool `json:"valid"`

	// Reason is empty for valid quads, otherwise one of the Reason* constants.
	Reason string `json:"reason,omitempty"`

	// AspectRatio is long edge / short edge of the quad. It is reported for
	// scoring but never used to reject: viewing angle legitimately skews it.
	AspectRatio float64 `json:"aspect_ratio"`
}

// ValidateQuad checks that a quad is strictly convex and, when frameW and
// frameH are positive, that every corner lies in [0,frameW] x [0,frameH].
//
// Convexity requires the cross product at all four turns to share one sign;
// a zero cross product (collinear corners) is not convex.
func ValidateQuad(q CardQuad, frameW, frameH float64) QuadValidation {
	res := QuadValidation{AspectRatio: quadAspect(q)}

	if !IsConvex(q.Points()) {
		res.Reason = ReasonNotConvex
		return res
	}

	if frameW > 0 && frameH > 0 {
		for _, p := range q.Points() {
			if p.X < 0 || p.Y < 0 || p.X > frameW || p.Y > frameH {
				res.Reason = ReasonOutOfBounds
				return res
			}
		}
	}

	res.Valid = true
	return res
}

// IsConvex reports whether four points in traversal order form a strictly
// convex polygon.
func IsConvex(pts [4]Point) bool {
	var sign float64
	for i := 0; i < 4; i++ {
		a, b, c := pts[i], pts[(i+1)%4], pts[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 || !pointsFinite(a, b, c) {
			return false
		}
		if sign == 0 {
			sign = cross
			continue
		}
		if (cross > 0) != (sign > 0) {
			return false
		}
	}
	return true
}

func quadAspect(q CardQuad) float64 {
	w, h := q.EdgeLengths()
	short, long := w, h
	if short > long {
		short, long = long, short
	}
	if short == 0 {
		return 0
	}
	return long / short
}

func pointsFinite(pts ...Point) bool {
	for _, p := range pts {
		if !p.IsFinite() {
			return false
		}
	}
	return true
}
