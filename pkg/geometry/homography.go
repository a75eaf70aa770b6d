package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidHomography is returned when a transform is singular, nearly
// singular, or contains non-finite entries.
var ErrInvalidHomography = errors.New("invalid homography")

// MinHomographyDeterminant is the smallest |det| accepted by IsValidHomography.
const MinHomographyDeterminant = 1e-10

// Homography is a row-major 3x3 projective transform:
//
//	[h0 h1 h2]
//	[h3 h4 h5]
//	[h6 h7 h8]
type Homography [9]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps a point through the transform.
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}

// Determinant returns det(H).
func (h Homography) Determinant() float64 {
	return mat.Det(h.dense())
}

// Inverse returns H^-1, normalized so the bottom-right entry is 1 when
// possible.
func (h Homography) Inverse() (Homography, error) {
	if !IsValidHomography(h) {
		return Homography{}, ErrInvalidHomography
	}
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil && !isConditionWarning(err) {
		return Homography{}, fmt.Errorf("%w: %v", ErrInvalidHomography, err)
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	if s := out[8]; s != 0 && !math.IsNaN(s) {
		for i := range out {
			out[i] /= s
		}
	}
	if !IsValidHomography(out) {
		return Homography{}, ErrInvalidHomography
	}
	return out, nil
}

func (h Homography) dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, h[:])
	return mat.NewDense(3, 3, data)
}

// IsValidHomography reports whether all nine entries are finite and
// |det(H)| exceeds MinHomographyDeterminant.
func IsValidHomography(h Homography) bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(h.Determinant()) > MinHomographyDeterminant
}

// ComputeHomography returns the transform mapping src[i] to dst[i] for the
// four point pairs, with h8 fixed to 1.
//
// The eight remaining unknowns come from the standard linear system
//
//	x' = (h0 x + h1 y + h2) / (h6 x + h7 y + 1)
//	y' = (h3 x + h4 y + h5) / (h6 x + h7 y + 1)
//
// solved with gonum. Degenerate correspondences (three collinear points,
// coincident corners) fail with ErrInvalidHomography.
func ComputeHomography(src, dst [4]Point) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil && !isConditionWarning(err) {
		return Homography{}, fmt.Errorf("%w: %v", ErrInvalidHomography, err)
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = sol.AtVec(i)
	}
	h[8] = 1
	if !IsValidHomography(h) {
		return Homography{}, ErrInvalidHomography
	}
	return h, nil
}

// RectHomography maps an ordered card quad onto the destination rectangle
// (0,0)-(destW-1,destH-1) so that TopLeft lands on (0,0) and BottomRight on
// (destW-1,destH-1).
func RectHomography(q CardQuad, destW, destH int) (Homography, error) {
	if destW < 2 || destH < 2 {
		return Homography{}, fmt.Errorf("%w: destination %dx%d too small", ErrInvalidHomography, destW, destH)
	}
	w, h := float64(destW-1), float64(destH-1)
	dst := [4]Point{{0, 0}, {w, 0}, {w, h}, {0, h}}
	return ComputeHomography(q.Points(), dst)
}

// isConditionWarning reports whether err is gonum's ill-conditioning warning,
// which still carries a usable solution. Singular systems are a different error.
func isConditionWarning(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond) && !math.IsInf(float64(cond), 1)
}
