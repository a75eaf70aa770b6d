// Package selector picks the card a user clicked on from a candidate list.
package selector

import (
	"errors"
	"math"

	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// ErrNoCandidateAtClick is returned when no candidate box contains the click.
var ErrNoCandidateAtClick = errors.New("no candidate at click point")

// Weights scales each score component in the total.
type Weights struct {
	Distance   float64 `json:"distance"`
	Size       float64 `json:"size"`
	Confidence float64 `json:"confidence"`

	// SizeGrowth is the exponent rate of the size score,
	// exp(SizeGrowth * (1-areaFraction)^3).
	SizeGrowth float64 `json:"size_growth"`
}

// DefaultWeights returns the standard weighting: confidence counts ten
// times the distance and size terms.
func DefaultWeights() Weights {
	return Weights{Distance: 1, Size: 1, Confidence: 10, SizeGrowth: 2.5}
}

// Score is the breakdown for one candidate.
type Score struct {
	Distance   float64 `json:"distance"`
	Size       float64 `json:"size"`
	Confidence float64 `json:"confidence"`
	Total      float64 `json:"total"`
}

// Selection is the chosen candidate and its score.
type Selection struct {
	Index int   `json:"index"`
	Score Score `json:"score"`
}

// Select scores every candidate whose box contains click and returns the
// highest total. click is in pixel coordinates of a frameW x frameH frame.
// Ties keep the earlier candidate.
//
// It never falls back to the nearest candidate: when nothing contains the
// click it returns ErrNoCandidateAtClick.
func Select(click geometry.Point, frameW, frameH int, cands []detection.Candidate) (Selection, error) {
	return SelectWeighted(click, frameW, frameH, cands, DefaultWeights())
}

// SelectWeighted is Select with explicit weights.
func SelectWeighted(click geometry.Point, frameW, frameH int, cands []detection.Candidate, w Weights) (Selection, error) {
	best := Selection{Index: -1}
	for i, c := range cands {
		if !c.Box.Contains(click, frameW, frameH) {
			continue
		}
		s := ScoreCandidate(click, frameW, frameH, c, w)
		if best.Index < 0 || s.Total > best.Score.Total {
			best = Selection{Index: i, Score: s}
		}
	}
	if best.Index < 0 {
		return Selection{Index: -1}, ErrNoCandidateAtClick
	}
	return best, nil
}

// ScoreCandidate computes c's score for click without the containment test.
//
// Components:
//   - Distance: 1 - d/diagonal, where d is the click's distance to the box
//     centre
//   - Size: exp(SizeGrowth * (1-a)^3) for box area fraction a, so small
//     boxes score exponentially higher
//   - Confidence: the detector score
func ScoreCandidate(click geometry.Point, frameW, frameH int, c detection.Candidate, w Weights) Score {
	diag := math.Hypot(float64(frameW), float64(frameH))
	var s Score
	if diag > 0 {
		s.Distance = math.Max(0, 1-click.Distance(c.Box.Center(frameW, frameH))/diag)
	}
	a := math.Min(1, math.Max(0, c.Box.Area()))
	s.Size = math.Exp(w.SizeGrowth * math.Pow(1-a, 3))
	s.Confidence = c.Score
	s.Total = w.Distance*s.Distance + w.Size*s.Size + w.Confidence*s.Confidence
	return s
}
