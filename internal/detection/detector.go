package detection

import (
	"context"
	"image"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// Status is a detector's lifecycle state.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// Detector is the contract every card detection backend implements.
//
// Lifecycle: Initialize moves the detector from uninitialized through
// loading to ready (or error). Initialize is idempotent and safe for
// concurrent use: callers arriving while a load is in flight wait for that
// load and observe its outcome. Detect may only be called when ready and
// otherwise fails with ErrNotInitialized. Dispose releases every backend
// resource before returning and resets the status to uninitialized; it is
// safe to call repeatedly.
//
// Detect is not safe for concurrent use on the same detector. The
// orchestrator guarantees at most one call in flight.
type Detector interface {
	// Name returns the factory tag the detector was built from.
	Name() string

	// Initialize loads the backend. The first caller's ctx governs a
	// coalesced load.
	Initialize(ctx context.Context) error

	// Detect finds card candidates in frame. frameWidth and frameHeight give
	// the coordinate space candidates are reported in; when they differ from
	// frame's own size, polygons are scaled accordingly. Non-positive values
	// mean frame's own size.
	Detect(ctx context.Context, frame image.Image, frameWidth, frameHeight int) (*Result, error)

	// Dispose releases backend resources.
	Dispose()

	// Status reports the current lifecycle state.
	Status() Status
}

// PromptSetter is implemented by backends that accept a spatial prompt.
//
// The prompt is in frame coordinates, is consumed by the next Detect call
// and cleared afterwards, whether that call succeeds or not. Callers must
// set it immediately before detecting.
type PromptSetter interface {
	SetPromptPoint(p geometry.Point)
}

// PromptRequirer is implemented by backends that cannot detect without a
// prompt. Detect on such a backend fails with ErrMissingPrompt when no
// prompt was set.
type PromptRequirer interface {
	RequiresPrompt() bool
}

// Candidate is one detected card region.
type Candidate struct {
	// Box is the axis-aligned extent, normalized to [0,1] frame coordinates.
	Box geometry.BoundingBox `json:"box"`

	// Score is the backend's confidence in [0,1].
	Score float64 `json:"score"`

	// Polygon holds the ordered corners in frame pixel coordinates, when
	// the backend or refinement recovered them.
	Polygon *geometry.CardQuad `json:"polygon,omitempty"`

	// WarpedImage is the canonical card image, present only when the
	// backend produced a segmentation-quality quad.
	WarpedImage image.Image `json:"-"`

	// Label is the class name reported by box-model backends.
	Label string `json:"label,omitempty"`
}

// Result is the outcome of one Detect call.
type Result struct {
	Candidates      []Candidate `json:"candidates"`
	InferenceTimeMs float64     `json:"inference_time_ms"`

	// RawCount is the number of regions the backend produced before
	// filtering.
	RawCount int `json:"raw_count"`

	// SearchPasses is the number of ROI passes the contour backend ran.
	// Zero for single-pass backends.
	SearchPasses int `json:"search_passes,omitempty"`
}

// Progress is one initialization progress report.
type Progress struct {
	Backend  string  `json:"backend"`
	Stage    string  `json:"stage"`
	Fraction float64 `json:"fraction"`
	Message  string  `json:"message,omitempty"`
}

// ProgressFunc receives initialization progress. Reports from one load are
// delivered in order from a single goroutine.
type ProgressFunc func(Progress)
