package detection

import (
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/internal/rectify"
)

// ContourConfig tunes the edge/contour backend and its adaptive ROI search.
type ContourConfig struct {
	Edge imaging.EdgeOptions `json:"edge"`

	// InitialROISize is the side of the first square ROI around the click
	// (S0). Each pass multiplies it by ROIGrowth, for at most MaxROIPasses
	// passes, capped at the frame's largest dimension.
	InitialROISize int     `json:"initial_roi_size"`
	ROIGrowth      float64 `json:"roi_growth"`
	MaxROIPasses   int     `json:"max_roi_passes"`

	// MinArea is the smallest accepted contour area in pixels.
	MinArea float64 `json:"min_area"`

	// AspectTolerance is the accepted relative deviation of the long/short
	// edge ratio from the card's 88/63.
	AspectTolerance float64 `json:"aspect_tolerance"`

	// MinEdgeSupport is the smallest accepted fraction of sampled outline
	// points that land on an edge pixel.
	MinEdgeSupport float64 `json:"min_edge_support"`

	// EdgeSamplesPerSide is the number of points sampled along each quad
	// side for edge support.
	EdgeSamplesPerSide int `json:"edge_samples_per_side"`

	// QualityThreshold ends the search once a pass yields a candidate
	// scoring at least this much. Passes below it produce no candidates.
	QualityThreshold float64 `json:"quality_threshold"`

	// Score weights for normalized area, aspect closeness and edge support.
	AreaWeight   float64 `json:"area_weight"`
	AspectWeight float64 `json:"aspect_weight"`
	EdgeWeight   float64 `json:"edge_weight"`

	// Epsilons is the polygon approximation sweep, as fractions of the
	// contour perimeter.
	Epsilons []float64 `json:"epsilons"`

	// AllowMinAreaRect enables the rotated-rectangle fallback when no
	// epsilon yields four vertices.
	AllowMinAreaRect bool `json:"allow_min_area_rect"`

	// MaxCandidates limits the number of returned candidates.
	MaxCandidates int `json:"max_candidates"`
}

// DefaultContourConfig returns the contour backend defaults.
func DefaultContourConfig() ContourConfig {
	return ContourConfig{
		Edge:               imaging.DefaultEdgeOptions(),
		InitialROISize:     160,
		ROIGrowth:          1.5,
		MaxROIPasses:       6,
		MinArea:            1500,
		AspectTolerance:    0.3,
		MinEdgeSupport:     0.6,
		EdgeSamplesPerSide: 24,
		QualityThreshold:   0.75,
		AreaWeight:         0.3,
		AspectWeight:       0.3,
		EdgeWeight:         0.4,
		Epsilons:           rectify.DefaultEpsilonSequence,
		AllowMinAreaRect:   true,
		MaxCandidates:      5,
	}
}

// BoxConfig tunes the box-detection-model backend.
type BoxConfig struct {
	// ModelPath and ConfigPath locate the network weights and description.
	ModelPath  string `json:"model_path"`
	ConfigPath string `json:"config_path,omitempty"`

	// Device is a placement hint: "cpu", "cuda", or "opencl".
	Device string `json:"device"`

	// InputSize is the square network input side in pixels.
	InputSize int `json:"input_size"`

	// ConfidenceThreshold drops boxes scoring below it.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// Labels maps class ids to names. Unknown ids are reported as
	// "class_<id>".
	Labels []string `json:"labels,omitempty"`

	// RejectLabels lists classes that are never cards.
	RejectLabels []string `json:"reject_labels"`

	// MinAreaFraction and MaxAreaFraction bound a box's share of the frame.
	MinAreaFraction float64 `json:"min_area_fraction"`
	MaxAreaFraction float64 `json:"max_area_fraction"`

	// AspectTolerance is the accepted relative deviation of the box's
	// long/short ratio from the card's 88/63. Boxes around rotated cards
	// are squarer, so this is looser than the contour tolerance.
	AspectTolerance float64 `json:"aspect_tolerance"`

	MaxCandidates int `json:"max_candidates"`
}

// DefaultBoxConfig returns the box backend defaults.
func DefaultBoxConfig() BoxConfig {
	return BoxConfig{
		Device:              "cpu",
		InputSize:           300,
		ConfidenceThreshold: 0.4,
		RejectLabels:        []string{"person", "face", "hand", "tv", "laptop", "cell phone", "keyboard", "mouse"},
		MinAreaFraction:     0.002,
		MaxAreaFraction:     0.6,
		AspectTolerance:     0.45,
		MaxCandidates:       10,
	}
}

// SegmentConfig tunes the promptable segmentation backend.
type SegmentConfig struct {
	// MinMaskQuality is the quality a mask must exceed to be used.
	MinMaskQuality float64 `json:"min_mask_quality"`

	// MaskThreshold binarizes soft mask values.
	MaskThreshold float64 `json:"mask_threshold"`

	// Epsilons is the polygon approximation sweep for the mask outline.
	Epsilons []float64 `json:"epsilons"`

	// Card and canvas sizes of the warped image attached to candidates.
	CardWidth  int `json:"card_width"`
	CardHeight int `json:"card_height"`
	CanvasSize int `json:"canvas_size"`

	// MaxSide is the longest side frames are reduced to before
	// segmentation by the built-in region segmenter.
	MaxSide int `json:"max_side"`

	// ColorTolerance is the built-in segmenter's Lab distance limit for
	// growing a region from the prompt.
	ColorTolerance float64 `json:"color_tolerance"`
}

// DefaultSegmentConfig returns the segmentation backend defaults.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		MinMaskQuality: 0.5,
		MaskThreshold:  0.5,
		Epsilons:       rectify.DefaultEpsilonSequence,
		CardWidth:      336,
		CardHeight:     469,
		CanvasSize:     469,
		MaxSide:        480,
		ColorTolerance: 0.12,
	}
}
