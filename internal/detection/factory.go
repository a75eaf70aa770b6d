package detection

import (
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
)

// Backend tags accepted by New.
const (
	TagContour = "contour"
	TagBox     = "box"
	TagSegment = "segment"
)

// Options carries construction-time collaborators and configuration.
//
// Exactly one of the config fields is used, chosen by the tag passed to
// New. A nil config means the backend's defaults.
type Options struct {
	Contour *ContourConfig
	Box     *BoxConfig
	Segment *SegmentConfig

	// CV overrides the CV primitives. Nil selects cv.Default().
	CV cv.Primitives

	// BoxModel overrides the box backend's model runtime. Nil selects the
	// OpenCV DNN runtime built from BoxConfig.
	BoxModel BoxModel

	// MaskModel overrides the segment backend's runtime. Nil selects the
	// built-in colour region segmenter.
	MaskModel MaskModel

	// Progress receives initialization progress.
	Progress ProgressFunc

	Logger logrus.FieldLogger
}

func (o Options) primitives() cv.Primitives {
	if o.CV != nil {
		return o.CV
	}
	return cv.Default()
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// New builds an uninitialized detector for tag.
func New(tag string, opts Options) (Detector, error) {
	switch tag {
	case TagContour:
		cfg := DefaultContourConfig()
		if opts.Contour != nil {
			cfg = *opts.Contour
		}
		return NewContourDetector(cfg, opts), nil

	case TagBox:
		cfg := DefaultBoxConfig()
		if opts.Box != nil {
			cfg = *opts.Box
		}
		model := opts.BoxModel
		if model == nil {
			model = NewDNNBoxModel(cfg)
		}
		return NewBoxDetector(cfg, model, opts), nil

	case TagSegment:
		cfg := DefaultSegmentConfig()
		if opts.Segment != nil {
			cfg = *opts.Segment
		}
		model := opts.MaskModel
		if model == nil {
			model = NewColorRegionSegmenter(cfg.MaxSide, cfg.ColorTolerance)
		}
		return NewSegmentDetector(cfg, model, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, tag)
}

// DefaultConfig returns the default configuration struct for tag, or nil
// for an unknown tag.
func DefaultConfig(tag string) any {
	switch tag {
	case TagContour:
		return DefaultContourConfig()
	case TagBox:
		return DefaultBoxConfig()
	case TagSegment:
		return DefaultSegmentConfig()
	}
	return nil
}

// Tags lists the known backend tags in sorted order.
func Tags() []string {
	tags := []string{TagContour, TagBox, TagSegment}
	sort.Strings(tags)
	return tags
}

func report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

func configError(msg string) error {
	return fmt.Errorf("invalid detector config: %s", msg)
}
