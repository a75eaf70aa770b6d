package detection

import (
	"context"
	"image"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/rectify"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// RawBox is one detection straight from a box model.
type RawBox struct {
	// Box is normalized to the image passed to Infer.
	Box   geometry.BoundingBox
	Score float64
	Label string
}

// BoxModel is an object-detection runtime returning scored boxes.
type BoxModel interface {
	// Load prepares the model, reporting progress through progress (which
	// may be nil).
	Load(ctx context.Context, progress ProgressFunc) error

	// Infer runs the model on img.
	Infer(ctx context.Context, img image.Image) ([]RawBox, error)

	// Close releases the runtime. It must be safe to call on a model that
	// was never loaded.
	Close() error
}

// BoxDetector accepts box-model detections whose class, size and aspect
// ratio plausibly match a card. It runs one full-frame pass and does not
// use a prompt.
type BoxDetector struct {
	lifecycle

	cfg      BoxConfig
	model    BoxModel
	log      logrus.FieldLogger
	progress ProgressFunc
	reject   map[string]bool
}

var _ Detector = (*BoxDetector)(nil)

// NewBoxDetector creates an uninitialized box backend around model.
func NewBoxDetector(cfg BoxConfig, model BoxModel, opts Options) *BoxDetector {
	reject := make(map[string]bool, len(cfg.RejectLabels))
	for _, l := range cfg.RejectLabels {
		reject[strings.ToLower(l)] = true
	}
	d := &BoxDetector{
		cfg:      cfg,
		model:    model,
		log:      opts.logger().WithField("detector", TagBox),
		progress: opts.Progress,
		reject:   reject,
	}
	d.lifecycle.name = TagBox
	return d
}

func (d *BoxDetector) Name() string { return TagBox }

func (d *BoxDetector) Initialize(ctx context.Context) error {
	return d.initialize(ctx, func(ctx context.Context) error {
		report(d.progress, Progress{Backend: TagBox, Stage: "load", Fraction: 0, Message: d.cfg.ModelPath})
		if err := d.model.Load(ctx, d.progress); err != nil {
			_ = d.model.Close()
			return err
		}
		report(d.progress, Progress{Backend: TagBox, Stage: "ready", Fraction: 1})
		return nil
	})
}

func (d *BoxDetector) Dispose() {
	d.dispose(func() {
		if err := d.model.Close(); err != nil {
			d.log.WithError(err).Warn("closing box model")
		}
	})
}

func (d *BoxDetector) Detect(ctx context.Context, frame image.Image, frameWidth, frameHeight int) (*Result, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if frameWidth <= 0 || frameHeight <= 0 {
		frameWidth, frameHeight = frame.Bounds().Dx(), frame.Bounds().Dy()
	}
	start := time.Now()

	raw, err := d.model.Infer(ctx, frame)
	if err != nil {
		return nil, err
	}

	cands := FilterBoxes(raw, frameWidth, frameHeight, d.cfg, d.reject)
	d.log.WithFields(logrus.Fields{"raw": len(raw), "candidates": len(cands)}).Debug("box pass")

	return &Result{
		Candidates:      cands,
		InferenceTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		RawCount:        len(raw),
	}, nil
}

// FilterBoxes keeps boxes that pass the confidence, class, size and aspect
// filters, best score first, up to cfg.MaxCandidates. reject holds
// lower-cased class names to drop; nil derives it from cfg.RejectLabels.
func FilterBoxes(raw []RawBox, frameWidth, frameHeight int, cfg BoxConfig, reject map[string]bool) []Candidate {
	if reject == nil {
		reject = make(map[string]bool, len(cfg.RejectLabels))
		for _, l := range cfg.RejectLabels {
			reject[strings.ToLower(l)] = true
		}
	}

	var out []Candidate
	for _, r := range raw {
		if r.Score < cfg.ConfidenceThreshold || !r.Box.Valid() {
			continue
		}
		if reject[strings.ToLower(r.Label)] {
			continue
		}
		area := r.Box.Area()
		if area < cfg.MinAreaFraction || (cfg.MaxAreaFraction > 0 && area > cfg.MaxAreaFraction) {
			continue
		}
		w := r.Box.Width() * float64(frameWidth)
		h := r.Box.Height() * float64(frameHeight)
		ratio := math.Max(w, h) / math.Min(w, h)
		if math.Abs(ratio-rectify.CardAspect)/rectify.CardAspect > cfg.AspectTolerance {
			continue
		}
		out = append(out, Candidate{Box: r.Box, Score: clampScore(r.Score), Label: r.Label})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if cfg.MaxCandidates > 0 && len(out) > cfg.MaxCandidates {
		out = out[:cfg.MaxCandidates]
	}
	return out
}

func clampScore(s float64) float64 {
	return math.Max(0, math.Min(1, s))
}
