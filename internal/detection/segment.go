package detection

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/rectify"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// Mask is one soft segmentation mask. Data holds Width*Height values in
// row-major order, each in [0,1]. The mask covers the whole image passed to
// Segment at its own resolution.
type Mask struct {
	Width   int
	Height  int
	Data    []float32
	Quality float64
}

// MaskModel is a promptable segmentation runtime.
type MaskModel interface {
	Load(ctx context.Context, progress ProgressFunc) error

	// Segment returns candidate masks for the object under prompt, given in
	// img's pixel coordinates relative to its bounds origin.
	Segment(ctx context.Context, img image.Image, prompt geometry.Point) ([]Mask, error)

	Close() error
}

// SegmentDetector turns a prompted segmentation mask into a card quad and a
// rectified card image. It cannot run without a prompt.
type SegmentDetector struct {
	lifecycle

	cfg      SegmentConfig
	model    MaskModel
	cv       cv.Primitives
	warper   *rectify.Warper
	log      logrus.FieldLogger
	progress ProgressFunc

	promptMu sync.Mutex
	prompt   *geometry.Point
}

var (
	_ Detector       = (*SegmentDetector)(nil)
	_ PromptSetter   = (*SegmentDetector)(nil)
	_ PromptRequirer = (*SegmentDetector)(nil)
)

// NewSegmentDetector creates an uninitialized segmentation backend.
func NewSegmentDetector(cfg SegmentConfig, model MaskModel, opts Options) *SegmentDetector {
	p := opts.primitives()
	d := &SegmentDetector{
		cfg:      cfg,
		model:    model,
		cv:       p,
		warper:   rectify.NewWarper(p, cfg.CardWidth, cfg.CardHeight, cfg.CanvasSize),
		log:      opts.logger().WithField("detector", TagSegment),
		progress: opts.Progress,
	}
	d.lifecycle.name = TagSegment
	return d
}

func (d *SegmentDetector) Name() string { return TagSegment }

func (d *SegmentDetector) RequiresPrompt() bool { return true }

func (d *SegmentDetector) SetPromptPoint(p geometry.Point) {
	d.promptMu.Lock()
	d.prompt = &p
	d.promptMu.Unlock()
}

func (d *SegmentDetector) takePrompt() *geometry.Point {
	d.promptMu.Lock()
	defer d.promptMu.Unlock()
	p := d.prompt
	d.prompt = nil
	return p
}

func (d *SegmentDetector) Initialize(ctx context.Context) error {
	return d.initialize(ctx, func(ctx context.Context) error {
		report(d.progress, Progress{Backend: TagSegment, Stage: "load", Fraction: 0})
		if err := d.model.Load(ctx, d.progress); err != nil {
			_ = d.model.Close()
			return err
		}
		report(d.progress, Progress{Backend: TagSegment, Stage: "ready", Fraction: 1})
		return nil
	})
}

func (d *SegmentDetector) Dispose() {
	d.dispose(func() {
		d.promptMu.Lock()
		d.prompt = nil
		d.promptMu.Unlock()
		if err := d.model.Close(); err != nil {
			d.log.WithError(err).Warn("closing mask model")
		}
	})
}

// Detect segments the object under the prompt and returns at most one
// candidate carrying the ordered quad and the warped card image.
//
// Errors: ErrMissingPrompt without a prompt, ErrLowQualityMask when the best
// mask does not exceed MinMaskQuality, ErrQuadExtractionFailed when the mask does
// not reduce to a valid convex quad.
func (d *SegmentDetector) Detect(ctx context.Context, frame image.Image, frameWidth, frameHeight int) (*Result, error) {
	prompt := d.takePrompt()
	if err := d.ready(); err != nil {
		return nil, err
	}
	if prompt == nil {
		return nil, ErrMissingPrompt
	}
	start := time.Now()

	bounds := frame.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()
	if frameWidth <= 0 || frameHeight <= 0 {
		frameWidth, frameHeight = imgW, imgH
	}
	sx := float64(frameWidth) / float64(imgW)
	sy := float64(frameHeight) / float64(imgH)
	local := geometry.Point{X: prompt.X / sx, Y: prompt.Y / sy}

	masks, err := d.model.Segment(ctx, frame, local)
	if err != nil {
		return nil, err
	}

	best := -1
	for i, m := range masks {
		if best < 0 || m.Quality > masks[best].Quality {
			best = i
		}
	}
	if best < 0 || masks[best].Quality <= d.cfg.MinMaskQuality {
		return nil, ErrLowQualityMask
	}
	mask := masks[best]

	q, err := d.maskQuad(mask, imgW, imgH)
	if err != nil {
		return nil, err
	}

	warped, err := d.warper.Warp(frame, q)
	if err != nil {
		d.log.WithError(err).Debug("warp failed")
		return nil, ErrQuadExtractionFailed
	}

	fq := q.ScaleXY(sx, sy)
	d.log.WithFields(logrus.Fields{"masks": len(masks), "quality": mask.Quality}).Debug("segment pass")

	return &Result{
		Candidates: []Candidate{{
			Box:         fq.Bounds(frameWidth, frameHeight),
			Score:       clampScore(mask.Quality),
			Polygon:     &fq,
			WarpedImage: warped,
		}},
		InferenceTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		RawCount:        len(masks),
	}, nil
}

// maskQuad binarizes m, takes its largest outer contour and reduces it to an
// ordered quad in image pixel coordinates (origin at the image's top-left).
// The min-area-rectangle fallback is not used here: a mask that does not
// approximate to four corners is not trusted as a card.
func (d *SegmentDetector) maskQuad(m Mask, imgW, imgH int) (geometry.CardQuad, error) {
	bin := BinarizeMask(m, d.cfg.MaskThreshold)
	if bin == nil {
		return geometry.CardQuad{}, ErrQuadExtractionFailed
	}

	var largest cv.Contour
	largestArea := 0.0
	for _, c := range d.cv.FindContours(bin) {
		if a := d.cv.ContourArea(c); a > largestArea {
			largest, largestArea = c, a
		}
	}
	if largest == nil {
		return geometry.CardQuad{}, ErrQuadExtractionFailed
	}

	pts, ok := rectify.QuadFromContour(d.cv, largest, d.cfg.Epsilons)
	if !ok {
		return geometry.CardQuad{}, ErrQuadExtractionFailed
	}

	mx := float64(imgW) / float64(m.Width)
	my := float64(imgH) / float64(m.Height)
	for i := range pts {
		pts[i] = geometry.Point{X: pts[i].X * mx, Y: pts[i].Y * my}
	}

	q, err := geometry.OrderQuadPoints(pts)
	if err != nil {
		return geometry.CardQuad{}, ErrQuadExtractionFailed
	}
	if v := geometry.ValidateQuad(q, float64(imgW), float64(imgH)); !v.Valid {
		d.log.WithField("reason", v.Reason).Debug("mask quad rejected")
		return geometry.CardQuad{}, ErrQuadExtractionFailed
	}
	return q, nil
}

// BinarizeMask returns a binary image with 255 where m exceeds threshold.
// It returns nil for a malformed mask.
func BinarizeMask(m Mask, threshold float64) *image.Gray {
	if m.Width <= 0 || m.Height <= 0 || len(m.Data) < m.Width*m.Height {
		return nil
	}
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if float64(v) > threshold {
				g.Pix[y*g.Stride+x] = 255
			}
		}
	}
	return g
}
