package pipeline

import (
	"context"
	"errors"
	"image"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

var (
	// ErrBusy is returned when a detection is requested while another is in
	// flight. The request is dropped, not queued.
	ErrBusy = errors.New("detection already in progress")

	// ErrNoDetector is returned when no detector has been set.
	ErrNoDetector = errors.New("no detector configured")

	// ErrSuperseded is returned when the detector was replaced while a
	// detection was running. Its result is discarded.
	ErrSuperseded = errors.New("detection superseded by a detector change")
)

// Orchestrator owns the active detector and runs detection cycles.
//
// At most one Detect runs at a time. Replacing the detector disposes the old
// one once any detection still using it has returned.
type Orchestrator struct {
	mu  sync.Mutex // guards det and gen
	det detection.Detector
	gen uint64

	busy  atomic.Bool
	runMu sync.Mutex // held while a detector is in use by Detect

	cv     cv.Primitives
	refine detection.ContourConfig
	log    logrus.FieldLogger
}

// NewOrchestrator returns an orchestrator with no detector. Box candidates
// are refined to polygons with refine.
func NewOrchestrator(p cv.Primitives, refine detection.ContourConfig, log logrus.FieldLogger) *Orchestrator {
	if p == nil {
		p = cv.Default()
	}
	if log == nil {
		log = discardLogger()
	}
	return &Orchestrator{cv: p, refine: refine, log: log}
}

// SetDetector makes d the active detector and disposes the previous one.
// Dispose runs synchronously after any in-flight detection has finished.
func (o *Orchestrator) SetDetector(d detection.Detector) {
	o.mu.Lock()
	old := o.det
	o.det = d
	o.gen++
	o.mu.Unlock()

	if old == nil || old == d {
		return
	}
	o.runMu.Lock()
	old.Dispose()
	o.runMu.Unlock()
	o.log.WithField("detector", old.Name()).Info("detector disposed")
}

// Detector returns the active detector, or nil.
func (o *Orchestrator) Detector() detection.Detector {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.det
}

// Busy reports whether a detection is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

func (o *Orchestrator) current() (detection.Detector, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.det, o.gen
}

// Detect runs one detection cycle on frame.
//
// frameWidth and frameHeight define the coordinate space of prompt and of
// the returned candidates. A non-nil prompt is handed to prompt-capable
// detectors immediately before detecting. Box candidates without a polygon
// get one when an outline can be recovered inside their box. Candidates are
// returned best score first.
func (o *Orchestrator) Detect(ctx context.Context, frame image.Image, frameWidth, frameHeight int, prompt *geometry.Point) (*detection.Result, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	o.runMu.Lock()
	defer o.runMu.Unlock()

	d, gen := o.current()
	if d == nil {
		return nil, ErrNoDetector
	}
	b := frame.Bounds()
	if frameWidth <= 0 || frameHeight <= 0 {
		frameWidth, frameHeight = b.Dx(), b.Dy()
	}

	if prompt != nil {
		if ps, ok := d.(detection.PromptSetter); ok {
			ps.SetPromptPoint(*prompt)
		}
	}
	res, err := d.Detect(ctx, frame, frameWidth, frameHeight)
	if err != nil {
		return nil, err
	}
	if _, g := o.current(); g != gen {
		return nil, ErrSuperseded
	}

	o.refineBoxes(frame, frameWidth, frameHeight, res.Candidates)
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Score > res.Candidates[j].Score
	})

	o.log.WithFields(logrus.Fields{
		"detector":   d.Name(),
		"candidates": len(res.Candidates),
		"raw":        res.RawCount,
		"elapsed_ms": res.InferenceTimeMs,
	}).Debug("detection complete")
	return res, nil
}

// refineBoxes looks for a card outline inside each polygon-less candidate's
// box. Candidates keep their box and score either way.
func (o *Orchestrator) refineBoxes(frame image.Image, frameWidth, frameHeight int, cands []detection.Candidate) {
	b := frame.Bounds()
	sx := float64(frameWidth) / float64(b.Dx())
	sy := float64(frameHeight) / float64(b.Dy())

	for i := range cands {
		if cands[i].Polygon != nil {
			continue
		}
		region := cands[i].Box.ImageRect(b.Dx(), b.Dy()).Add(b.Min)
		if region.Empty() {
			continue
		}
		q, ok := detection.RefineQuad(o.cv, frame, region, o.refine)
		if !ok {
			continue
		}
		q = q.Translate(geometry.Point{X: -float64(b.Min.X), Y: -float64(b.Min.Y)}).ScaleXY(sx, sy)
		cands[i].Polygon = &q
	}
}
