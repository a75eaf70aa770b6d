package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/internal/events"
	"github.com/ironsheep/card-detect-mcp/internal/export"
	"github.com/ironsheep/card-detect-mcp/internal/framebuffer"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/internal/selector"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

var (
	// ErrDebounced is returned for a click inside the debounce window or
	// while a previous click is still being processed.
	ErrDebounced = errors.New("click ignored: debounce window or click in progress")

	// ErrNoFrame is returned when the frame buffer is empty.
	ErrNoFrame = errors.New("no buffered frame")

	// ErrRunning is returned by Start when a sampling loop is already active.
	ErrRunning = errors.New("sampling loop already running")
)

// Options configures a Session. Zero values select the defaults.
type Options struct {
	BufferCapacity int
	SharpestWindow time.Duration
	ClickDebounce  time.Duration
	SampleInterval time.Duration
	EventCapacity  int

	// OutputWidth and OutputHeight size the canonical card image.
	OutputWidth  int
	OutputHeight int

	// Refine tunes quad recovery inside box candidates.
	Refine *detection.ContourConfig

	CV     cv.Primitives
	Logger logrus.FieldLogger

	// Now overrides the clock used for debounce and frame timestamps.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = framebuffer.DefaultCapacity
	}
	if o.SharpestWindow <= 0 {
		o.SharpestWindow = 500 * time.Millisecond
	}
	if o.ClickDebounce < 0 {
		o.ClickDebounce = 0
	} else if o.ClickDebounce == 0 {
		o.ClickDebounce = 2 * time.Second
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = 100 * time.Millisecond
	}
	if o.EventCapacity <= 0 {
		o.EventCapacity = events.DefaultCapacity
	}
	if o.OutputWidth <= 0 || o.OutputHeight <= 0 {
		o.OutputWidth, o.OutputHeight = 336, 469
	}
	if o.CV == nil {
		o.CV = cv.Default()
	}
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session is the state of one capture session: the frame buffer, the
// orchestrator and its detector, the event queue and click debounce. It is
// created when capture starts and torn down by Stop.
type Session struct {
	opts     Options
	log      logrus.FieldLogger
	buf      *framebuffer.Buffer
	orch     *Orchestrator
	events   *events.Queue
	exporter *export.Exporter

	clickMu    sync.Mutex
	lastClick  time.Time
	processing atomic.Bool

	lastMu  sync.RWMutex
	last    *Detection
	lastImg image.Image

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a session with an empty buffer and no detector.
func NewSession(opts Options) *Session {
	opts.setDefaults()
	refine := detection.DefaultContourConfig()
	if opts.Refine != nil {
		refine = *opts.Refine
	}
	return &Session{
		opts:     opts,
		log:      opts.Logger,
		buf:      framebuffer.New(opts.BufferCapacity),
		orch:     NewOrchestrator(opts.CV, refine, opts.Logger),
		events:   events.New(opts.EventCapacity),
		exporter: export.New(opts.CV, opts.OutputWidth, opts.OutputHeight),
	}
}

func (s *Session) Buffer() *framebuffer.Buffer { return s.buf }

func (s *Session) Events() *events.Queue { return s.events }

func (s *Session) Orchestrator() *Orchestrator { return s.orch }

func (s *Session) Exporter() *export.Exporter { return s.exporter }

func (s *Session) Primitives() cv.Primitives { return s.opts.CV }

func (s *Session) nowMs() int64 { return s.opts.Now().UnixMilli() }

func (s *Session) emit(e events.Event) events.Event { return s.events.Push(e) }

func (s *Session) detectorName() string {
	if d := s.orch.Detector(); d != nil {
		return d.Name()
	}
	return ""
}

// UseDetector builds the tag backend, makes it active (disposing the
// previous one) and initializes it. Progress reports are pushed to the event
// queue in order. On failure an error event with a remediation hint is
// pushed and the error is returned.
func (s *Session) UseDetector(ctx context.Context, tag string, opts detection.Options) (detection.Detector, error) {
	if opts.CV == nil {
		opts.CV = s.opts.CV
	}
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	user := opts.Progress
	opts.Progress = func(p detection.Progress) {
		s.emit(events.Event{
			Kind:     events.KindProgress,
			Source:   p.Backend,
			Message:  progressMessage(p),
			Progress: p.Fraction,
		})
		if user != nil {
			user(p)
		}
	}

	d, err := detection.New(tag, opts)
	if err != nil {
		return nil, err
	}
	s.orch.SetDetector(d)
	s.emit(events.Event{Kind: events.KindStatus, Source: tag, Message: string(detection.StatusLoading)})

	if err := s.InitializeDetector(ctx); err != nil {
		return d, err
	}
	return d, nil
}

// InitializeDetector initializes the active detector, reporting the outcome
// as a status or error event.
func (s *Session) InitializeDetector(ctx context.Context) error {
	d := s.orch.Detector()
	if d == nil {
		return ErrNoDetector
	}
	start := s.opts.Now()
	if err := d.Initialize(ctx); err != nil {
		cause := detection.ClassifyInitError(err)
		s.emit(events.Event{
			Kind:    events.KindError,
			Source:  d.Name(),
			Message: err.Error(),
			Data:    map[string]string{"cause": string(cause), "remediation": detection.RemediationMessage(cause)},
		})
		s.log.WithError(err).WithField("detector", d.Name()).Error("detector initialization failed")
		return err
	}
	s.emit(events.Event{Kind: events.KindStatus, Source: d.Name(), Message: string(detection.StatusReady)})
	s.log.WithFields(logrus.Fields{
		"detector":   d.Name(),
		"elapsed_ms": s.opts.Now().Sub(start).Milliseconds(),
	}).Info("detector ready")
	return nil
}

func progressMessage(p detection.Progress) string {
	if p.Message == "" {
		return p.Stage
	}
	return p.Stage + ": " + p.Message
}

// PushFrame scores img's sharpness and stores a copy in the buffer. A
// non-positive timestamp means now. It returns the sharpness.
func (s *Session) PushFrame(img image.Image, timestampMs int64) float64 {
	if timestampMs <= 0 {
		timestampMs = s.nowMs()
	}
	sharp := imaging.Sharpness(img)
	s.buf.Add(img, timestampMs, sharp)
	return sharp
}

// Frame returns the sharpest buffered frame within the sharpest window of
// atMs, falling back to the most recent frame. A non-positive atMs means
// now.
func (s *Session) Frame(atMs int64) (framebuffer.FrameRecord, error) {
	if atMs <= 0 {
		atMs = s.nowMs()
	}
	if rec, ok := s.buf.GetSharpest(atMs, s.opts.SharpestWindow.Milliseconds()); ok {
		return rec, nil
	}
	if rec, ok := s.buf.MostRecent(); ok {
		return rec, nil
	}
	return framebuffer.FrameRecord{}, ErrNoFrame
}

// Detection is the outcome of one detection cycle on a buffered frame.
type Detection struct {
	TimestampMs int64             `json:"timestamp_ms"`
	Sharpness   float64           `json:"sharpness"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Result      *detection.Result `json:"result"`
}

// Detect runs the active detector on the frame chosen for atMs, with an
// optional prompt in frame pixel coordinates, and publishes the candidates.
func (s *Session) Detect(ctx context.Context, prompt *geometry.Point, atMs int64) (*Detection, error) {
	rec, err := s.Frame(atMs)
	if err != nil {
		return nil, err
	}
	return s.detectOn(ctx, rec, prompt)
}

func (s *Session) detectOn(ctx context.Context, rec framebuffer.FrameRecord, prompt *geometry.Point) (*Detection, error) {
	b := rec.Image.Bounds()
	res, err := s.orch.Detect(ctx, rec.Image, b.Dx(), b.Dy(), prompt)
	if err != nil {
		return nil, err
	}
	det := &Detection{
		TimestampMs: rec.TimestampMs,
		Sharpness:   rec.Sharpness,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Result:      res,
	}

	s.lastMu.Lock()
	s.last, s.lastImg = det, rec.Image
	s.lastMu.Unlock()

	s.emit(events.Event{
		Kind:    events.KindCandidates,
		Source:  s.detectorName(),
		Message: fmt.Sprintf("%d candidates", len(res.Candidates)),
		Data:    det,
	})
	return det, nil
}

// LastDetection returns the most recent detection and the frame it ran on.
func (s *Session) LastDetection() (*Detection, image.Image, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last, s.lastImg, s.last != nil
}

// ClickResult is the outcome of HandleClick.
type ClickResult struct {
	Detection *Detection          `json:"detection"`
	Selection selector.Selection  `json:"selection"`
	Candidate detection.Candidate `json:"candidate"`
	Method    export.Method       `json:"method"`
	Image     *image.NRGBA        `json:"-"`
}

// HandleClick runs the full click flow: pick the sharpest frame near atMs,
// detect with the click as prompt, select the clicked candidate and export
// the canonical image.
//
// Clicks within ClickDebounce of the last accepted click, or while one is
// being processed, fail with ErrDebounced and have no other effect.
func (s *Session) HandleClick(ctx context.Context, click geometry.Point, atMs int64) (*ClickResult, error) {
	if !s.acceptClick() {
		return nil, ErrDebounced
	}
	defer s.processing.Store(false)

	res, err := s.handleClick(ctx, click, atMs)
	if err != nil {
		s.emit(events.Event{Kind: events.KindError, Source: s.detectorName(), Message: err.Error()})
		return nil, err
	}
	s.emit(events.Event{
		Kind:    events.KindCropped,
		Source:  s.detectorName(),
		Message: fmt.Sprintf("card %d exported by %s", res.Selection.Index, res.Method),
		Data: map[string]any{
			"index":  res.Selection.Index,
			"method": res.Method,
			"width":  res.Image.Bounds().Dx(),
			"height": res.Image.Bounds().Dy(),
		},
	})
	return res, nil
}

func (s *Session) acceptClick() bool {
	s.clickMu.Lock()
	defer s.clickMu.Unlock()
	now := s.opts.Now()
	if s.processing.Load() {
		return false
	}
	if !s.lastClick.IsZero() && now.Sub(s.lastClick) < s.opts.ClickDebounce {
		return false
	}
	s.lastClick = now
	s.processing.Store(true)
	return true
}

func (s *Session) handleClick(ctx context.Context, click geometry.Point, atMs int64) (*ClickResult, error) {
	rec, err := s.Frame(atMs)
	if err != nil {
		return nil, err
	}
	det, err := s.detectOn(ctx, rec, &click)
	if err != nil {
		return nil, err
	}

	sel, err := selector.Select(click, det.Width, det.Height, det.Result.Candidates)
	if err != nil {
		return nil, err
	}
	cand := det.Result.Candidates[sel.Index]

	img, method, err := s.exporter.Export(cand, rec.Image)
	if err != nil {
		return nil, fmt.Errorf("export candidate %d: %w", sel.Index, err)
	}

	s.log.WithFields(logrus.Fields{
		"index":  sel.Index,
		"score":  sel.Score.Total,
		"method": method,
	}).Info("card exported")

	return &ClickResult{Detection: det, Selection: sel, Candidate: cand, Method: method, Image: img}, nil
}

// Start runs the sampling loop: every SampleInterval it reads a frame from
// src and pushes it into the buffer. The loop ends when ctx is cancelled,
// Stop is called, or src returns io.EOF. src is closed when the loop ends.
func (s *Session) Start(ctx context.Context, src FrameSource) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		defer func() {
			if err := src.Close(); err != nil {
				s.log.WithError(err).Warn("closing frame source")
			}
		}()
		s.sample(ctx, src)
	}()
	return nil
}

func (s *Session) sample(ctx context.Context, src FrameSource) {
	ticker := time.NewTicker(s.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		img, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			s.emit(events.Event{Kind: events.KindStatus, Message: "frame source ended"})
			return
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.log.WithError(err).Warn("reading frame")
			continue
		}
		s.PushFrame(img, s.nowMs())
	}
}

// Running reports whether the sampling loop is active.
func (s *Session) Running() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the sampling loop has ended.
func (s *Session) Wait() {
	s.loopMu.Lock()
	done := s.done
	s.loopMu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop ends the sampling loop, disposes the detector and clears the buffer.
// The session can be started again afterwards.
func (s *Session) Stop() {
	s.loopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.orch.SetDetector(nil)
	s.buf.Clear()

	s.lastMu.Lock()
	s.last, s.lastImg = nil, nil
	s.lastMu.Unlock()

	s.emit(events.Event{Kind: events.KindStatus, Message: "session stopped"})
}
