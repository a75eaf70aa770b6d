package pipeline

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/internal/events"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSession(clock *fakeClock) *Session {
	return NewSession(Options{CV: cv.Native{}, Now: clock.Now})
}

func roiConfig() *detection.ContourConfig {
	cfg := detection.DefaultContourConfig()
	cfg.InitialROISize = 60
	cfg.ROIGrowth = 2
	return &cfg
}

func eventKinds(evs []events.Event) map[events.Kind]int {
	kinds := map[events.Kind]int{}
	for _, e := range evs {
		kinds[e.Kind]++
	}
	return kinds
}

func TestSession_ClickEndToEnd(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	s := newTestSession(clock)

	if _, err := s.UseDetector(context.Background(), detection.TagContour, detection.Options{Contour: roiConfig()}); err != nil {
		t.Fatalf("UseDetector: %v", err)
	}
	s.PushFrame(cardFrame(400, 400, image.Rect(125, 95, 275, 305)), clock.Now().UnixMilli())

	res, err := s.HandleClick(context.Background(), geometry.Pt(200, 200), 0)
	if err != nil {
		t.Fatalf("HandleClick: %v", err)
	}

	if n := len(res.Detection.Result.Candidates); n != 1 {
		t.Fatalf("candidates: got %d, want 1", n)
	}
	q := res.Candidate.Polygon
	if q == nil {
		t.Fatal("selected candidate has no polygon")
	}
	want := [4]geometry.Point{{X: 125, Y: 95}, {X: 274, Y: 95}, {X: 274, Y: 304}, {X: 125, Y: 304}}
	for i, p := range q.Points() {
		if p.Distance(want[i]) > 4 {
			t.Errorf("corner %d: got %v, want %v", i, p, want[i])
		}
	}
	if res.Method != "perspective" {
		t.Errorf("method: got %s", res.Method)
	}
	if b := res.Image.Bounds(); b.Dx() != 336 || b.Dy() != 469 {
		t.Errorf("output size: got %v, want 336x469", b)
	}

	kinds := eventKinds(s.Events().Poll(0))
	for _, k := range []events.Kind{events.KindProgress, events.KindStatus, events.KindCandidates, events.KindCropped} {
		if kinds[k] == 0 {
			t.Errorf("no %s event", k)
		}
	}
	if kinds[events.KindError] != 0 {
		t.Errorf("unexpected error events: %d", kinds[events.KindError])
	}
}

func TestSession_ClickDebounce(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	s := newTestSession(clock)

	// First click is accepted even though it fails for lack of a frame.
	if _, err := s.HandleClick(context.Background(), geometry.Pt(1, 1), 0); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("first click: got %v, want ErrNoFrame", err)
	}

	clock.Advance(time.Second)
	if _, err := s.HandleClick(context.Background(), geometry.Pt(1, 1), 0); !errors.Is(err, ErrDebounced) {
		t.Errorf("click after 1s: got %v, want ErrDebounced", err)
	}

	clock.Advance(1500 * time.Millisecond)
	if _, err := s.HandleClick(context.Background(), geometry.Pt(1, 1), 0); errors.Is(err, ErrDebounced) {
		t.Error("click after the window should be accepted")
	}
}

func TestSession_ClickWhileProcessing(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	s := newTestSession(clock)
	d := &fakeDetector{name: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	s.Orchestrator().SetDetector(d)
	s.PushFrame(cardFrame(50, 50, image.Rectangle{}), 0)

	done := make(chan error, 1)
	go func() {
		_, err := s.HandleClick(context.Background(), geometry.Pt(10, 10), 0)
		done <- err
	}()
	<-d.entered

	clock.Advance(10 * time.Second)
	if _, err := s.HandleClick(context.Background(), geometry.Pt(10, 10), 0); !errors.Is(err, ErrDebounced) {
		t.Errorf("click during processing: got %v, want ErrDebounced", err)
	}
	close(d.release)
	if err := <-done; err == nil {
		t.Error("first click should fail: the fake returns no candidates")
	}
}

func TestSession_FrameFallsBackToMostRecent(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(10_000)}
	s := newTestSession(clock)

	if _, err := s.Frame(0); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("empty buffer: got %v, want ErrNoFrame", err)
	}

	s.Buffer().Add(cardFrame(10, 10, image.Rectangle{}), 1000, 50)
	s.Buffer().Add(cardFrame(10, 10, image.Rectangle{}), 5000, 1)

	rec, err := s.Frame(0) // now = 10000, nothing within 500ms
	if err != nil {
		t.Fatal(err)
	}
	if rec.TimestampMs != 5000 {
		t.Errorf("fallback frame: got ts %d, want 5000", rec.TimestampMs)
	}

	rec, err = s.Frame(1200)
	if err != nil {
		t.Fatal(err)
	}
	if rec.TimestampMs != 1000 {
		t.Errorf("windowed frame: got ts %d, want 1000", rec.TimestampMs)
	}
}

func TestSession_UseDetectorFailure(t *testing.T) {
	s := newTestSession(&fakeClock{t: time.UnixMilli(1)})

	_, err := s.UseDetector(context.Background(), detection.TagBox, detection.Options{BoxModel: failingModel{}})
	var ie *detection.InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InitError, got %v", err)
	}

	var errEvent *events.Event
	for _, e := range s.Events().Poll(0) {
		if e.Kind == events.KindError {
			e := e
			errEvent = &e
		}
	}
	if errEvent == nil {
		t.Fatal("no error event")
	}
	data, ok := errEvent.Data.(map[string]string)
	if !ok || data["cause"] != string(detection.CauseNetwork) || data["remediation"] == "" {
		t.Errorf("error event data: %+v", errEvent.Data)
	}
}

func TestSession_UseDetectorUnknownTag(t *testing.T) {
	s := newTestSession(&fakeClock{t: time.UnixMilli(1)})
	if _, err := s.UseDetector(context.Background(), "nope", detection.Options{}); !errors.Is(err, detection.ErrUnknownBackend) {
		t.Errorf("got %v", err)
	}
	if s.Orchestrator().Detector() != nil {
		t.Error("unknown tag must not replace the detector")
	}
}

type failingModel struct{}

func (failingModel) Load(ctx context.Context, progress detection.ProgressFunc) error {
	return errors.New("dial tcp: connection refused")
}

func (failingModel) Infer(ctx context.Context, img image.Image) ([]detection.RawBox, error) {
	return nil, nil
}

func (failingModel) Close() error { return nil }

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestSession_SamplingLoop(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"f001.png", "f002.png", "f003.png"} {
		writePNG(t, filepath.Join(dir, name), cardFrame(40, 40, image.Rect(10, 10, 30, 30)))
	}
	src, err := NewDirSource(dir, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	s := NewSession(Options{CV: cv.Native{}, SampleInterval: 5 * time.Millisecond})
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background(), src); !errors.Is(err, ErrRunning) && s.Running() {
		t.Errorf("second Start: got %v, want ErrRunning", err)
	}
	s.Wait()

	if n := s.Buffer().Len(); n != 3 {
		t.Errorf("buffered frames: got %d, want 3", n)
	}
	if s.Running() {
		t.Error("loop should have ended at the end of the source")
	}

	var ended bool
	for _, e := range s.Events().Poll(0) {
		if e.Kind == events.KindStatus && strings.Contains(e.Message, "ended") {
			ended = true
		}
	}
	if !ended {
		t.Error("no end-of-source status event")
	}
}

func TestSession_Stop(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "f.png"), cardFrame(20, 20, image.Rectangle{}))
	src, err := NewDirSource(dir, nil, true)
	if err != nil {
		t.Fatal(err)
	}

	s := NewSession(Options{CV: cv.Native{}, SampleInterval: 2 * time.Millisecond})
	d := &fakeDetector{name: "fake"}
	s.Orchestrator().SetDetector(d)
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if s.Running() {
		t.Error("loop still running after Stop")
	}
	if s.Buffer().Len() != 0 {
		t.Errorf("buffer not cleared: %d frames", s.Buffer().Len())
	}
	if d.disposed.Load() != 1 || s.Orchestrator().Detector() != nil {
		t.Error("detector not disposed")
	}
	if err := s.Start(context.Background(), &DirSource{}); err != nil {
		t.Errorf("restart after Stop: %v", err)
	}
	s.Stop()
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), cardFrame(8, 8, image.Rectangle{}))
	writePNG(t, filepath.Join(dir, "a.png"), cardFrame(4, 4, image.Rectangle{}))

	src, err := NewDirSource(dir, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	sizes := []int{}
	for i := 0; i < 3; i++ {
		img, err := src.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, img.Bounds().Dx())
	}
	if sizes[0] != 4 || sizes[1] != 8 || sizes[2] != 4 {
		t.Errorf("playback order: got %v, want [4 8 4]", sizes)
	}

	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(context.Background()); err == nil {
		t.Error("closed source should end")
	}

	if _, err := NewDirSource(t.TempDir(), nil, false); err == nil {
		t.Error("empty directory should be rejected")
	}
}
