package detection

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// fakeBoxModel counts loads and returns fixed boxes.
type fakeBoxModel struct {
	loads   atomic.Int32
	closes  atomic.Int32
	started chan struct{}
	release chan struct{}
	loadErr error
	boxes   []RawBox
}

func (m *fakeBoxModel) Load(ctx context.Context, progress ProgressFunc) error {
	m.loads.Add(1)
	if m.started != nil {
		close(m.started)
		<-m.release
	}
	return m.loadErr
}

func (m *fakeBoxModel) Infer(ctx context.Context, img image.Image) ([]RawBox, error) {
	return m.boxes, nil
}

func (m *fakeBoxModel) Close() error {
	m.closes.Add(1)
	return nil
}

func box(x, y, w, h float64) geometry.BoundingBox {
	return geometry.BoundingBox{XMin: x, YMin: y, XMax: x + w, YMax: y + h}
}

func TestFilterBoxes(t *testing.T) {
	cfg := DefaultBoxConfig()
	raw := []RawBox{
		{Box: box(0.1, 0.1, 0.063, 0.088), Score: 0.7, Label: "card"},
		{Box: box(0.5, 0.5, 0.063, 0.088), Score: 0.9, Label: "book"},
		{Box: box(0.3, 0.3, 0.063, 0.088), Score: 0.95, Label: "Person"},
		{Box: box(0.3, 0.3, 0.063, 0.088), Score: 0.2, Label: "card"},
		{Box: box(0.1, 0.1, 0.2, 0.05), Score: 0.8, Label: "card"},
		{Box: box(0.05, 0.05, 0.8, 0.9), Score: 0.8, Label: "card"},
		{Box: box(0.1, 0.1, 0.01, 0.014), Score: 0.8, Label: "card"},
	}

	got := FilterBoxes(raw, 1000, 1000, cfg, nil)

	if len(got) != 2 {
		t.Fatalf("candidates: got %d, want 2: %+v", len(got), got)
	}
	if got[0].Score != 0.9 || got[0].Label != "book" {
		t.Errorf("first: got %+v, want the 0.9 book", got[0])
	}
	if got[1].Score != 0.7 {
		t.Errorf("second score: got %.2f, want 0.7", got[1].Score)
	}
}

func TestFilterBoxes_MaxCandidates(t *testing.T) {
	cfg := DefaultBoxConfig()
	cfg.MaxCandidates = 3
	var raw []RawBox
	for i := 0; i < 6; i++ {
		raw = append(raw, RawBox{Box: box(0.1, 0.1, 0.063, 0.088), Score: 0.5 + float64(i)/20})
	}

	got := FilterBoxes(raw, 1000, 1000, cfg, nil)

	if len(got) != 3 {
		t.Fatalf("candidates: got %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("not sorted: %v then %v", got[i-1].Score, got[i].Score)
		}
	}
}

func TestBoxDetector_Detect(t *testing.T) {
	model := &fakeBoxModel{boxes: []RawBox{{Box: box(0.2, 0.2, 0.063, 0.088), Score: 0.8, Label: "card"}}}
	d := NewBoxDetector(DefaultBoxConfig(), model, Options{})

	if _, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 100, 100)), 0, 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("before init: got %v, want ErrNotInitialized", err)
	}
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	res, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 1000, 1000)), 0, 0)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.RawCount != 1 || len(res.Candidates) != 1 {
		t.Fatalf("got raw=%d candidates=%d", res.RawCount, len(res.Candidates))
	}
	if res.Candidates[0].Polygon != nil {
		t.Error("box candidates carry no polygon")
	}

	d.Dispose()
	if model.closes.Load() != 1 {
		t.Errorf("closes: got %d, want 1", model.closes.Load())
	}
	if d.Status() != StatusUninitialized {
		t.Errorf("status: got %s", d.Status())
	}
}

func TestInitialize_CoalescesConcurrentCalls(t *testing.T) {
	model := &fakeBoxModel{started: make(chan struct{}), release: make(chan struct{})}
	d := NewBoxDetector(DefaultBoxConfig(), model, Options{})

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.Initialize(context.Background())
		}()
	}

	<-model.started
	if d.Status() != StatusLoading {
		t.Errorf("status during load: got %s, want loading", d.Status())
	}
	close(model.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Initialize: %v", err)
		}
	}
	if n := model.loads.Load(); n != 1 {
		t.Errorf("loads: got %d, want 1", n)
	}
	if d.Status() != StatusReady {
		t.Errorf("status: got %s, want ready", d.Status())
	}
}

func TestInitialize_FailureThenRetry(t *testing.T) {
	model := &fakeBoxModel{loadErr: errors.New("cuda device not available")}
	d := NewBoxDetector(DefaultBoxConfig(), model, Options{})

	err := d.Initialize(context.Background())
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InitError, got %v", err)
	}
	if ie.Cause != CauseHardware {
		t.Errorf("cause: got %s, want %s", ie.Cause, CauseHardware)
	}
	if d.Status() != StatusError || d.LastError() == nil {
		t.Errorf("status %s, last error %v", d.Status(), d.LastError())
	}
	if model.closes.Load() != 1 {
		t.Errorf("failed load should release the model, closes=%d", model.closes.Load())
	}

	model.loadErr = nil
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d.Status() != StatusReady {
		t.Errorf("status after retry: got %s", d.Status())
	}
}

func TestInitialize_ReportsProgress(t *testing.T) {
	var stages []string
	opts := Options{Progress: func(p Progress) { stages = append(stages, p.Stage) }}
	d := NewBoxDetector(DefaultBoxConfig(), &fakeBoxModel{}, opts)

	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(stages) < 2 || stages[len(stages)-1] != "ready" {
		t.Errorf("stages: got %v", stages)
	}
}
