package detection

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

var (
	tableColor = color.RGBA{30, 40, 35, 255}
	cardColor  = color.RGBA{235, 230, 220, 255}
)

// cardFrame draws a light card over a dark table.
func cardFrame(width, height int, card image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := tableColor
			if image.Pt(x, y).In(card) {
				c = cardColor
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func roiTestConfig() ContourConfig {
	cfg := DefaultContourConfig()
	cfg.InitialROISize = 60
	cfg.ROIGrowth = 2
	cfg.MaxROIPasses = 6
	return cfg
}

func readyContour(t *testing.T, cfg ContourConfig) *ContourDetector {
	t.Helper()
	d := NewContourDetector(cfg, Options{CV: cv.Native{}})
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return d
}

func assertCorners(t *testing.T, got geometry.CardQuad, want [4]geometry.Point, tol float64) {
	t.Helper()
	pts := got.Points()
	for i := range want {
		if pts[i].Distance(want[i]) > tol {
			t.Errorf("corner %d: got %v, want %v (±%.0f)", i, pts[i], want[i], tol)
		}
	}
}

func TestContourDetector_ROISearchStopsAtFirstGoodPass(t *testing.T) {
	// 150x210 card centred at (200,200). The 60 and 120 ROIs lie inside the
	// card face and see no edges; the 240 ROI contains the whole card.
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	d := readyContour(t, roiTestConfig())

	d.SetPromptPoint(geometry.Pt(200, 200))
	res, err := d.Detect(context.Background(), frame, 400, 400)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if res.SearchPasses != 3 {
		t.Errorf("SearchPasses: got %d, want 3", res.SearchPasses)
	}
	if len(res.Candidates) == 0 {
		t.Fatal("expected a candidate")
	}
	top := res.Candidates[0]
	if top.Score < 0.75 {
		t.Errorf("top score: got %.3f, want >= 0.75", top.Score)
	}
	if top.Polygon == nil {
		t.Fatal("candidate has no polygon")
	}
	assertCorners(t, *top.Polygon, [4]geometry.Point{
		{X: 125, Y: 95}, {X: 274, Y: 95}, {X: 274, Y: 304}, {X: 125, Y: 304},
	}, 4)
	if !top.Box.Contains(geometry.Pt(200, 200), 400, 400) {
		t.Errorf("box %+v does not contain the click", top.Box)
	}
}

func TestContourDetector_ScalesToFrameCoordinates(t *testing.T) {
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	d := readyContour(t, roiTestConfig())

	// Click given in an 800x800 coordinate space.
	d.SetPromptPoint(geometry.Pt(400, 400))
	res, err := d.Detect(context.Background(), frame, 800, 800)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Polygon == nil {
		t.Fatal("expected a candidate with a polygon")
	}
	assertCorners(t, *res.Candidates[0].Polygon, [4]geometry.Point{
		{X: 250, Y: 190}, {X: 548, Y: 190}, {X: 548, Y: 608}, {X: 250, Y: 608},
	}, 8)
}

func TestContourDetector_ClickOffCard(t *testing.T) {
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	d := readyContour(t, roiTestConfig())

	d.SetPromptPoint(geometry.Pt(20, 20))
	res, err := d.Detect(context.Background(), frame, 400, 400)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(res.Candidates))
	}
	// 60, 120, 240, then capped at 400.
	if res.SearchPasses != 4 {
		t.Errorf("SearchPasses: got %d, want 4", res.SearchPasses)
	}
}

func TestContourDetector_NoPassReachesThreshold(t *testing.T) {
	// A squat 70x84 card is found by every pass but its aspect keeps the
	// score under the default 0.75.
	frame := cardFrame(400, 400, image.Rect(165, 158, 235, 242))
	cfg := DefaultContourConfig()
	d := readyContour(t, cfg)

	d.SetPromptPoint(geometry.Pt(200, 200))
	res, err := d.Detect(context.Background(), frame, 400, 400)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("candidates: got %d (top score %.3f), want none", len(res.Candidates), res.Candidates[0].Score)
	}
	want := len(roiSchedule(geometry.Pt(200, 200), frame.Bounds(), cfg))
	if res.SearchPasses != want {
		t.Errorf("SearchPasses: got %d, want %d", res.SearchPasses, want)
	}

	// The same outline is returned once the threshold admits it.
	cfg.QualityThreshold = 0.4
	d = readyContour(t, cfg)
	d.SetPromptPoint(geometry.Pt(200, 200))
	res, err = d.Detect(context.Background(), frame, 400, 400)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Candidates) == 0 {
		t.Error("expected a candidate with a lowered threshold")
	}
}

func TestContourDetector_NoPromptSearchesWholeFrame(t *testing.T) {
	frame := cardFrame(300, 300, image.Rect(80, 50, 200, 218))
	d := readyContour(t, DefaultContourConfig())

	res, err := d.Detect(context.Background(), frame, 0, 0)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.SearchPasses != 1 {
		t.Errorf("SearchPasses: got %d, want 1", res.SearchPasses)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("candidates: got %d, want 1", len(res.Candidates))
	}
}

func TestContourDetector_PromptIsConsumed(t *testing.T) {
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	d := readyContour(t, roiTestConfig())

	d.SetPromptPoint(geometry.Pt(200, 200))
	if _, err := d.Detect(context.Background(), frame, 0, 0); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	res, err := d.Detect(context.Background(), frame, 0, 0)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.SearchPasses != 1 {
		t.Errorf("second call should be a whole-frame pass, got %d passes", res.SearchPasses)
	}
}

func TestContourDetector_NotInitialized(t *testing.T) {
	d := NewContourDetector(DefaultContourConfig(), Options{})
	if d.Status() != StatusUninitialized {
		t.Errorf("status: got %s", d.Status())
	}
	_, err := d.Detect(context.Background(), cardFrame(50, 50, image.Rect(0, 0, 0, 0)), 0, 0)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

func TestContourDetector_InvalidConfig(t *testing.T) {
	cfg := DefaultContourConfig()
	cfg.ROIGrowth = 1

	d := NewContourDetector(cfg, Options{})
	err := d.Initialize(context.Background())

	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InitError, got %v", err)
	}
	if ie.Backend != TagContour {
		t.Errorf("backend: got %q", ie.Backend)
	}
	if d.Status() != StatusError {
		t.Errorf("status: got %s, want error", d.Status())
	}
}

func TestContourDetector_DisposeResets(t *testing.T) {
	d := readyContour(t, DefaultContourConfig())
	d.Dispose()
	d.Dispose()
	if d.Status() != StatusUninitialized {
		t.Errorf("status after dispose: got %s", d.Status())
	}
}

func TestContourDetector_CancelledContext(t *testing.T) {
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	d := readyContour(t, roiTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, frame, 0, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestROISchedule(t *testing.T) {
	bounds := image.Rect(0, 0, 400, 300)
	tests := []struct {
		name   string
		passes int
		want   []int
	}{
		{"capped at frame", 6, []int{60, 120, 240, 400}},
		{"limited by passes", 2, []int{60, 120}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := roiTestConfig()
			cfg.MaxROIPasses = tt.passes
			rois := roiSchedule(geometry.Pt(200, 150), bounds, cfg)
			if len(rois) != len(tt.want) {
				t.Fatalf("passes: got %d, want %d", len(rois), len(tt.want))
			}
			for i, r := range rois {
				if !r.In(bounds) {
					t.Errorf("roi %d %v outside frame", i, r)
				}
				side := tt.want[i]
				if side > 300 {
					// Square capped to the frame's height.
					if r.Dx() != 400 || r.Dy() != 300 {
						t.Errorf("roi %d: got %v", i, r)
					}
					continue
				}
				if r.Dx() != side || r.Dy() != side {
					t.Errorf("roi %d: got %dx%d, want %d", i, r.Dx(), r.Dy(), side)
				}
			}
		})
	}
}

func TestEdgeSupport(t *testing.T) {
	edges := image.NewGray(image.Rect(0, 0, 100, 100))
	// Left and right sides only.
	for y := 10; y <= 90; y++ {
		edges.Pix[y*edges.Stride+10] = 255
		edges.Pix[y*edges.Stride+70] = 255
	}
	q := geometry.CardQuad{
		TopLeft:     geometry.Pt(10, 10),
		TopRight:    geometry.Pt(70, 10),
		BottomRight: geometry.Pt(70, 90),
		BottomLeft:  geometry.Pt(10, 90),
	}

	got := EdgeSupport(edges, q, 20)
	if math.Abs(got-0.5) > 0.05 {
		t.Errorf("support: got %.3f, want about 0.5", got)
	}
}

func TestEdgeSupport_RawCannyMap(t *testing.T) {
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	_, raw := imaging.EdgeMap(cv.Native{}, frame, imaging.DefaultEdgeOptions())

	outline := geometry.CardQuad{
		TopLeft: geometry.Pt(125, 95), TopRight: geometry.Pt(274, 95),
		BottomRight: geometry.Pt(274, 304), BottomLeft: geometry.Pt(125, 304),
	}
	if got := EdgeSupport(raw, outline, 24); got < 0.9 {
		t.Errorf("card outline support: got %.3f, want >= 0.9", got)
	}

	off := geometry.CardQuad{
		TopLeft: geometry.Pt(120, 90), TopRight: geometry.Pt(279, 90),
		BottomRight: geometry.Pt(279, 309), BottomLeft: geometry.Pt(120, 309),
	}
	if got := EdgeSupport(raw, off, 24); got >= DefaultContourConfig().MinEdgeSupport {
		t.Errorf("outline 5px off the border: got %.3f, want below min support", got)
	}
}

func TestAspectCloseness(t *testing.T) {
	quad := func(w, h float64) geometry.CardQuad {
		return geometry.CardQuad{
			TopLeft: geometry.Pt(0, 0), TopRight: geometry.Pt(w, 0),
			BottomRight: geometry.Pt(w, h), BottomLeft: geometry.Pt(0, h),
		}
	}
	tests := []struct {
		name   string
		q      geometry.CardQuad
		wantOK bool
		min    float64
	}{
		{"portrait card", quad(63, 88), true, 0.99},
		{"landscape card", quad(88, 63), true, 0.99},
		{"square", quad(50, 50), true, 0},
		{"strip", quad(20, 100), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := aspectCloseness(tt.q, 0.3)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if ok && got < tt.min {
				t.Errorf("closeness: got %.3f, want >= %.2f", got, tt.min)
			}
		})
	}
}

func TestRefineQuad(t *testing.T) {
	frame := cardFrame(300, 300, image.Rect(100, 60, 190, 186))

	q, ok := RefineQuad(cv.Native{}, frame, image.Rect(104, 64, 186, 182), DefaultContourConfig())
	if !ok {
		t.Fatal("RefineQuad found nothing")
	}
	assertCorners(t, q, [4]geometry.Point{
		{X: 100, Y: 60}, {X: 189, Y: 60}, {X: 189, Y: 185}, {X: 100, Y: 185},
	}, 4)
}
