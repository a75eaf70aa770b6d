package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/internal/ocr"
)

// cardFrame draws a light card over a dark table.
func cardFrame(width, height int, card image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{30, 40, 35, 255}
			if image.Pt(x, y).In(card) {
				c = color.RGBA{235, 230, 220, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodeBase64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// callTool runs a tools/call request and decodes the text result into
// out when it is non-nil.
func callTool(t *testing.T, s *Server, name string, args interface{}, out interface{}) *MCPError {
	t.Helper()
	rawArgs, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: rawArgs})
	resp := s.handleToolsCall(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}

	result := resp.Result.(map[string]interface{})
	content := result["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("unexpected content: %+v", content)
	}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), out); err != nil {
		t.Fatalf("decode %s result: %v", name, err)
	}
	return nil
}

func mustCall(t *testing.T, s *Server, name string, args interface{}, out interface{}) {
	t.Helper()
	if e := callTool(t, s, name, args, out); e != nil {
		t.Fatalf("%s: %s: %v", name, e.Message, e.Data)
	}
}

var roiConfig = map[string]interface{}{"initial_roi_size": 60, "roi_growth": 2}

func TestCardClickFlow(t *testing.T) {
	s := New(nil, nil)

	var status detectorStatusResult
	mustCall(t, s, "detector_init", map[string]interface{}{"detector": "contour", "config": roiConfig}, &status)
	if status.Detector != detection.TagContour || status.Status != detection.StatusReady {
		t.Fatalf("status after init: %+v", status)
	}

	var pushed framePushResult
	frame := cardFrame(400, 400, image.Rect(125, 95, 275, 305))
	mustCall(t, s, "frame_push", map[string]interface{}{"image_base64": encodeBase64(t, frame)}, &pushed)
	if pushed.Width != 400 || pushed.Frames != 1 || pushed.Sharpness <= 0 {
		t.Errorf("frame_push: %+v", pushed)
	}

	var click struct {
		Index  int    `json:"index"`
		Method string `json:"method"`
		Frame  struct {
			Candidates int `json:"candidates"`
		} `json:"frame"`
		Candidate struct {
			Polygon *struct{} `json:"polygon"`
		} `json:"candidate"`
		Image struct {
			Width       int    `json:"width"`
			Height      int    `json:"height"`
			ImageBase64 string `json:"image_base64"`
		} `json:"image"`
	}
	mustCall(t, s, "card_click", map[string]interface{}{"x": 200, "y": 200}, &click)
	if click.Index != 0 || click.Frame.Candidates != 1 || click.Candidate.Polygon == nil {
		t.Errorf("card_click: %+v", click)
	}
	if click.Method != "perspective" {
		t.Errorf("method: got %s, want perspective", click.Method)
	}
	if click.Image.Width != 336 || click.Image.Height != 469 || click.Image.ImageBase64 == "" {
		t.Errorf("image: %dx%d", click.Image.Width, click.Image.Height)
	}

	var overlay struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	mustCall(t, s, "card_overlay", map[string]interface{}{"highlight": 0, "color": "#FF0000"}, &overlay)
	if overlay.Width != 400 || overlay.Height != 400 {
		t.Errorf("overlay size: %+v", overlay)
	}

	if e := callTool(t, s, "card_click", map[string]interface{}{"x": 200, "y": 200}, nil); e == nil || !strings.Contains(e.Data.(string), "debounce") {
		t.Errorf("second click: got %+v, want a debounce error", e)
	}

	var polled struct {
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	mustCall(t, s, "events_poll", map[string]interface{}{}, &polled)
	kinds := map[string]bool{}
	for _, e := range polled.Events {
		kinds[e.Kind] = true
	}
	for _, k := range []string{"progress", "status", "candidates", "cropped"} {
		if !kinds[k] {
			t.Errorf("no %s event in %+v", k, polled.Events)
		}
	}

	var title ocr.Title
	if e := callTool(t, s, "card_read_title", map[string]interface{}{}, &title); e != nil {
		t.Logf("card_read_title: %v", e.Data)
	}
}

func TestCardDetect(t *testing.T) {
	s := New(nil, nil)
	mustCall(t, s, "detector_init", map[string]interface{}{"config": roiConfig}, nil)
	mustCall(t, s, "frame_push", map[string]interface{}{"image_base64": encodeBase64(t, cardFrame(400, 400, image.Rect(125, 95, 275, 305)))}, nil)

	var det struct {
		Width  int `json:"width"`
		Result struct {
			Candidates []detection.Candidate `json:"candidates"`
		} `json:"result"`
	}
	mustCall(t, s, "card_detect", map[string]interface{}{"x": 200, "y": 200}, &det)
	if det.Width != 400 || len(det.Result.Candidates) != 1 {
		t.Fatalf("card_detect: %+v", det)
	}
	if !det.Result.Candidates[0].Box.Valid() {
		t.Errorf("invalid box: %+v", det.Result.Candidates[0].Box)
	}

	if e := callTool(t, s, "card_detect", map[string]interface{}{"x": 200}, nil); e == nil {
		t.Error("x without y should fail")
	}
}

func TestFramePushFromPath(t *testing.T) {
	s := New(nil, nil)
	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, cardFrame(64, 48, image.Rect(10, 10, 30, 40))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var pushed framePushResult
	mustCall(t, s, "frame_push", map[string]interface{}{"path": path, "timestamp_ms": 1234}, &pushed)
	if pushed.Width != 64 || pushed.Height != 48 || pushed.TimestampMs != 1234 {
		t.Errorf("got %+v", pushed)
	}
	if s.cache.Len() != 0 {
		t.Error("pushed frame left in the cache")
	}

	var edges struct {
		Width int `json:"width"`
	}
	mustCall(t, s, "card_edges", map[string]interface{}{"timestamp_ms": 1234, "raw": true}, &edges)
	if edges.Width != 64 {
		t.Errorf("edge map width: %d", edges.Width)
	}
}

func TestToolErrors(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		args     interface{}
		wantData string
	}{
		{"unknown tool", "image_load", map[string]interface{}{}, "unknown tool"},
		{"push without image", "frame_push", map[string]interface{}{}, "image_base64 or path"},
		{"bad base64", "frame_push", map[string]interface{}{"image_base64": "%%%"}, "base64"},
		{"click without point", "card_click", map[string]interface{}{}, "required"},
		{"click without frame", "card_click", map[string]interface{}{"x": 1, "y": 1}, "no buffered frame"},
		{"detect without detector", "card_detect", map[string]interface{}{}, "no buffered frame"},
		{"overlay without detection", "card_overlay", map[string]interface{}{}, "no detection"},
		{"title without card", "card_read_title", map[string]interface{}{}, "no exported card"},
		{"unknown detector", "detector_init", map[string]interface{}{"detector": "yolo"}, "yolo"},
		{"config for unknown detector", "detector_init", map[string]interface{}{"detector": "yolo", "config": map[string]interface{}{}}, "yolo"},
		{"bad config", "detector_init", map[string]interface{}{"detector": "contour", "config": map[string]interface{}{"roi_growth": "fast"}}, "invalid contour config"},
		{"capture without source", "capture_start", map[string]interface{}{}, "dir or webcam"},
		{"capture empty dir", "capture_start", map[string]interface{}{"dir": "/nonexistent/frames"}, "frames"},
		{"edges bad thresholds", "card_edges", map[string]interface{}{"low": 200, "high": 100}, "no buffered frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil, nil)
			e := callTool(t, s, tt.tool, tt.args, nil)
			if e == nil {
				t.Fatal("expected an error")
			}
			if e.Code != -32000 {
				t.Errorf("code: got %d, want -32000", e.Code)
			}
			if data, _ := e.Data.(string); !strings.Contains(data, tt.wantData) {
				t.Errorf("data %q does not contain %q", data, tt.wantData)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := New(nil, nil)
	resp := s.handleToolsCall(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Params: json.RawMessage(`[1,2]`)})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("got %+v, want -32602", resp.Error)
	}
}

// boxModelFailing fails to load the way an unreachable model host does.
type boxModelFailing struct{}

func (boxModelFailing) Load(ctx context.Context, progress detection.ProgressFunc) error {
	return errors.New("dial tcp 10.0.0.1:443: connection refused")
}

func (boxModelFailing) Infer(ctx context.Context, img image.Image) ([]detection.RawBox, error) {
	return nil, nil
}

func (boxModelFailing) Close() error { return nil }

func TestDetectorInitFailure_Remediation(t *testing.T) {
	s := New(nil, nil)
	opts := s.cfg.DetectorOptions()
	opts.BoxModel = boxModelFailing{}
	if _, err := s.session.UseDetector(context.Background(), detection.TagBox, opts); err == nil {
		t.Fatal("expected init failure")
	}

	var status detectorStatusResult
	mustCall(t, s, "detector_status", map[string]interface{}{}, &status)
	if status.Status != detection.StatusError || !strings.Contains(status.LastError, "connection refused") {
		t.Errorf("status: %+v", status)
	}

	e := callTool(t, s, "detector_init", map[string]interface{}{"detector": "box", "model_path": ""}, nil)
	if e == nil {
		t.Fatal("box backend without a model should fail")
	}
	// The cause is in the error text; the hint follows in parentheses.
	if data, _ := e.Data.(string); strings.Count(data, "(") < 2 {
		t.Errorf("no remediation hint in %q", data)
	}
}

func TestDetectorDispose(t *testing.T) {
	s := New(nil, nil)
	mustCall(t, s, "detector_init", map[string]interface{}{}, nil)

	var res map[string]string
	mustCall(t, s, "detector_dispose", map[string]interface{}{}, &res)
	if res["disposed"] != detection.TagContour {
		t.Errorf("disposed: %v", res)
	}

	var status detectorStatusResult
	mustCall(t, s, "detector_status", map[string]interface{}{}, &status)
	if status.Detector != "" || status.Status != detection.StatusUninitialized {
		t.Errorf("status after dispose: %+v", status)
	}
}

func TestCaptureStartStop(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png"} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		png.Encode(f, cardFrame(32, 32, image.Rect(4, 4, 20, 26)))
		f.Close()
	}

	s := New(nil, nil)
	var started map[string]interface{}
	mustCall(t, s, "capture_start", map[string]interface{}{"dir": dir, "loop": true}, &started)
	if started["capturing"] != true || started["source"] != dir {
		t.Errorf("capture_start: %v", started)
	}
	if e := callTool(t, s, "capture_start", map[string]interface{}{"dir": dir}, nil); e == nil {
		t.Error("second capture_start should fail while capturing")
	}

	var stopped map[string]interface{}
	mustCall(t, s, "capture_stop", map[string]interface{}{}, &stopped)
	if stopped["capturing"] != false || s.session.Running() {
		t.Errorf("capture_stop: %v", stopped)
	}
}

func TestDetectorOptions(t *testing.T) {
	s := New(nil, nil)

	opts, err := s.detectorOptions(detectorInitArgs{Detector: "box", ModelPath: "/m.onnx", Device: "cuda", Config: json.RawMessage(`{"max_candidates":2}`)})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Box.ModelPath != "/m.onnx" || opts.Box.Device != "cuda" || opts.Box.MaxCandidates != 2 {
		t.Errorf("box: %+v", opts.Box)
	}
	if opts.Box.ConfidenceThreshold != detection.DefaultBoxConfig().ConfidenceThreshold {
		t.Error("config override replaced unrelated defaults")
	}

	opts, err = s.detectorOptions(detectorInitArgs{Detector: "segment", Config: json.RawMessage(`{"min_mask_quality":0.8}`)})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Segment.MinMaskQuality != 0.8 || opts.Segment.CardWidth != 336 {
		t.Errorf("segment: %+v", opts.Segment)
	}
}
