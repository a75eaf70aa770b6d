package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/internal/imaging"
	"github.com/ironsheep/card-detect-mcp/internal/pipeline"
	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "card_click").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	entry := s.log.WithField("tool", params.Name).WithField("elapsed_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Debug("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}
	entry.Debug("tool done")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Detector lifecycle
	case "detector_init":
		return s.handleDetectorInit(ctx, args)
	case "detector_status":
		return s.handleDetectorStatus()
	case "detector_dispose":
		return s.handleDetectorDispose()

	// Frames
	case "frame_push":
		return s.handleFramePush(args)
	case "capture_start":
		return s.handleCaptureStart(ctx, args)
	case "capture_stop":
		return s.handleCaptureStop()

	// Detection
	case "card_detect":
		return s.handleCardDetect(ctx, args)
	case "card_click":
		return s.handleCardClick(ctx, args)
	case "card_overlay":
		return s.handleCardOverlay(args)
	case "card_edges":
		return s.handleCardEdges(args)
	case "card_read_title":
		return s.handleCardReadTitle(ctx, args)

	// Events
	case "events_poll":
		return s.handleEventsPoll(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Detector Lifecycle Handlers ===

type detectorInitArgs struct {
	Detector  string          `json:"detector"`
	ModelPath string          `json:"model_path"`
	Device    string          `json:"device"`
	Config    json.RawMessage `json:"config"`
}

type detectorStatusResult struct {
	Detector  string           `json:"detector"`
	Status    detection.Status `json:"status"`
	Busy      bool             `json:"busy"`
	Frames    int              `json:"frames"`
	Capturing bool             `json:"capturing"`
	LastError string           `json:"last_error,omitempty"`
}

// detectorOptions merges tool arguments over the configured backend
// settings.
func (s *Server) detectorOptions(a detectorInitArgs) (detection.Options, error) {
	opts := s.cfg.DetectorOptions()
	if a.ModelPath != "" {
		opts.Box.ModelPath = a.ModelPath
	}
	if a.Device != "" {
		opts.Box.Device = a.Device
	}
	if len(a.Config) == 0 {
		return opts, nil
	}

	var target interface{}
	switch a.Detector {
	case detection.TagContour:
		cfg := detection.DefaultContourConfig()
		opts.Contour = &cfg
		target = opts.Contour
	case detection.TagBox:
		target = opts.Box
	case detection.TagSegment:
		target = opts.Segment
	default:
		return opts, fmt.Errorf("%w: %q", detection.ErrUnknownBackend, a.Detector)
	}
	if err := json.Unmarshal(a.Config, target); err != nil {
		return opts, fmt.Errorf("invalid %s config: %w", a.Detector, err)
	}
	return opts, nil
}

func (s *Server) handleDetectorInit(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectorInitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Detector == "" {
		a.Detector = s.cfg.Detector
	}
	opts, err := s.detectorOptions(a)
	if err != nil {
		return nil, err
	}

	if _, err := s.session.UseDetector(ctx, a.Detector, opts); err != nil {
		var ie *detection.InitError
		if errors.As(err, &ie) {
			return nil, fmt.Errorf("%w (%s)", err, detection.RemediationMessage(ie.Cause))
		}
		return nil, err
	}
	return s.handleDetectorStatus()
}

func (s *Server) handleDetectorStatus() (interface{}, error) {
	res := detectorStatusResult{
		Status:    detection.StatusUninitialized,
		Busy:      s.session.Orchestrator().Busy(),
		Frames:    s.session.Buffer().Len(),
		Capturing: s.session.Running(),
	}
	if d := s.session.Orchestrator().Detector(); d != nil {
		res.Detector = d.Name()
		res.Status = d.Status()
		if le, ok := d.(interface{ LastError() error }); ok && le.LastError() != nil {
			res.LastError = le.LastError().Error()
		}
	}
	return res, nil
}

func (s *Server) handleDetectorDispose() (interface{}, error) {
	name := ""
	if d := s.session.Orchestrator().Detector(); d != nil {
		name = d.Name()
	}
	s.session.Orchestrator().SetDetector(nil)
	return map[string]interface{}{"disposed": name}, nil
}

// === Frame Handlers ===

type framePushArgs struct {
	ImageBase64 string `json:"image_base64"`
	Path        string `json:"path"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type framePushResult struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Sharpness   float64 `json:"sharpness"`
	TimestampMs int64   `json:"timestamp_ms"`
	Frames      int     `json:"frames"`
}

func (s *Server) loadImage(b64, path string) (image.Image, error) {
	switch {
	case b64 != "":
		return imaging.DecodeBase64(b64)
	case path != "":
		return s.cache.Load(path)
	default:
		return nil, errors.New("one of image_base64 or path is required")
	}
}

func (s *Server) handleFramePush(args json.RawMessage) (interface{}, error) {
	var a framePushArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.loadImage(a.ImageBase64, a.Path)
	if err != nil {
		return nil, err
	}
	if a.Path != "" {
		// Frames are copied into the buffer; keep the cache small.
		defer s.cache.Evict(a.Path)
	}
	if a.TimestampMs <= 0 {
		a.TimestampMs = time.Now().UnixMilli()
	}
	sharp := s.session.PushFrame(img, a.TimestampMs)
	return framePushResult{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		Sharpness:   sharp,
		TimestampMs: a.TimestampMs,
		Frames:      s.session.Buffer().Len(),
	}, nil
}

type captureStartArgs struct {
	Dir    string `json:"dir"`
	Loop   bool   `json:"loop"`
	Webcam *int   `json:"webcam"`
}

func (s *Server) handleCaptureStart(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a captureStartArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	var src pipeline.FrameSource
	source := ""
	switch {
	case a.Webcam != nil:
		cam, err := pipeline.OpenWebcam(*a.Webcam)
		if err != nil {
			return nil, err
		}
		src, source = cam, fmt.Sprintf("webcam %d", *a.Webcam)
	case a.Dir != "":
		dir, err := pipeline.NewDirSource(a.Dir, s.cache, a.Loop)
		if err != nil {
			return nil, err
		}
		src, source = dir, a.Dir
	default:
		return nil, errors.New("one of dir or webcam is required")
	}

	// The loop outlives this call; it ends with the server or capture_stop.
	if err := s.session.Start(context.WithoutCancel(ctx), src); err != nil {
		src.Close()
		return nil, err
	}
	return map[string]interface{}{"capturing": true, "source": source}, nil
}

func (s *Server) handleCaptureStop() (interface{}, error) {
	s.session.Stop()
	s.cardMu.Lock()
	s.card = nil
	s.cardMu.Unlock()
	return map[string]interface{}{"capturing": false}, nil
}

// === Detection Handlers ===

type pointArgs struct {
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	TimestampMs int64    `json:"timestamp_ms"`
}

func (a pointArgs) point() (*geometry.Point, error) {
	if a.X == nil && a.Y == nil {
		return nil, nil
	}
	if a.X == nil || a.Y == nil {
		return nil, errors.New("x and y must be given together")
	}
	p := geometry.Pt(*a.X, *a.Y)
	return &p, nil
}

func (s *Server) handleCardDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a pointArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	prompt, err := a.point()
	if err != nil {
		return nil, err
	}
	return s.session.Detect(ctx, prompt, a.TimestampMs)
}

type cardClickArgs struct {
	pointArgs
	IncludeImage *bool `json:"include_image"`
}

type cardClickResult struct {
	Index     int                  `json:"index"`
	Score     float64              `json:"score"`
	Method    string               `json:"method"`
	Candidate detection.Candidate  `json:"candidate"`
	Frame     clickFrame           `json:"frame"`
	Image     *imaging.ImageResult `json:"image,omitempty"`
}

type clickFrame struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Sharpness   float64 `json:"sharpness"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Candidates  int     `json:"candidates"`
}

func (s *Server) handleCardClick(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a cardClickArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	click, err := a.point()
	if err != nil {
		return nil, err
	}
	if click == nil {
		return nil, errors.New("x and y are required")
	}

	res, err := s.session.HandleClick(ctx, *click, a.TimestampMs)
	if err != nil {
		return nil, err
	}
	s.cardMu.Lock()
	s.card = res
	s.cardMu.Unlock()

	out := cardClickResult{
		Index:     res.Selection.Index,
		Score:     res.Selection.Score.Total,
		Method:    string(res.Method),
		Candidate: res.Candidate,
		Frame: clickFrame{
			TimestampMs: res.Detection.TimestampMs,
			Sharpness:   res.Detection.Sharpness,
			Width:       res.Detection.Width,
			Height:      res.Detection.Height,
			Candidates:  len(res.Detection.Result.Candidates),
		},
	}
	if a.IncludeImage == nil || *a.IncludeImage {
		if out.Image, err = imaging.EncodePNG(res.Image); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type cardOverlayArgs struct {
	Highlight *int   `json:"highlight"`
	Color     string `json:"color"`
	Thickness int    `json:"thickness"`
}

func (s *Server) handleCardOverlay(args json.RawMessage) (interface{}, error) {
	var a cardOverlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	det, frame, ok := s.session.LastDetection()
	if !ok {
		return nil, errors.New("no detection yet: call card_detect or card_click first")
	}

	shapes := make([]imaging.OverlayShape, len(det.Result.Candidates))
	for i, c := range det.Result.Candidates {
		shapes[i] = imaging.OverlayShape{
			Quad:  c.Polygon,
			Box:   c.Box.ImageRect(det.Width, det.Height),
			Label: fmt.Sprintf("%d %.0f%%", i, c.Score*100),
		}
	}
	opts := imaging.OverlayOptions{Highlight: -1, HighlightColor: a.Color, Thickness: a.Thickness}
	if a.Highlight != nil {
		opts.Highlight = *a.Highlight
	}
	return imaging.EncodePNG(imaging.Overlay(frame, shapes, opts))
}

type cardEdgesArgs struct {
	TimestampMs int64    `json:"timestamp_ms"`
	Low         *float64 `json:"low"`
	High        *float64 `json:"high"`
	Raw         bool     `json:"raw"`
}

func (s *Server) handleCardEdges(args json.RawMessage) (interface{}, error) {
	var a cardEdgesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	rec, err := s.session.Frame(a.TimestampMs)
	if err != nil {
		return nil, err
	}
	opts := imaging.DefaultEdgeOptions()
	if a.Low != nil {
		opts.CannyLow = *a.Low
	}
	if a.High != nil {
		opts.CannyHigh = *a.High
	}
	if opts.CannyLow >= opts.CannyHigh {
		return nil, fmt.Errorf("low threshold %.0f must be below high threshold %.0f", opts.CannyLow, opts.CannyHigh)
	}
	closed, raw := imaging.EdgeMap(s.session.Primitives(), rec.Image, opts)
	if a.Raw {
		return imaging.EncodePNG(raw)
	}
	return imaging.EncodePNG(closed)
}

type cardReadTitleArgs struct {
	ImageBase64 string `json:"image_base64"`
	Path        string `json:"path"`
}

func (s *Server) handleCardReadTitle(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a cardReadTitleArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	var card image.Image
	if a.ImageBase64 != "" || a.Path != "" {
		img, err := s.loadImage(a.ImageBase64, a.Path)
		if err != nil {
			return nil, err
		}
		card = img
	} else {
		s.cardMu.Lock()
		last := s.card
		s.cardMu.Unlock()
		if last == nil {
			return nil, errors.New("no exported card: call card_click first or pass an image")
		}
		card = last.Image
	}
	return s.reader.ReadTitle(ctx, card)
}

// === Event Handlers ===

type eventsPollArgs struct {
	Max int `json:"max"`
}

func (s *Server) handleEventsPoll(args json.RawMessage) (interface{}, error) {
	var a eventsPollArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	q := s.session.Events()
	return map[string]interface{}{
		"events":  q.Poll(a.Max),
		"dropped": q.Dropped(),
	}, nil
}
