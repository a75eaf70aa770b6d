package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

var timestampProp = prop("integer", "Frame time in Unix milliseconds. The sharpest buffered frame within the sharpest window of this time is used. Default: now")

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Detector lifecycle
		{
			Name:        "detector_init",
			Description: "Create and initialize a card detector backend, replacing the active one. Loading progress is reported as notifications and events. Failures carry a remediation hint.",
			InputSchema: objectSchema(map[string]interface{}{
				"detector": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"contour", "box", "segment"},
					"description": "Backend: contour (edge contours with adaptive ROI search), box (object detector network), segment (click-prompted segmentation). Default from CARD_MCP_DETECTOR",
				},
				"model_path": prop("string", "Network file for the box backend"),
				"device":     prop("string", "Device hint for the box backend: cpu, cuda or opencl"),
				"config":     prop("object", "Backend configuration overriding the defaults, using the backend's JSON field names"),
			}),
		},
		{
			Name:        "detector_status",
			Description: "Report the active detector, its lifecycle status, whether a detection is running, and the number of buffered frames.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "detector_dispose",
			Description: "Release the active detector and its model resources.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},

		// Frames
		{
			Name:        "frame_push",
			Description: "Add a video frame to the rolling frame buffer and return its sharpness score. Pass either base64 image data or a file path.",
			InputSchema: objectSchema(map[string]interface{}{
				"image_base64": prop("string", "Base64 PNG or JPEG data, optionally as a data URL"),
				"path":         prop("string", "Absolute path to an image file"),
				"timestamp_ms": prop("integer", "Capture time in Unix milliseconds. Default: now"),
			}),
		},
		{
			Name:        "capture_start",
			Description: "Start sampling frames into the buffer from a directory of images (played in name order) or a webcam.",
			InputSchema: objectSchema(map[string]interface{}{
				"dir":    prop("string", "Directory of frame images"),
				"loop":   prop("boolean", "Restart from the first image at the end of the directory"),
				"webcam": prop("integer", "Webcam device id (requires a build with OpenCV)"),
			}),
		},
		{
			Name:        "capture_stop",
			Description: "Stop sampling, dispose the detector and clear the frame buffer.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},

		// Detection
		{
			Name:        "card_detect",
			Description: "Run the active detector on the sharpest recent frame and return card candidates with normalized boxes, scores and corner polygons in frame pixels. An optional point narrows the search around it and is required by the segment backend.",
			InputSchema: objectSchema(map[string]interface{}{
				"x":            prop("number", "Prompt X in frame pixels"),
				"y":            prop("number", "Prompt Y in frame pixels"),
				"timestamp_ms": timestampProp,
			}),
		},
		{
			Name:        "card_click",
			Description: "Handle a user click: detect cards around the click, pick the clicked card, and return it perspective-corrected to the canonical 63x88 card shape as a PNG. Clicks within the debounce window of the previous one are rejected.",
			InputSchema: objectSchema(map[string]interface{}{
				"x":             prop("number", "Click X in frame pixels"),
				"y":             prop("number", "Click Y in frame pixels"),
				"timestamp_ms":  timestampProp,
				"include_image": prop("boolean", "Return the card image. Default: true"),
			}, "x", "y"),
		},
		{
			Name:        "card_overlay",
			Description: "Draw the candidates of the last detection over its frame, each outline labelled with its index and score.",
			InputSchema: objectSchema(map[string]interface{}{
				"highlight": prop("integer", "Candidate index drawn with the highlight colour"),
				"color":     prop("string", "Highlight colour as #RRGGBB. Default: white"),
				"thickness": prop("integer", "Outline thickness in pixels. Default: 2"),
			}),
		},
		{
			Name:        "card_edges",
			Description: "Return the edge map the contour detector searches, for tuning thresholds on a difficult scene.",
			InputSchema: objectSchema(map[string]interface{}{
				"timestamp_ms": timestampProp,
				"low":          prop("number", "Canny low threshold. Default: 50"),
				"high":         prop("number", "Canny high threshold. Default: 150"),
				"raw":          prop("boolean", "Return the edges before gap closing"),
			}),
		},
		{
			Name:        "card_read_title",
			Description: "Read the title line of the last exported card (or of a given card image) with OCR, matched against the card catalog when one is configured.",
			InputSchema: objectSchema(map[string]interface{}{
				"image_base64": prop("string", "Canonical card image as base64"),
				"path":         prop("string", "Absolute path to a canonical card image"),
			}),
		},

		// Events
		{
			Name:        "events_poll",
			Description: "Return and remove queued session events (progress, status, candidates, cropped, error) in order.",
			InputSchema: objectSchema(map[string]interface{}{
				"max": prop("integer", "Maximum number of events. Default: all"),
			}),
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
