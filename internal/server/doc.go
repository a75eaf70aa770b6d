// Package server implements the MCP (Model Context Protocol) server for
// trading-card capture.
//
// The server exposes one capture session over JSON-RPC 2.0 on stdio. A
// client (a camera UI or an agent) feeds frames, picks a detector, and
// sends clicks; the server answers with card candidates and rectified
// card images.
//
// # Protocol
//
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses and notifications on stdout
//
// Supported MCP methods: initialize, tools/list, tools/call, ping.
// Session events are also pushed as notifications/message with the event
// as data, so a client sees detector loading progress without polling.
//
// # Available Tools
//
// Detector lifecycle:
//   - detector_init: Create and initialize a backend
//   - detector_status: Active backend and lifecycle status
//   - detector_dispose: Release the backend
//
// Frames:
//   - frame_push: Add one frame to the buffer
//   - capture_start / capture_stop: Sample frames from a directory or webcam
//
// Detection:
//   - card_detect: Candidates on the sharpest recent frame
//   - card_click: Select the clicked card and export it
//   - card_overlay: Candidates drawn over the frame
//   - card_edges: Edge map used by the contour backend
//   - card_read_title: OCR of the exported card's title
//
// Events:
//   - events_poll: Drain the event queue
//
// # Errors
//
// Tool failures are JSON-RPC errors with code -32000 and the error text in
// data. Detector initialization failures append a remediation hint for the
// classified cause.
package server
