// Package detection finds trading cards in video frames.
//
// Three interchangeable backends implement the Detector interface and are
// built by tag through New:
//
//   - contour: Canny edges, outer contours and quad approximation, with an
//     adaptive region-of-interest search around a click point
//   - box: an object-detection network whose boxes are filtered by class,
//     size and aspect ratio
//   - segment: a promptable segmentation mask reduced to a quad and warped
//     to the canonical card image
//
// # Lifecycle
//
// Every backend moves uninitialized -> loading -> ready (or error).
// Concurrent Initialize calls share one load. Detect before ready fails with
// ErrNotInitialized. Dispose waits for an in-flight load and then releases
// everything the backend holds.
//
// Initialization failures are wrapped in *InitError with a cause from
// ClassifyInitError; RemediationMessage turns the cause into advice.
//
// # Prompts
//
// Backends implementing PromptSetter take a click point in frame
// coordinates. The prompt applies to the next Detect call only. The segment
// backend also implements PromptRequirer and fails with ErrMissingPrompt
// without one.
//
// # Adaptive ROI Search
//
// The contour backend searches squares centred on the click, of side
// InitialROISize * ROIGrowth^i for pass i, capped at the frame's longest
// side. It stops at the first pass whose best candidate reaches
// QualityThreshold. When no pass reaches it the candidate list is empty.
// Result.SearchPasses reports how many passes ran.
//
// # Coordinates
//
// Candidate boxes are normalized to [0,1]. Polygons are in frame pixels,
// ordered top-left, top-right, bottom-right, bottom-left.
package detection
