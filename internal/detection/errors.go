package detection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	// ErrNotInitialized is returned by Detect before Initialize succeeded.
	ErrNotInitialized = errors.New("detector not initialized")

	// ErrMissingPrompt is returned by prompt-requiring backends when Detect
	// is called without a prompt point.
	ErrMissingPrompt = errors.New("detector requires a prompt point")

	// ErrLowQualityMask is returned when no mask reached the quality
	// threshold.
	ErrLowQualityMask = errors.New("segmentation mask below quality threshold")

	// ErrQuadExtractionFailed is returned when a usable mask did not reduce
	// to a valid quadrilateral.
	ErrQuadExtractionFailed = errors.New("could not extract card quadrilateral from mask")

	// ErrUnknownBackend is returned by New for an unrecognized tag.
	ErrUnknownBackend = errors.New("unknown detector backend")
)

// InitCause classifies why a backend failed to initialize.
type InitCause string

const (
	CauseNetwork   InitCause = "network"
	CauseHardware  InitCause = "hardware_acceleration"
	CauseModelLoad InitCause = "model_load"
	CauseUnknown   InitCause = "unknown"
)

// InitError wraps a backend initialization failure with its classified
// cause.
type InitError struct {
	Backend string
	Cause   InitCause
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s backend failed to initialize (%s): %v", e.Backend, e.Cause, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// newInitError wraps err, classifying it unless it already is an InitError.
func newInitError(backend string, err error) error {
	var ie *InitError
	if errors.As(err, &ie) {
		return err
	}
	return &InitError{Backend: backend, Cause: ClassifyInitError(err), Err: err}
}

var (
	hardwareHints = []string{"gpu", "cuda", "opencl", "vulkan", "webgl", "webgpu", "acceleration", "device"}
	networkHints  = []string{"network", "connection", "dial", "fetch", "timeout", "unreachable", "no such host"}
)

// ClassifyInitError maps an initialization error to a cause. It is a
// presentation aid and does not affect recovery.
func ClassifyInitError(err error) InitCause {
	if err == nil {
		return CauseUnknown
	}
	var ie *InitError
	if errors.As(err, &ie) {
		return ie.Cause
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return CauseNetwork
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return CauseModelLoad
	}

	msg := strings.ToLower(err.Error())
	for _, h := range hardwareHints {
		if strings.Contains(msg, h) {
			return CauseHardware
		}
	}
	for _, h := range networkHints {
		if strings.Contains(msg, h) {
			return CauseNetwork
		}
	}
	if strings.Contains(msg, "model") {
		return CauseModelLoad
	}
	return CauseUnknown
}

// RemediationMessage returns a user-facing suggestion for a cause.
func RemediationMessage(cause InitCause) string {
	switch cause {
	case CauseNetwork:
		return "The detector model could not be downloaded. Check the network connection and try again."
	case CauseHardware:
		return "Hardware acceleration is unavailable. Switch the device to cpu or choose the contour detector."
	case CauseModelLoad:
		return "The detector model could not be loaded. Check the model path and file permissions."
	default:
		return "The detector failed to start. Try the contour detector, which needs no model."
	}
}
