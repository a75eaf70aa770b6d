//go:build !gocv

package pipeline

import (
	"context"
	"errors"
	"image"
)

// ErrNoWebcam is returned by OpenWebcam in builds without OpenCV.
var ErrNoWebcam = errors.New("webcam capture requires OpenCV: rebuild with -tags gocv")

// WebcamSource is unavailable without OpenCV.
type WebcamSource struct{}

var _ FrameSource = (*WebcamSource)(nil)

// OpenWebcam always fails in builds without the gocv tag.
func OpenWebcam(id int) (*WebcamSource, error) {
	return nil, ErrNoWebcam
}

func (*WebcamSource) Next(ctx context.Context) (image.Image, error) { return nil, ErrNoWebcam }

func (*WebcamSource) Close() error { return nil }
