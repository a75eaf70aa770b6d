//go:build gocv

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// WebcamSource reads frames from a capture device through OpenCV.
type WebcamSource struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

var _ FrameSource = (*WebcamSource)(nil)

// OpenWebcam opens capture device id.
func OpenWebcam(id int) (*WebcamSource, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", id, err)
	}
	return &WebcamSource{cap: vc, mat: gocv.NewMat()}, nil
}

func (w *WebcamSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil, errors.New("capture device closed")
	}
	if ok := w.cap.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, errors.New("capture device returned no frame")
	}
	return w.mat.ToImage()
}

func (w *WebcamSource) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil
	}
	err := w.cap.Close()
	w.mat.Close()
	w.cap = nil
	return err
}
