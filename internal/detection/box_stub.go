//go:build !gocv

package detection

import (
	"context"
	"errors"
	"image"
)

// errNoDNN is returned when the binary was built without OpenCV.
var errNoDNN = errors.New("dnn box model requires OpenCV: rebuild with -tags gocv")

// dnnBoxModel is a placeholder that fails to load without OpenCV.
type dnnBoxModel struct{}

// NewDNNBoxModel returns the OpenCV DNN runtime. In builds without the gocv
// tag Load always fails with a hardware-acceleration init error.
func NewDNNBoxModel(cfg BoxConfig) BoxModel {
	return dnnBoxModel{}
}

func (dnnBoxModel) Load(ctx context.Context, progress ProgressFunc) error {
	return &InitError{Backend: TagBox, Cause: CauseHardware, Err: errNoDNN}
}

func (dnnBoxModel) Infer(ctx context.Context, img image.Image) ([]RawBox, error) {
	return nil, errNoDNN
}

func (dnnBoxModel) Close() error { return nil }
