//go:build gocv

package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ironsheep/card-detect-mcp/pkg/geometry"
)

// dnnBoxModel runs an SSD-style detection network through OpenCV's DNN
// module. The network output is the usual [1,1,N,7] tensor of
// (image, class, score, x1, y1, x2, y2) rows with normalized coordinates.
type dnnBoxModel struct {
	cfg BoxConfig

	mu  sync.Mutex
	net *gocv.Net
}

// NewDNNBoxModel returns the OpenCV DNN runtime for cfg.
func NewDNNBoxModel(cfg BoxConfig) BoxModel {
	return &dnnBoxModel{cfg: cfg}
}

func (m *dnnBoxModel) Load(ctx context.Context, progress ProgressFunc) error {
	if m.cfg.ModelPath == "" {
		return &InitError{Backend: TagBox, Cause: CauseModelLoad, Err: errors.New("box model path not configured")}
	}
	if _, err := os.Stat(m.cfg.ModelPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	report(progress, Progress{Backend: TagBox, Stage: "read_net", Fraction: 0.3})
	net := gocv.ReadNet(m.cfg.ModelPath, m.cfg.ConfigPath)
	if net.Empty() {
		_ = net.Close()
		return fmt.Errorf("model %s could not be read", m.cfg.ModelPath)
	}

	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	switch strings.ToLower(m.cfg.Device) {
	case "cuda":
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case "opencl":
		target = gocv.NetTargetFP32
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		_ = net.Close()
		return fmt.Errorf("device %s: %w", m.cfg.Device, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		_ = net.Close()
		return fmt.Errorf("device %s: %w", m.cfg.Device, err)
	}
	report(progress, Progress{Backend: TagBox, Stage: "read_net", Fraction: 0.9})

	m.mu.Lock()
	m.net = &net
	m.mu.Unlock()
	return nil
}

func (m *dnnBoxModel) Infer(ctx context.Context, img image.Image) ([]RawBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net == nil {
		return nil, ErrNotInitialized
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	size := m.cfg.InputSize
	if size <= 0 {
		size = 300
	}
	blob := gocv.BlobFromImage(src, 1.0/127.5, image.Pt(size, size), gocv.NewScalar(127.5, 127.5, 127.5, 0), false, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	det := m.net.Forward("")
	defer det.Close()

	var out []RawBox
	for i := 0; i+6 < det.Total(); i += 7 {
		score := float64(det.GetFloatAt(0, i+2))
		if score <= 0 {
			continue
		}
		class := int(det.GetFloatAt(0, i+1))
		box := geometry.BoundingBox{
			XMin: clampScore(float64(det.GetFloatAt(0, i+3))),
			YMin: clampScore(float64(det.GetFloatAt(0, i+4))),
			XMax: clampScore(float64(det.GetFloatAt(0, i+5))),
			YMax: clampScore(float64(det.GetFloatAt(0, i+6))),
		}
		out = append(out, RawBox{Box: box, Score: score, Label: m.label(class)})
	}
	return out, nil
}

func (m *dnnBoxModel) label(class int) string {
	if class >= 0 && class < len(m.cfg.Labels) {
		return m.cfg.Labels[class]
	}
	return fmt.Sprintf("class_%d", class)
}

func (m *dnnBoxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net == nil {
		return nil
	}
	err := m.net.Close()
	m.net = nil
	return err
}
