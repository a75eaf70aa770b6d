// Package config loads server settings from CARD_MCP_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/detection"
	"github.com/ironsheep/card-detect-mcp/internal/pipeline"
)

// Config holds the server settings.
type Config struct {
	Detector       string
	BufferCapacity int
	SharpestWindow time.Duration
	ClickDebounce  time.Duration
	SampleInterval time.Duration
	OutputWidth    int
	OutputHeight   int
	CanvasSize     int
	EventQueue     int
	BoxModel       string
	Device         string

	// Catalog is a file of known card names for title matching.
	Catalog string

	// Tessdata overrides the Tesseract data directory.
	Tessdata string

	LogLevel  string
	LogFormat string
}

// Default returns the settings used when no variables are set.
func Default() *Config {
	return &Config{
		Detector:       detection.TagContour,
		BufferCapacity: 6,
		SharpestWindow: 500 * time.Millisecond,
		ClickDebounce:  2 * time.Second,
		SampleInterval: 100 * time.Millisecond,
		OutputWidth:    336,
		OutputHeight:   469,
		CanvasSize:     469,
		EventQueue:     64,
		Device:         "cpu",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv. Unset or empty
// variables keep their defaults.
func LoadFrom(getenv func(string) string) (*Config, error) {
	c := Default()
	l := loader{getenv: getenv}

	l.str("CARD_MCP_DETECTOR", &c.Detector)
	l.positive("CARD_MCP_BUFFER_CAPACITY", &c.BufferCapacity)
	l.duration("CARD_MCP_SHARPEST_WINDOW", &c.SharpestWindow, false)
	l.duration("CARD_MCP_CLICK_DEBOUNCE", &c.ClickDebounce, true)
	l.duration("CARD_MCP_SAMPLE_INTERVAL", &c.SampleInterval, false)
	l.positive("CARD_MCP_OUTPUT_WIDTH", &c.OutputWidth)
	l.positive("CARD_MCP_OUTPUT_HEIGHT", &c.OutputHeight)
	l.positive("CARD_MCP_CANVAS_SIZE", &c.CanvasSize)
	l.positive("CARD_MCP_EVENT_QUEUE", &c.EventQueue)
	l.str("CARD_MCP_BOX_MODEL", &c.BoxModel)
	l.str("CARD_MCP_DEVICE", &c.Device)
	l.str("CARD_MCP_CATALOG", &c.Catalog)
	l.str("CARD_MCP_TESSDATA", &c.Tessdata)
	l.str("CARD_MCP_LOG_LEVEL", &c.LogLevel)
	l.str("CARD_MCP_LOG_FORMAT", &c.LogFormat)
	if l.err != nil {
		return nil, l.err
	}

	c.Detector = strings.ToLower(c.Detector)
	c.Device = strings.ToLower(c.Device)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that parse but make no sense together.
func (c *Config) Validate() error {
	if !slices.Contains(detection.Tags(), c.Detector) {
		return fmt.Errorf("CARD_MCP_DETECTOR: unknown detector %q (known: %s)", c.Detector, strings.Join(detection.Tags(), ", "))
	}
	switch c.Device {
	case "cpu", "cuda", "opencl":
	default:
		return fmt.Errorf("CARD_MCP_DEVICE: unknown device %q", c.Device)
	}
	if c.CanvasSize < max(c.OutputWidth, c.OutputHeight) {
		return fmt.Errorf("CARD_MCP_CANVAS_SIZE: %d is smaller than the %dx%d card", c.CanvasSize, c.OutputWidth, c.OutputHeight)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("CARD_MCP_LOG_LEVEL: %w", err)
	}
	return nil
}

// DetectorOptions returns backend configurations reflecting the settings.
// Backends not affected by any setting keep their defaults.
func (c *Config) DetectorOptions() detection.Options {
	box := detection.DefaultBoxConfig()
	box.ModelPath = c.BoxModel
	box.Device = c.Device

	seg := detection.DefaultSegmentConfig()
	seg.CardWidth, seg.CardHeight = c.OutputWidth, c.OutputHeight
	seg.CanvasSize = c.CanvasSize

	return detection.Options{Box: &box, Segment: &seg}
}

// SessionOptions returns capture session options reflecting the settings.
func (c *Config) SessionOptions(log logrus.FieldLogger) pipeline.Options {
	debounce := c.ClickDebounce
	if debounce == 0 {
		// Options treats 0 as "use the default".
		debounce = -1
	}
	return pipeline.Options{
		BufferCapacity: c.BufferCapacity,
		SharpestWindow: c.SharpestWindow,
		ClickDebounce:  debounce,
		SampleInterval: c.SampleInterval,
		EventCapacity:  c.EventQueue,
		OutputWidth:    c.OutputWidth,
		OutputHeight:   c.OutputHeight,
		Logger:         log,
	}
}

type loader struct {
	getenv func(string) string
	err    error
}

func (l *loader) lookup(key string) (string, bool) {
	if l.err != nil {
		return "", false
	}
	v := strings.TrimSpace(l.getenv(key))
	return v, v != ""
}

func (l *loader) str(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *loader) positive(key string, dst *int) {
	v, ok := l.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		l.err = fmt.Errorf("%s: want a positive integer, got %q", key, v)
		return
	}
	*dst = n
}

// duration accepts Go durations ("750ms") or plain milliseconds ("750").
func (l *loader) duration(key string, dst *time.Duration, allowZero bool) {
	v, ok := l.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		ms, convErr := strconv.Atoi(v)
		if convErr != nil {
			l.err = fmt.Errorf("%s: invalid duration %q", key, v)
			return
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d < 0 || (d == 0 && !allowZero) {
		l.err = fmt.Errorf("%s: duration %q out of range", key, v)
		return
	}
	*dst = d
}
