// Package framebuffer keeps the most recent video frames so a click can be
// resolved against the sharpest frame near the moment it happened.
package framebuffer

import (
	"image"
	"image/draw"
	"sync"
)

// DefaultCapacity is the number of frames kept when New is given a
// non-positive capacity.
const DefaultCapacity = 6

// FrameRecord is one buffered frame.
//
// Image is owned by the record: it is never shared with the frame source or
// with other readers, and callers may keep or modify it freely.
type FrameRecord struct {
	Image       *image.RGBA
	TimestampMs int64
	Sharpness   float64
}

// slot is a pre-allocated buffer position. pix is reused across frames of
// the same size.
type slot struct {
	pix         *image.RGBA
	timestampMs int64
	sharpness   float64
}

// Buffer is a fixed-capacity circular buffer of frames.
//
// Add copies the frame into a reusable slot, overwriting the oldest frame
// once the buffer is full. Slot replacement happens under a lock, so a
// reader never observes a partially written frame. Readers receive copies.
//
// Buffer is safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	slots []slot
	next  int // index of the slot the next Add writes
	count int
}

// New creates a buffer holding up to capacity frames.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{slots: make([]slot, capacity)}
}

// Cap returns the buffer's capacity.
func (b *Buffer) Cap() int {
	return len(b.slots)
}

// Len returns the number of frames currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Add stores a copy of img. When the buffer is full the oldest frame is
// overwritten. The slot's pixel buffer is reused when the frame size is
// unchanged, so steady-state sampling does not allocate.
func (b *Buffer) Add(img image.Image, timestampMs int64, sharpness float64) {
	bounds := img.Bounds()
	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())

	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.slots[b.next]
	if s.pix == nil || s.pix.Rect != rect {
		s.pix = image.NewRGBA(rect)
	}
	draw.Draw(s.pix, rect, img, bounds.Min, draw.Src)
	s.timestampMs = timestampMs
	s.sharpness = sharpness

	b.next = (b.next + 1) % len(b.slots)
	if b.count < len(b.slots) {
		b.count++
	}
}

// GetSharpest returns the frame with the highest sharpness whose timestamp
// is within windowMs of referenceMs (inclusive). ok is false when no frame
// falls in the window; callers then fall back to MostRecent.
//
// Ties keep the newer frame.
func (b *Buffer) GetSharpest(referenceMs, windowMs int64) (rec FrameRecord, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	best := -1
	for i := 0; i < b.count; i++ {
		idx := b.indexFromNewest(i)
		s := &b.slots[idx]
		d := s.timestampMs - referenceMs
		if d < 0 {
			d = -d
		}
		if d > windowMs {
			continue
		}
		if best < 0 || s.sharpness > b.slots[best].sharpness {
			best = idx
		}
	}
	if best < 0 {
		return FrameRecord{}, false
	}
	return b.record(best), true
}

// MostRecent returns the newest frame regardless of time.
func (b *Buffer) MostRecent() (FrameRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return FrameRecord{}, false
	}
	return b.record(b.indexFromNewest(0)), true
}

// GetAll returns copies of every held frame, oldest first.
func (b *Buffer) GetAll() []FrameRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]FrameRecord, 0, b.count)
	for i := b.count - 1; i >= 0; i-- {
		out = append(out, b.record(b.indexFromNewest(i)))
	}
	return out
}

// Clear empties the buffer. Slots and their pixel buffers are kept for
// reuse.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.slots {
		b.slots[i].timestampMs = 0
		b.slots[i].sharpness = 0
	}
	b.next = 0
	b.count = 0
}

// indexFromNewest maps age (0 = newest) to a slot index. Caller holds mu.
func (b *Buffer) indexFromNewest(age int) int {
	n := len(b.slots)
	return ((b.next-1-age)%n + n) % n
}

// record copies slot idx into a FrameRecord. Caller holds mu.
func (b *Buffer) record(idx int) FrameRecord {
	s := &b.slots[idx]
	img := image.NewRGBA(s.pix.Rect)
	copy(img.Pix, s.pix.Pix)
	return FrameRecord{
		Image:       img,
		TimestampMs: s.timestampMs,
		Sharpness:   s.sharpness,
	}
}
