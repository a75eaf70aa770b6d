package pipeline

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/ironsheep/card-detect-mcp/internal/imaging"
)

// FrameSource yields video frames to the sampling loop.
type FrameSource interface {
	// Next returns the next frame. io.EOF ends the stream.
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// DirSource replays the image files of a directory in name order.
type DirSource struct {
	cache *imaging.ImageCache
	loop  bool

	mu    sync.Mutex
	paths []string
	next  int
}

var _ FrameSource = (*DirSource)(nil)

// NewDirSource lists the frames in dir. With loop set the sequence restarts
// after the last file instead of ending. A nil cache gets a private one.
func NewDirSource(dir string, cache *imaging.ImageCache, loop bool) (*DirSource, error) {
	paths, err := imaging.ListFrames(dir)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = imaging.NewImageCache()
	}
	return &DirSource{cache: cache, loop: loop, paths: paths}, nil
}

// Len returns the number of frames in the sequence.
func (s *DirSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

func (s *DirSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.next >= len(s.paths) {
		if !s.loop || len(s.paths) == 0 {
			s.mu.Unlock()
			return nil, io.EOF
		}
		s.next = 0
	}
	path := s.paths[s.next]
	s.next++
	s.mu.Unlock()

	return s.cache.Load(path)
}

// Close drops the decoded frames of this sequence from the cache.
func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paths {
		s.cache.Evict(p)
	}
	s.next = len(s.paths)
	s.loop = false
	return nil
}
