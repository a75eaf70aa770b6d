package detection

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// lifecycle implements the shared status machine of every backend.
//
// Concurrent Initialize calls are coalesced with singleflight into one
// load. loadMu is held for the duration of a load and of a dispose, so a
// dispose issued mid-load waits for the load to finish and then releases
// what it acquired.
type lifecycle struct {
	name   string
	group  singleflight.Group
	loadMu sync.Mutex

	mu     sync.RWMutex
	status Status
	err    error
}

// initialize runs load once and records the outcome. A ready detector
// returns immediately.
func (l *lifecycle) initialize(ctx context.Context, load func(context.Context) error) error {
	if l.Status() == StatusReady {
		return nil
	}

	_, err, _ := l.group.Do("init", func() (any, error) {
		l.loadMu.Lock()
		defer l.loadMu.Unlock()

		if l.Status() == StatusReady {
			return nil, nil
		}
		l.setStatus(StatusLoading, nil)

		if err := load(ctx); err != nil {
			err = newInitError(l.name, err)
			l.setStatus(StatusError, err)
			return nil, err
		}
		l.setStatus(StatusReady, nil)
		return nil, nil
	})
	return err
}

// dispose waits for any in-flight load, runs release, and resets status.
func (l *lifecycle) dispose(release func()) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	if release != nil {
		release()
	}
	l.setStatus(StatusUninitialized, nil)
}

// ready returns ErrNotInitialized unless the detector is ready.
func (l *lifecycle) ready() error {
	if l.Status() != StatusReady {
		return ErrNotInitialized
	}
	return nil
}

func (l *lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.status == "" {
		return StatusUninitialized
	}
	return l.status
}

// LastError returns the error recorded by the last failed load.
func (l *lifecycle) LastError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

func (l *lifecycle) setStatus(s Status, err error) {
	l.mu.Lock()
	l.status = s
	l.err = err
	l.mu.Unlock()
}
