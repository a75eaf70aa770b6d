// Package pipeline ties the frame buffer, detectors, click selection and
// export into a capture session.
//
// A Session owns all mutable state of one capture: the rolling frame buffer
// fed by a sampling loop, the Orchestrator holding the active detector, the
// click debounce, and the event queue the client polls. Sessions are
// created when capture starts and torn down with Stop.
//
// Concurrency rules:
//   - at most one detection runs at a time; others fail with ErrBusy
//   - clicks inside the debounce window or during a click fail with
//     ErrDebounced
//   - replacing the detector waits for a running detection, then disposes
//     the old detector before returning
package pipeline

import (
	"io"

	"github.com/sirupsen/logrus"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
