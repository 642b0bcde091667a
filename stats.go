package kyfg

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Stats are acquisition counters of a stream.
type Stats struct {
	// Frames written into the ring.
	Completed uint64
	// Frames lost to overrun, either overwritten before being captured or
	// discarded because every slot was held. Never decreases.
	Dropped uint64
	// Frames dropped since the last successful Capture.
	DroppedSinceCapture uint64
	// Frames the SDK marked incomplete, or delivered with the wrong size.
	Incomplete uint64

	// Mean and standard deviation of the instantaneous frame rate over the
	// most recent frames.
	FPSMean   float64
	FPSStdDev float64
}

func (s Stats) String() string {
	return fmt.Sprintf("completed %d, dropped %d (%d since capture), incomplete %d, fps %.2f±%.2f", s.Completed, s.Dropped, s.DroppedSinceCapture, s.Incomplete, s.FPSMean, s.FPSStdDev)
}

// fpsWindow keeps the last values of the instantaneous frame rate, as a
// circular buffer.
type fpsWindow struct {
	index  int
	count  int
	values []float64
}

func newFPSWindow(size int) *fpsWindow {
	if size <= 0 {
		size = 1
	}
	return &fpsWindow{values: make([]float64, size)}
}

func (w *fpsWindow) add(fps float64) {
	w.values[w.index] = fps
	w.index++
	if w.index >= len(w.values) {
		w.index = 0
	}
	if w.count < len(w.values) {
		w.count++
	}
}

// meanStdDev returns the mean and sample standard deviation of the values in
// the window. The deviation is 0 with fewer than two values.
func (w *fpsWindow) meanStdDev() (mean, stddev float64) {
	switch w.count {
	case 0:
		return 0, 0
	case 1:
		return w.values[0], 0
	}
	return stat.MeanStdDev(w.values[:w.count], nil)
}
