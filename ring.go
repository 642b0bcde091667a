package kyfg

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kyfg/kyfg-go/sdk"
)

type slotState int

const (
	slotFree  slotState = iota
	slotReady           // Completed, not yet captured.
	slotHeld            // Returned by the last capture.
)

type slot struct {
	state slotState
	data  []byte
	seq   uint64
	// gen changes whenever the slot is released, invalidating frames that
	// refer to it.
	gen uint64

	bufferID  uint32
	imageID   uint64
	timestamp uint64
	status    sdk.BufferStatus
}

// ring is the fixed set of buffers of a stream. The pump goroutine is the
// only producer, Capture the only consumer.
type ring struct {
	width  int
	height int
	format sdk.PixelFormat
	size   int // Bytes per slot.

	mu          sync.Mutex
	slots       []slot
	cursor      int // Where the search for a free slot starts.
	seq         uint64
	completed   uint64
	dropped     uint64
	droppedMark uint64 // Value of dropped at the last capture.
	incomplete  uint64
	lastTS      uint64
	fps         *fpsWindow
	err         error // From the producer, returned when too few frames are ready.
	closed      bool

	notify chan struct{} // Signalled after each completed frame.
	done   chan struct{} // Closed when the ring is closed.
}

func newRing(count, width, height int, format sdk.PixelFormat, size, fpsWindow int) *ring {
	r := &ring{
		width:  width,
		height: height,
		format: format,
		size:   size,
		slots:  make([]slot, count),
		fps:    newFPSWindow(fpsWindow),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range r.slots {
		r.slots[i].data = make([]byte, size)
	}
	return r
}

// put stores a completed buffer. It returns false if the buffer was rejected,
// because of its size or because no slot could take it.
func (r *ring) put(ev sdk.BufferEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if len(ev.Data) != r.size {
		r.incomplete++
		return false
	}

	i := r.freeSlot()
	if i < 0 {
		i = r.oldestReady()
		if i < 0 {
			// Every slot is held by the consumer.
			r.dropped++
			return false
		}
		r.dropped++
	}

	s := &r.slots[i]
	copy(s.data, ev.Data)
	r.seq++
	s.seq = r.seq
	s.state = slotReady
	s.bufferID = ev.ID
	s.imageID = ev.ImageID
	s.timestamp = ev.Timestamp
	s.status = ev.Status
	r.cursor = (i + 1) % len(r.slots)
	r.completed++
	if ev.Status != sdk.BufferComplete {
		r.incomplete++
	}

	fps := ev.InstantFPS
	if fps <= 0 && r.lastTS > 0 && ev.Timestamp > r.lastTS {
		fps = 1e9 / float64(ev.Timestamp-r.lastTS)
	}
	if fps > 0 {
		r.fps.add(fps)
	}
	r.lastTS = ev.Timestamp

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

func (r *ring) freeSlot() int {
	n := len(r.slots)
	for k := 0; k < n; k++ {
		i := (r.cursor + k) % n
		if r.slots[i].state == slotFree {
			return i
		}
	}
	return -1
}

func (r *ring) oldestReady() int {
	best := -1
	for i := range r.slots {
		s := &r.slots[i]
		if s.state == slotReady && (best < 0 || s.seq < r.slots[best].seq) {
			best = i
		}
	}
	return best
}

func (r *ring) releaseHeld() {
	for i := range r.slots {
		s := &r.slots[i]
		if s.state == slotHeld {
			s.state = slotFree
			s.gen++
		}
	}
}

// take releases the frames of the previous take, then waits until n frames
// are ready and returns the n oldest in completion order. Nothing is consumed
// when it fails.
func (r *ring) take(ctx context.Context, n int) ([]Frame, error) {
	r.mu.Lock()
	r.releaseHeld()
	for {
		if r.closed {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: stream is closed", ErrInvalidHandle)
		}

		var ready []int
		for i := range r.slots {
			if r.slots[i].state == slotReady {
				ready = append(ready, i)
			}
		}
		if len(ready) >= n {
			sort.Slice(ready, func(a, b int) bool {
				return r.slots[ready[a]].seq < r.slots[ready[b]].seq
			})
			frames := make([]Frame, n)
			for k, i := range ready[:n] {
				s := &r.slots[i]
				s.state = slotHeld
				frames[k] = Frame{
					Data:      s.data,
					Width:     r.width,
					Height:    r.height,
					Format:    r.format,
					FrameID:   s.imageID,
					BufferID:  s.bufferID,
					Timestamp: s.timestamp,
					Seq:       s.seq,
					Status:    s.status,
					ring:      r,
					slot:      i,
					gen:       s.gen,
				}
			}
			r.droppedMark = r.dropped
			r.mu.Unlock()
			return frames, nil
		}
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return nil, err
		}
		have := len(ready)
		r.mu.Unlock()

		select {
		case <-r.notify:
		case <-r.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %d of %d frames ready", translate(ctx.Err()), have, n)
		}
		r.mu.Lock()
	}
}

// fail records an error of the producer and wakes a waiting take.
func (r *ring) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// resume clears the producer error before acquisition restarts.
func (r *ring) resume() {
	r.mu.Lock()
	r.err = nil
	r.lastTS = 0
	r.mu.Unlock()
}

func (r *ring) valid(slot int, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || slot < 0 || slot >= len(r.slots) {
		return false
	}
	s := &r.slots[slot]
	return s.state == slotHeld && s.gen == gen
}

func (r *ring) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	mean, stddev := r.fps.meanStdDev()
	return Stats{
		Completed:           r.completed,
		Dropped:             r.dropped,
		DroppedSinceCapture: r.dropped - r.droppedMark,
		Incomplete:          r.incomplete,
		FPSMean:             mean,
		FPSStdDev:           stddev,
	}
}

// close discards the buffers and wakes a waiting take.
func (r *ring) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for i := range r.slots {
		r.slots[i].state = slotFree
		r.slots[i].gen++
		r.slots[i].data = nil
	}
	close(r.done)
}
