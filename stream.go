package kyfg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyfg/kyfg-go/sdk"
)

// DefaultCaptureTimeout is used when StreamOpts.Timeout is zero.
const DefaultCaptureTimeout = 5 * time.Second

// StreamOpts contains options for opening a stream.
type StreamOpts struct {
	// Timeout for a single Capture call. Applied in addition to any deadline
	// of the context passed to Capture. Default DefaultCaptureTimeout.
	Timeout time.Duration

	// Number of recent frames over which Stats computes frame rate
	// statistics. Default 32.
	FPSWindow int
}

// State is the acquisition state of a stream.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stream is an acquisition channel of a camera, with a fixed ring of buffers.
// Its state goes from created to started, then alternates between stopped and
// started until it is closed.
type Stream struct {
	camera *Camera
	handle sdk.Handle
	id     uuid.UUID
	log    *slog.Logger
	opts   StreamOpts
	count  int
	ring   *ring

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc // Stops the pump.
	pumpDone chan struct{}
}

// OpenStream allocates a stream with count buffers, sized for the camera's
// current Width, Height and PixelFormat. While the stream is open, those
// features cannot be changed. A camera can have one open stream, a second
// OpenStream fails with ErrCameraBusy.
//
// Always call Close on the returned stream, or use WithStream.
func (c *Camera) OpenStream(count int, opts *StreamOpts) (stream *Stream, rerr error) {
	var xopts StreamOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Timeout <= 0 {
		xopts.Timeout = DefaultCaptureTimeout
	}
	if xopts.FPSWindow <= 0 {
		xopts.FPSWindow = 32
	}

	if err := c.check(); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, fmt.Errorf("opening stream: %w: buffer count must be >= 1, got %d", ErrInvalidArgument, count)
	}

	width, height, format, size, err := c.frameGeometry()
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	s := &Stream{
		camera: c,
		handle: sdk.InvalidHandle,
		id:     uuid.New(),
		opts:   xopts,
		count:  count,
		ring:   newRing(count, width, height, format, size, xopts.FPSWindow),
		state:  StateCreated,
	}
	s.log = c.log.With("stream", s.id.String())

	c.mu.Lock()
	if c.state != cameraOpen {
		c.mu.Unlock()
		return nil, fmt.Errorf("opening stream: %w: camera %d is closed", ErrInvalidHandle, c.index)
	}
	if c.stream != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("opening stream: %w: camera %d already has an open stream", ErrCameraBusy, c.index)
	}
	c.stream = s
	c.mu.Unlock()

	defer func() {
		if rerr != nil {
			c.removeStream(s)
			s.ring.close()
		}
	}()

	h, err := c.grabber.sys.drv.StreamCreate(c.handle, count)
	if err == nil && h == sdk.InvalidHandle {
		err = sdk.StatusInitFailed
	}
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", translate(err))
	}
	s.handle = h
	s.log.Debug("stream opened", "buffers", count, "width", width, "height", height, "format", format, "bytes", size)
	return s, nil
}

// frameGeometry reads the buffer geometry from the camera features. The
// PayloadSize feature, when present, overrides the computed buffer size.
func (c *Camera) frameGeometry() (width, height int, format sdk.PixelFormat, size int, err error) {
	w, err := c.FeatureInt("Width")
	if err != nil {
		return
	}
	h, err := c.FeatureInt("Height")
	if err != nil {
		return
	}
	f, err := c.FeatureString("PixelFormat")
	if err != nil {
		return
	}
	format = sdk.PixelFormat(f)
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return 0, 0, "", 0, fmt.Errorf("%w: unsupported pixel format %q", ErrInvalidArgument, f)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, "", 0, fmt.Errorf("%w: invalid frame size %dx%d", ErrInvalidArgument, w, h)
	}
	width, height = int(w), int(h)
	size = width * height * bpp
	if p, perr := c.FeatureInt("PayloadSize"); perr == nil && p >= int64(size) {
		size = int(p)
	}
	return width, height, format, size, nil
}

// WithStream opens a stream, calls fn with it, and closes the stream when fn
// returns or panics.
func (c *Camera) WithStream(count int, opts *StreamOpts, fn func(s *Stream) error) error {
	s, err := c.OpenStream(count, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// ID returns the session id of the stream, as used in log messages.
func (s *Stream) ID() string {
	return s.id.String()
}

// Camera returns the camera the stream belongs to.
func (s *Stream) Camera() *Camera {
	return s.camera
}

// BufferCount returns the number of buffers in the ring.
func (s *Stream) BufferCount() int {
	return s.count
}

// FrameSize returns the geometry of frames in the stream.
func (s *Stream) FrameSize() (width, height int, format sdk.PixelFormat) {
	return s.ring.width, s.ring.height, s.ring.format
}

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) check() error {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: stream is closed", ErrInvalidHandle)
	}
	return s.camera.check()
}

// Start begins acquisition into the ring. Start on a started stream does
// nothing.
func (s *Stream) Start() error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStarted:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: stream is closed", ErrInvalidHandle)
	}

	s.ring.resume()
	drv := s.camera.grabber.sys.drv
	if err := drv.CameraStart(s.camera.handle, s.handle, 0); err != nil {
		return fmt.Errorf("starting acquisition: %w", translate(err))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pumpDone = make(chan struct{})
	go s.pump(ctx, s.pumpDone)
	s.state = StateStarted
	s.log.Debug("acquisition started")
	return nil
}

// Stop halts acquisition. Frames already completed stay in the ring and can be
// captured after the next Start. Stop on a stream that is not started does
// nothing.
func (s *Stream) Stop() error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStarted {
		return nil
	}
	err := s.halt()
	s.state = StateStopped
	s.log.Debug("acquisition stopped")
	if err != nil {
		return fmt.Errorf("stopping acquisition: %w", err)
	}
	return nil
}

// halt stops the SDK and the pump. Must be called with s.mu held, in state
// started.
func (s *Stream) halt() error {
	s.cancel()
	err := s.camera.grabber.sys.drv.CameraStop(s.camera.handle)
	<-s.pumpDone
	s.cancel = nil
	s.pumpDone = nil
	s.ring.fail(fmt.Errorf("%w: acquisition stopped", ErrStreamNotStarted))
	return translate(err)
}

// pump moves completed buffers from the SDK into the ring until ctx is
// cancelled or the SDK fails.
func (s *Stream) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	drv := s.camera.grabber.sys.drv
	for {
		ev, err := drv.WaitBuffer(ctx, s.handle)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			var st sdk.Status
			if errors.As(err, &st) {
				switch st {
				case sdk.StatusTimeout:
					continue
				case sdk.StatusStreamNotStarted:
					s.log.Debug("acquisition ended by sdk")
					s.ring.fail(fmt.Errorf("%w: acquisition ended by sdk", ErrStreamNotStarted))
					return
				}
			}
			err = translate(err)
			if !errors.Is(err, ErrDriverError) {
				err = fmt.Errorf("%w: %v", ErrDriverError, err)
			}
			s.log.Warn("waiting for buffer", "err", err)
			s.ring.fail(err)
			return
		}
		if !s.ring.put(ev) {
			s.log.Debug("buffer not stored", "buffer", ev.ID, "image", ev.ImageID, "bytes", len(ev.Data))
		}
	}
}

// Capture releases the frames returned by the previous Capture, then waits
// until n frames are completed and returns them in completion order. n must be
// between 1 and the buffer count.
//
// Capture fails with ErrStreamNotStarted if the stream is not started, with
// ErrTimeout if the stream timeout or the ctx deadline passes first, and with
// ErrCancelled if ctx is cancelled. After a timeout or cancellation, completed
// frames stay in the ring for the next call. ErrDriverError is returned when
// the SDK failed during acquisition, and ErrInvalidHandle when the stream or
// one of its parents is closed, including while Capture is waiting.
func (s *Stream) Capture(ctx context.Context, n int) ([]Frame, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if n < 1 || n > s.count {
		return nil, fmt.Errorf("capturing %d frames: %w: must be between 1 and buffer count %d", n, ErrInvalidArgument, s.count)
	}
	if st := s.State(); st != StateStarted {
		return nil, fmt.Errorf("capturing %d frames: %w: stream is %s", n, ErrStreamNotStarted, st)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	frames, err := s.ring.take(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("capturing %d frames: %w", n, err)
	}
	return frames, nil
}

// Stats returns the acquisition counters.
func (s *Stream) Stats() Stats {
	return s.ring.stats()
}

// Close stops acquisition if started, deletes the SDK stream and discards the
// ring. Outstanding frames become invalid and a waiting Capture returns.
// Close is idempotent and never fails; SDK errors while closing are logged.
func (s *Stream) Close() error {
	s.shutdown(true)
	return nil
}

// shutdown closes the stream. The SDK stream is kept when its camera is
// invalidated, the SDK releases it along with the device.
func (s *Stream) shutdown(deleteStream bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	// A waiting Capture must see the ring closed, not the stop.
	s.ring.close()
	if s.state == StateStarted {
		if err := s.halt(); err != nil {
			s.log.Warn("stopping acquisition", "err", err)
		}
	}
	s.state = StateClosed
	s.mu.Unlock()

	if deleteStream {
		if err := s.camera.grabber.sys.drv.StreamDelete(s.handle); err != nil {
			s.log.Warn("deleting stream", "err", translate(err))
		}
	}
	s.camera.removeStream(s)
	s.log.Debug("stream closed")
}
