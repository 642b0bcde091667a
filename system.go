// Package kyfg is a binding for frame-grabber SDKs. It wraps the SDK
// primitives (package sdk) into grabber, camera and stream handles with a
// strict open/close hierarchy, typed GenICam feature access, and a fixed ring
// of acquisition buffers from which frames are captured.
//
// A stream cannot outlive its camera, and a camera cannot outlive its grabber:
// closing a parent invalidates its descendants immediately, after which their
// operations fail with ErrInvalidHandle.
package kyfg

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/sdk"
)

// Opts contains options for a System.
type Opts struct {
	// Logger for lifecycle events. If nil, the package logger is used.
	Logger *slog.Logger
}

// System owns one SDK driver and the table of opened devices. A device index
// can be open at most once per System. Use one System per driver in a process.
type System struct {
	drv sdk.Driver
	log *slog.Logger

	mu     sync.Mutex
	claims map[int]*Grabber
}

// New returns a System using drv.
func New(drv sdk.Driver, opts *Opts) *System {
	var xopts Opts
	if opts != nil {
		xopts = *opts
	}
	l := xopts.Logger
	if l == nil {
		l = log.L()
	}
	return &System{
		drv:    drv,
		log:    l,
		claims: map[int]*Grabber{},
	}
}

// Driver returns the driver of the system.
func (s *System) Driver() sdk.Driver {
	return s.drv
}

// Scan detects devices and returns how many are present.
func (s *System) Scan() (int, error) {
	n, err := s.drv.Scan()
	if err != nil {
		return 0, fmt.Errorf("scanning devices: %w", translate(err))
	}
	return n, nil
}

// DeviceInfo returns information about the device at index, without opening
// it.
func (s *System) DeviceInfo(index int) (sdk.DeviceInfo, error) {
	info, err := s.drv.DeviceInfo(index)
	if err != nil {
		return sdk.DeviceInfo{}, fmt.Errorf("device info for %d: %w", index, translate(err))
	}
	return info, nil
}

// SoftwareVersion returns the version of the SDK.
func (s *System) SoftwareVersion() (sdk.Version, error) {
	v, err := s.drv.SoftwareVersion()
	if err != nil {
		return sdk.Version{}, fmt.Errorf("software version: %w", translate(err))
	}
	return v, nil
}

// Open connects to the grabber at index. Open fails with ErrDeviceUnavailable
// if there is no such device or it is already open in this System, and with
// ErrDriverError if the SDK fails to initialize it.
//
// Always call Close on the returned grabber, or use WithGrabber.
func (s *System) Open(index int) (*Grabber, error) {
	if index < 0 {
		return nil, fmt.Errorf("opening grabber %d: %w: negative index", index, ErrDeviceUnavailable)
	}
	n, err := s.Scan()
	if err != nil {
		return nil, fmt.Errorf("opening grabber %d: %w", index, err)
	}
	if index >= n {
		return nil, fmt.Errorf("opening grabber %d: %w: %d devices present", index, ErrDeviceUnavailable, n)
	}

	g := &Grabber{
		sys:     s,
		index:   index,
		id:      uuid.New(),
		cameras: map[int]*Camera{},
	}

	// Claim the index before calling into the SDK, so a failed open never
	// disturbs a handle that holds it.
	s.mu.Lock()
	if _, ok := s.claims[index]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("opening grabber %d: %w: already open", index, ErrDeviceUnavailable)
	}
	s.claims[index] = g
	s.mu.Unlock()

	h, err := s.drv.Open(index)
	if err == nil && h == sdk.InvalidHandle {
		err = sdk.StatusInitFailed
	}
	if err != nil {
		s.release(index, g)
		return nil, fmt.Errorf("opening grabber %d: %w", index, openError(err))
	}
	g.handle = h
	g.log = s.log.With("grabber", index, "session", g.id.String())
	g.features = featureSet{
		drv:    s.drv,
		handle: h,
		what:   fmt.Sprintf("grabber %d", index),
		check:  g.check,
	}
	g.mu.Lock()
	g.opened = true
	g.mu.Unlock()
	g.log.Debug("grabber opened", "handle", uint32(h))
	return g, nil
}

// WithGrabber opens the grabber at index, calls fn with it, and closes the
// grabber when fn returns or panics.
func (s *System) WithGrabber(index int, fn func(g *Grabber) error) error {
	g, err := s.Open(index)
	if err != nil {
		return err
	}
	defer g.Close()
	return fn(g)
}

// Close closes all grabbers opened through s.
func (s *System) Close() error {
	s.mu.Lock()
	var l []*Grabber
	for _, g := range s.claims {
		l = append(l, g)
	}
	s.mu.Unlock()

	for _, g := range l {
		g.Close()
	}
	return nil
}

func (s *System) release(index int, g *Grabber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[index] == g {
		delete(s.claims, index)
	}
}

// openError translates a failed device open: a device that is missing or held
// elsewhere is unavailable, anything else is a driver failure.
func openError(err error) error {
	var st sdk.Status
	if errors.As(err, &st) {
		switch st {
		case sdk.StatusHardwareNotFound, sdk.StatusBusy, sdk.StatusMaxConnections:
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, st)
		}
	}
	err = translate(err)
	if !errors.Is(err, ErrDriverError) {
		err = fmt.Errorf("%w: %v", ErrDriverError, err)
	}
	return err
}
