package kyfg

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kyfg/kyfg-go/sdk"
)

// Grabber is an open connection to one frame-grabber device.
type Grabber struct {
	sys      *System
	index    int
	handle   sdk.Handle
	id       uuid.UUID
	log      *slog.Logger
	features featureSet

	mu      sync.Mutex
	opened  bool
	closed  bool
	cameras map[int]*Camera
}

// Index returns the device index the grabber was opened with.
func (g *Grabber) Index() int {
	return g.index
}

// ID returns the session id of this open, as used in log messages.
func (g *Grabber) ID() string {
	return g.id.String()
}

// Closed reports whether Close was called.
func (g *Grabber) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *Grabber) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: grabber %d is closed", ErrInvalidHandle, g.index)
	}
	return nil
}

// Info returns the device information of the grabber.
func (g *Grabber) Info() (sdk.DeviceInfo, error) {
	if err := g.check(); err != nil {
		return sdk.DeviceInfo{}, err
	}
	return g.sys.DeviceInfo(g.index)
}

// CameraCount detects the cameras attached to the grabber.
func (g *Grabber) CameraCount() (int, error) {
	l, err := g.cameraList()
	if err != nil {
		return 0, err
	}
	return len(l), nil
}

func (g *Grabber) cameraList() ([]sdk.Handle, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	l, err := g.sys.drv.CameraList(g.handle)
	if err != nil {
		return nil, fmt.Errorf("listing cameras: %w", translate(err))
	}
	if len(l) > sdk.MaxCameras {
		l = l[:sdk.MaxCameras]
	}
	return l, nil
}

// Feature returns the value of a grabber feature.
func (g *Grabber) Feature(name string) (sdk.Value, error) {
	return g.features.get(name)
}

// SetFeature sets a grabber feature, see Camera.SetFeature for the accepted
// values.
func (g *Grabber) SetFeature(name string, value interface{}) error {
	return g.features.set(name, value)
}

// Features returns the names of the grabber features.
func (g *Grabber) Features() ([]string, error) {
	return g.features.names()
}

// FeatureInfo returns the schema of a grabber feature.
func (g *Grabber) FeatureInfo(name string) (sdk.FeatureInfo, error) {
	return g.features.info(name)
}

// OpenCamera opens the camera at index. It fails with ErrInvalidHandle if the
// grabber is closed, ErrCameraNotFound if there is no such camera, and
// ErrCameraBusy if the camera is already open.
//
// Always call Close on the returned camera, or use WithCamera.
func (g *Grabber) OpenCamera(index int, opts *CameraOpts) (*Camera, error) {
	var xopts CameraOpts
	if opts != nil {
		xopts = *opts
	}

	l, err := g.cameraList()
	if err != nil {
		return nil, fmt.Errorf("opening camera %d: %w", index, err)
	}
	if index < 0 || index >= len(l) {
		return nil, fmt.Errorf("opening camera %d: %w: %d cameras detected", index, ErrCameraNotFound, len(l))
	}

	c := &Camera{
		grabber: g,
		index:   index,
		handle:  l[index],
		id:      uuid.New(),
		opts:    xopts,
	}
	c.log = g.log.With("camera", index, "camera_session", c.id.String())
	c.features = featureSet{
		drv:       g.sys.drv,
		handle:    c.handle,
		what:      fmt.Sprintf("camera %d", index),
		check:     c.check,
		beforeSet: c.checkGeometry,
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, fmt.Errorf("opening camera %d: %w: grabber %d is closed", index, ErrInvalidHandle, g.index)
	}
	if _, ok := g.cameras[index]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("opening camera %d: %w: already open", index, ErrCameraBusy)
	}
	g.cameras[index] = c
	g.mu.Unlock()

	if err := g.sys.drv.CameraOpen(c.handle, xopts.XMLPath); err != nil {
		g.removeCamera(c)
		return nil, fmt.Errorf("opening camera %d: %w", index, translate(err))
	}
	c.log.Debug("camera opened", "handle", uint32(c.handle))
	return c, nil
}

// WithCamera opens the camera at index, calls fn with it, and closes the camera
// when fn returns or panics.
func (g *Grabber) WithCamera(index int, opts *CameraOpts, fn func(c *Camera) error) error {
	c, err := g.OpenCamera(index, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func (g *Grabber) removeCamera(c *Camera) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cameras[c.index] == c {
		delete(g.cameras, c.index)
	}
}

// Close releases the device. Cameras and streams opened from this grabber are
// invalidated, and acquisition on them is stopped. Close is idempotent and
// never fails; SDK errors while closing are logged.
func (g *Grabber) Close() error {
	g.mu.Lock()
	if g.closed || !g.opened {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	cams := make([]*Camera, 0, len(g.cameras))
	for _, c := range g.cameras {
		cams = append(cams, c)
	}
	g.cameras = map[int]*Camera{}
	g.mu.Unlock()

	for _, c := range cams {
		c.invalidate()
	}
	if err := g.sys.drv.Close(g.handle); err != nil {
		g.log.Warn("closing grabber", "err", translate(err))
	}
	g.sys.release(g.index, g)
	g.log.Debug("grabber closed", "invalidated_cameras", len(cams))
	return nil
}
