package kyfg

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kyfg/kyfg-go/sdk"
)

// CameraOpts contains options for opening a camera.
type CameraOpts struct {
	// Path to a GenICam XML description to use instead of the one read
	// from the camera.
	XMLPath string
}

type cameraState int

const (
	cameraOpen cameraState = iota
	cameraClosed
	// The grabber was closed before the camera.
	cameraInvalidated
)

// geometryFeatures determine the size of acquired buffers. They cannot be
// changed while a stream is open.
var geometryFeatures = map[string]bool{
	"Width":             true,
	"Height":            true,
	"PixelFormat":       true,
	"OffsetX":           true,
	"OffsetY":           true,
	"BinningHorizontal": true,
	"BinningVertical":   true,
}

// Camera is an open camera session on a grabber.
type Camera struct {
	grabber  *Grabber
	index    int
	handle   sdk.Handle
	id       uuid.UUID
	opts     CameraOpts
	log      *slog.Logger
	features featureSet

	mu     sync.Mutex
	state  cameraState
	stream *Stream
}

// Index returns the camera index on its grabber.
func (c *Camera) Index() int {
	return c.index
}

// ID returns the session id of the camera, as used in log messages.
func (c *Camera) ID() string {
	return c.id.String()
}

// Grabber returns the grabber the camera was opened on.
func (c *Camera) Grabber() *Grabber {
	return c.grabber
}

func (c *Camera) check() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch state {
	case cameraClosed:
		return fmt.Errorf("%w: camera %d is closed", ErrInvalidHandle, c.index)
	case cameraInvalidated:
		return fmt.Errorf("%w: camera %d invalidated by closing its grabber", ErrInvalidHandle, c.index)
	}
	return c.grabber.check()
}

func (c *Camera) checkGeometry(name string) error {
	if !geometryFeatures[name] {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return fmt.Errorf("%w: cannot change %s while a stream is open, close the stream first", ErrInvalidArgument, name)
	}
	return nil
}

// Info returns information about the camera.
func (c *Camera) Info() (sdk.CameraInfo, error) {
	if err := c.check(); err != nil {
		return sdk.CameraInfo{}, err
	}
	info, err := c.grabber.sys.drv.CameraInfo(c.handle)
	if err != nil {
		return sdk.CameraInfo{}, fmt.Errorf("camera info: %w", translate(err))
	}
	return info, nil
}

// Feature returns the current value of the named feature.
func (c *Camera) Feature(name string) (sdk.Value, error) {
	return c.features.get(name)
}

// SetFeature writes the named feature. The value must match the feature type:
//
//	int:      any Go integer type
//	float:    float32, float64 or any Go integer type
//	bool:     bool
//	enum:     the entry name as string (or sdk.PixelFormat), or the entry value as integer
//	string:   string
//	command:  nil, true or any integer (executes the command)
//	register: []byte of the register size
//
// An sdk.Value of the matching type is accepted too. SetFeature fails with
// ErrInvalidFeature for unknown features, ErrInvalidValue for values of the
// wrong type or out of range, and ErrReadOnlyFeature if the feature cannot be
// written. The new value is in effect when SetFeature returns.
func (c *Camera) SetFeature(name string, value interface{}) error {
	return c.features.set(name, value)
}

// Features returns the names of all features of the camera.
func (c *Camera) Features() ([]string, error) {
	return c.features.names()
}

// FeatureInfo returns the schema of the named feature.
func (c *Camera) FeatureInfo(name string) (sdk.FeatureInfo, error) {
	return c.features.info(name)
}

// FeatureInt returns the value of an int or enum feature.
func (c *Camera) FeatureInt(name string) (int64, error) {
	return c.features.getInt(name)
}

// FeatureFloat returns the value of a float feature.
func (c *Camera) FeatureFloat(name string) (float64, error) {
	return c.features.getFloat(name)
}

// FeatureBool returns the value of a bool feature.
func (c *Camera) FeatureBool(name string) (bool, error) {
	return c.features.getBool(name)
}

// FeatureString returns the value of a string feature, or the entry name of an
// enum feature.
func (c *Camera) FeatureString(name string) (string, error) {
	return c.features.getString(name)
}

// Execute runs a command feature, e.g. "TriggerSoftware".
func (c *Camera) Execute(name string) error {
	return c.features.set(name, nil)
}

// ROI returns the region of interest: offsets and size.
func (c *Camera) ROI() (x, y, width, height int64, err error) {
	for _, f := range []struct {
		name string
		v    *int64
	}{
		{"OffsetX", &x},
		{"OffsetY", &y},
		{"Width", &width},
		{"Height", &height},
	} {
		if *f.v, err = c.FeatureInt(f.name); err != nil {
			return 0, 0, 0, 0, err
		}
	}
	return
}

// SetROI sets the region of interest. Offsets are reset first, so the new size
// is accepted regardless of the old offsets.
func (c *Camera) SetROI(x, y, width, height int64) error {
	for _, f := range []struct {
		name string
		v    int64
	}{
		{"OffsetX", 0},
		{"OffsetY", 0},
		{"Width", width},
		{"Height", height},
		{"OffsetX", x},
		{"OffsetY", y},
	} {
		if err := c.SetFeature(f.name, f.v); err != nil {
			return fmt.Errorf("setting roi: %w", err)
		}
	}
	return nil
}

// CenterROI sets a region of interest of the given size in the center of the
// sensor.
func (c *Camera) CenterROI(width, height int64) error {
	wmax, err := c.FeatureInt("WidthMax")
	if err != nil {
		return err
	}
	hmax, err := c.FeatureInt("HeightMax")
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 || width > wmax || height > hmax {
		return fmt.Errorf("%w: roi %dx%d does not fit sensor %dx%d", ErrInvalidValue, width, height, wmax, hmax)
	}
	return c.SetROI((wmax-width)/2, (hmax-height)/2, width, height)
}

// Stream returns the open stream of the camera, or nil.
func (c *Camera) Stream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Camera) removeStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == s {
		c.stream = nil
	}
}

// Close closes the open stream, if any, and the camera session. Close is
// idempotent and never fails; SDK errors while closing are logged.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.state != cameraOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = cameraClosed
	s := c.stream
	c.stream = nil
	c.mu.Unlock()

	if s != nil {
		s.shutdown(true)
	}
	if err := c.grabber.sys.drv.CameraClose(c.handle); err != nil {
		c.log.Warn("closing camera", "err", translate(err))
	}
	c.grabber.removeCamera(c)
	c.log.Debug("camera closed")
	return nil
}

// invalidate is called when the grabber closes. The SDK releases the camera
// session together with the device, so only the stream is torn down here.
func (c *Camera) invalidate() {
	c.mu.Lock()
	if c.state != cameraOpen {
		c.mu.Unlock()
		return
	}
	c.state = cameraInvalidated
	s := c.stream
	c.stream = nil
	c.mu.Unlock()

	if s != nil {
		s.shutdown(false)
	}
	c.log.Debug("camera invalidated")
}
