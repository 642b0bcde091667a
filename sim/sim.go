// Package sim is an in-memory implementation of the SDK driver, with
// configurable devices and cameras. Cameras produce test-pattern frames at
// their AcquisitionFrameRate, or one frame per TriggerSoftware command when
// TriggerMode is On. Faults can be injected to exercise error paths.
package sim

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kyfg/kyfg-go/sdk"
)

// Config describes the simulated system.
type Config struct {
	Version sdk.Version
	Devices []DeviceConfig
}

// DeviceConfig describes one grabber.
type DeviceConfig struct {
	Info    sdk.DeviceInfo
	Cameras []CameraConfig

	// If not zero, Open fails with this status.
	OpenStatus sdk.Status
}

// CameraConfig describes one camera attached to a grabber. Zero fields get
// defaults: 640x480 Mono8 at 100 frames per second, on a 1024x768 sensor.
type CameraConfig struct {
	Info                sdk.CameraInfo
	WidthMax, HeightMax int
	Width, Height       int
	PixelFormat         sdk.PixelFormat
	FrameRate           float64

	// Source generates frame contents. Default Pattern.
	Source FrameSource
}

func (c *CameraConfig) setDefaults() {
	if c.WidthMax == 0 {
		c.WidthMax = 1024
	}
	if c.HeightMax == 0 {
		c.HeightMax = 768
	}
	if c.Width == 0 {
		c.Width = min(640, c.WidthMax)
	}
	if c.Height == 0 {
		c.Height = min(480, c.HeightMax)
	}
	if c.PixelFormat == "" {
		c.PixelFormat = sdk.Mono8
	}
	if c.FrameRate == 0 {
		c.FrameRate = 100
	}
	if c.Source == nil {
		c.Source = Pattern{}
	}
	if c.Info.VendorName == "" {
		c.Info.VendorName = "Simulated"
	}
	if c.Info.ModelName == "" {
		c.Info.ModelName = "SimCam"
	}
	c.Info.Virtual = true
}

// DefaultConfig returns a system with two grabbers, each with two cameras.
func DefaultConfig() Config {
	dev := func(i int) DeviceConfig {
		return DeviceConfig{
			Info: sdk.DeviceInfo{
				Name:     fmt.Sprintf("Simulated Grabber %d", i),
				Bus:      i + 1,
				PID:      0x1100,
				Virtual:  true,
				Flags:    sdk.DeviceFlagGrabber,
				Protocol: sdk.ProtocolCXP,
			},
			Cameras: []CameraConfig{
				{Info: sdk.CameraInfo{ModelName: "SimCam A", DeviceID: fmt.Sprintf("sim-%d-0", i)}},
				{Info: sdk.CameraInfo{ModelName: "SimCam B", DeviceID: fmt.Sprintf("sim-%d-1", i)}},
			},
		}
	}
	return Config{
		Version: sdk.Version{Major: 6, Minor: 2, Patch: 0},
		Devices: []DeviceConfig{dev(0), dev(1)},
	}
}

type device struct {
	index    int
	cfg      DeviceConfig
	handle   sdk.Handle // Zero when not open.
	features *features
	cameras  []*camera
}

type camera struct {
	dev      *device
	index    int
	cfg      CameraConfig
	handle   sdk.Handle
	open     bool
	features *features
	acq      *acquisition // Nil when not acquiring.
}

func (c *camera) trigger() error {
	if c.acq != nil {
		select {
		case c.acq.trigger <- struct{}{}:
		default:
		}
	}
	return nil
}

type stream struct {
	camera  *camera
	handle  sdk.Handle
	buffers int
	imageID uint64
	lastTS  uint64
	buf     []byte
}

type acquisition struct {
	stream    *stream
	limit     int // Frames to acquire, 0 for unlimited.
	count     int
	start     time.Time
	period    time.Duration
	trigger   chan struct{}
	stop      chan struct{}
	width     int
	height    int
	format    sdk.PixelFormat
	source    FrameSource
	triggered bool
}

// Driver is a simulated SDK. It is safe for concurrent use.
type Driver struct {
	epoch   time.Time
	version sdk.Version

	mu       sync.Mutex
	devices  []*device
	cameras  map[sdk.Handle]*camera
	streams  map[sdk.Handle]*stream
	next     sdk.Handle
	waitErr  error
	closeErr error
	calls    map[string]int
}

var _ sdk.Driver = (*Driver)(nil)

// New returns a driver for cfg.
func New(cfg Config) *Driver {
	d := &Driver{
		epoch:   time.Now(),
		version: cfg.Version,
		cameras: map[sdk.Handle]*camera{},
		streams: map[sdk.Handle]*stream{},
		next:    0x100,
		calls:   map[string]int{},
	}
	for i, dc := range cfg.Devices {
		dev := &device{index: i, cfg: dc}
		dev.cfg.Cameras = append([]CameraConfig(nil), dc.Cameras...)
		for j := range dev.cfg.Cameras {
			dev.cfg.Cameras[j].setDefaults()
		}
		dev.features = deviceFeatures(dev)
		d.devices = append(d.devices, dev)
	}
	return d
}

// NewDefault returns a driver for DefaultConfig.
func NewDefault() *Driver {
	return New(DefaultConfig())
}

// FailNextWait makes the next WaitBuffer call return err.
func (d *Driver) FailNextWait(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitErr = err
}

// SetCloseError makes Close, CameraClose and StreamDelete return err, after
// releasing the resource.
func (d *Driver) SetCloseError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

// Calls returns how often the named Driver method was called.
func (d *Driver) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// SetSource replaces the frame source of a camera. It is used from the next
// acquisition start.
func (d *Driver) SetSource(device, camera int, src FrameSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if device < 0 || device >= len(d.devices) {
		return sdk.StatusHardwareNotFound
	}
	dev := d.devices[device]
	if camera < 0 || camera >= len(dev.cfg.Cameras) {
		return sdk.StatusInvalidParameter
	}
	dev.cfg.Cameras[camera].Source = src
	for _, c := range dev.cameras {
		if c.index == camera {
			c.cfg.Source = src
		}
	}
	return nil
}

func (d *Driver) call(method string) {
	d.calls[method]++
}

func (d *Driver) newHandle() sdk.Handle {
	d.next++
	return d.next
}

func (d *Driver) Scan() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("Scan")
	return len(d.devices), nil
}

func (d *Driver) DeviceInfo(index int) (sdk.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.devices) {
		return sdk.DeviceInfo{}, sdk.StatusHardwareNotFound
	}
	return d.devices[index].cfg.Info, nil
}

func (d *Driver) SoftwareVersion() (sdk.Version, error) {
	return d.version, nil
}

func (d *Driver) Open(index int) (sdk.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("Open")
	if index < 0 || index >= len(d.devices) {
		return sdk.InvalidHandle, sdk.StatusHardwareNotFound
	}
	dev := d.devices[index]
	if dev.cfg.OpenStatus != 0 {
		return sdk.InvalidHandle, dev.cfg.OpenStatus
	}
	if dev.handle != 0 {
		return sdk.InvalidHandle, sdk.StatusBusy
	}
	dev.handle = d.newHandle()
	dev.features = deviceFeatures(dev)
	dev.cameras = nil
	for i, cc := range dev.cfg.Cameras {
		c := &camera{dev: dev, index: i, cfg: cc, handle: d.newHandle()}
		c.features = cameraFeatures(c)
		dev.cameras = append(dev.cameras, c)
		d.cameras[c.handle] = c
	}
	return dev.handle, nil
}

func (d *Driver) device(h sdk.Handle) (*device, error) {
	for _, dev := range d.devices {
		if dev.handle != 0 && dev.handle == h {
			return dev, nil
		}
	}
	return nil, sdk.StatusUnknownHandle
}

func (d *Driver) Close(h sdk.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("Close")
	dev, err := d.device(h)
	if err != nil {
		return err
	}
	for _, c := range dev.cameras {
		d.closeCamera(c)
		delete(d.cameras, c.handle)
	}
	dev.cameras = nil
	dev.handle = 0
	return d.closeErr
}

func (d *Driver) CameraList(h sdk.Handle) ([]sdk.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.device(h)
	if err != nil {
		return nil, err
	}
	var l []sdk.Handle
	for _, c := range dev.cameras {
		l = append(l, c.handle)
	}
	return l, nil
}

func (d *Driver) camera(h sdk.Handle) (*camera, error) {
	c, ok := d.cameras[h]
	if !ok {
		return nil, sdk.StatusUnknownHandle
	}
	return c, nil
}

func (d *Driver) openCamera(h sdk.Handle) (*camera, error) {
	c, err := d.camera(h)
	if err != nil {
		return nil, err
	}
	if !c.open {
		return nil, sdk.StatusConfigNotLoaded
	}
	return c, nil
}

func (d *Driver) CameraOpen(h sdk.Handle, xmlPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("CameraOpen")
	c, err := d.camera(h)
	if err != nil {
		return err
	}
	if c.open {
		return sdk.StatusBusy
	}
	if xmlPath != "" {
		if _, err := os.Stat(xmlPath); err != nil {
			return sdk.StatusFileNotFound
		}
	}
	c.open = true
	return nil
}

func (d *Driver) CameraClose(h sdk.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("CameraClose")
	c, err := d.camera(h)
	if err != nil {
		return err
	}
	if !c.open {
		return sdk.StatusConfigNotLoaded
	}
	d.closeCamera(c)
	return d.closeErr
}

func (d *Driver) closeCamera(c *camera) {
	d.stopAcquisition(c)
	for h, s := range d.streams {
		if s.camera == c {
			delete(d.streams, h)
		}
	}
	c.open = false
	c.features = cameraFeatures(c)
}

func (d *Driver) CameraInfo(h sdk.Handle) (sdk.CameraInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.openCamera(h)
	if err != nil {
		return sdk.CameraInfo{}, err
	}
	info := c.cfg.Info
	info.UserID = c.dev.features.str("DeviceUserID")
	return info, nil
}

func (d *Driver) featureTable(h sdk.Handle) (*features, error) {
	if dev, err := d.device(h); err == nil {
		return dev.features, nil
	}
	c, err := d.openCamera(h)
	if err != nil {
		return nil, err
	}
	return c.features, nil
}

func (d *Driver) FeatureNames(h sdk.Handle) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, err := d.featureTable(h)
	if err != nil {
		return nil, err
	}
	return fs.names(), nil
}

func (d *Driver) FeatureInfo(h sdk.Handle, name string) (sdk.FeatureInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, err := d.featureTable(h)
	if err != nil {
		return sdk.FeatureInfo{}, err
	}
	return fs.info(name)
}

func (d *Driver) GetFeature(h sdk.Handle, name string) (sdk.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, err := d.featureTable(h)
	if err != nil {
		return sdk.Value{}, err
	}
	return fs.getValue(name)
}

func (d *Driver) SetFeature(h sdk.Handle, name string, v sdk.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("SetFeature")
	fs, err := d.featureTable(h)
	if err != nil {
		return err
	}
	return fs.setValue(name, v)
}

func (d *Driver) StreamCreate(h sdk.Handle, buffers int) (sdk.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("StreamCreate")
	c, err := d.openCamera(h)
	if err != nil {
		return sdk.InvalidHandle, err
	}
	if buffers < 1 {
		return sdk.InvalidHandle, sdk.StatusInvalidParameter
	}
	for _, s := range d.streams {
		if s.camera == c {
			return sdk.InvalidHandle, sdk.StatusBusy
		}
	}
	s := &stream{camera: c, handle: d.newHandle(), buffers: buffers}
	d.streams[s.handle] = s
	return s.handle, nil
}

func (d *Driver) StreamDelete(h sdk.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("StreamDelete")
	s, ok := d.streams[h]
	if !ok {
		return sdk.StatusUnknownHandle
	}
	if s.camera.acq != nil && s.camera.acq.stream == s {
		d.stopAcquisition(s.camera)
	}
	delete(d.streams, h)
	return d.closeErr
}

func (d *Driver) CameraStart(ch, sh sdk.Handle, frames int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("CameraStart")
	c, err := d.openCamera(ch)
	if err != nil {
		return err
	}
	s, ok := d.streams[sh]
	if !ok {
		return sdk.StatusUnknownHandle
	}
	if s.camera != c || frames < 0 {
		return sdk.StatusInvalidParameter
	}
	if c.acq != nil {
		return sdk.StatusBusy
	}
	fps := c.features.float("AcquisitionFrameRate")
	a := &acquisition{
		stream:    s,
		limit:     frames,
		start:     time.Now(),
		period:    time.Duration(float64(time.Second) / fps),
		trigger:   make(chan struct{}, 256),
		stop:      make(chan struct{}),
		width:     int(c.features.int("Width")),
		height:    int(c.features.int("Height")),
		format:    sdk.PixelFormat(c.features.str("PixelFormat")),
		source:    c.cfg.Source,
		triggered: c.features.str("TriggerMode") == "On",
	}
	c.acq = a
	return nil
}

func (d *Driver) CameraStop(h sdk.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("CameraStop")
	c, err := d.openCamera(h)
	if err != nil {
		return err
	}
	if c.acq == nil {
		return sdk.StatusStreamNotStarted
	}
	d.stopAcquisition(c)
	return nil
}

func (d *Driver) stopAcquisition(c *camera) {
	if c.acq != nil {
		close(c.acq.stop)
		c.acq = nil
	}
}

// WaitBuffer waits for the next frame of the acquisition on stream h and
// renders it. The returned data is reused by the next call.
func (d *Driver) WaitBuffer(ctx context.Context, h sdk.Handle) (sdk.BufferEvent, error) {
	d.mu.Lock()
	s, ok := d.streams[h]
	if !ok {
		d.mu.Unlock()
		return sdk.BufferEvent{}, sdk.StatusUnknownHandle
	}
	if err := d.waitErr; err != nil {
		d.waitErr = nil
		d.mu.Unlock()
		return sdk.BufferEvent{}, err
	}
	a := s.camera.acq
	if a == nil || a.stream != s {
		d.mu.Unlock()
		return sdk.BufferEvent{}, sdk.StatusStreamNotStarted
	}
	if a.limit > 0 && a.count >= a.limit {
		d.mu.Unlock()
		return sdk.BufferEvent{}, sdk.StatusStreamNotStarted
	}
	due := a.start.Add(time.Duration(a.count) * a.period)
	d.mu.Unlock()

	if a.triggered {
		select {
		case <-a.trigger:
		case <-a.stop:
			return sdk.BufferEvent{}, sdk.StatusStreamNotStarted
		case <-ctx.Done():
			return sdk.BufferEvent{}, ctx.Err()
		}
	} else {
		t := time.NewTimer(time.Until(due))
		defer t.Stop()
		select {
		case <-t.C:
		case <-a.stop:
			return sdk.BufferEvent{}, sdk.StatusStreamNotStarted
		case <-ctx.Done():
			return sdk.BufferEvent{}, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s.camera.acq != a {
		return sdk.BufferEvent{}, sdk.StatusStreamNotStarted
	}
	bpp := a.format.BytesPerPixel()
	size := a.width * a.height * bpp
	if len(s.buf) != size {
		s.buf = make([]byte, size)
	}
	if err := a.source.Frame(s.imageID, a.width, a.height, a.format, s.buf); err != nil {
		return sdk.BufferEvent{}, fmt.Errorf("frame source: %w", err)
	}
	ts := uint64(time.Since(d.epoch))
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	ev := sdk.BufferEvent{
		ID:        uint32(s.imageID % uint64(s.buffers)),
		ImageID:   s.imageID,
		Timestamp: ts,
		Status:    sdk.BufferComplete,
		Data:      s.buf,
	}
	if s.lastTS > 0 {
		ev.InstantFPS = 1e9 / float64(ts-s.lastTS)
	}
	s.lastTS = ts
	s.imageID++
	a.count++
	return ev, nil
}
