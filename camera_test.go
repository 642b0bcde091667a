package kyfg_test

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyfg/kyfg-go"
	"github.com/kyfg/kyfg-go/sdk"
)

func openCamera(t *testing.T, sys *kyfg.System) (*kyfg.Grabber, *kyfg.Camera) {
	t.Helper()
	g, err := sys.Open(0)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	c, err := g.OpenCamera(0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return g, c
}

func TestOpenCameraErrors(t *testing.T) {
	sys, _ := newSystem(t)
	g, err := sys.Open(0)
	require.NoError(t, err)

	_, err = g.OpenCamera(2, nil)
	assert.ErrorIs(t, err, kyfg.ErrCameraNotFound)
	_, err = g.OpenCamera(-1, nil)
	assert.ErrorIs(t, err, kyfg.ErrCameraNotFound)

	c, err := g.OpenCamera(0, nil)
	require.NoError(t, err)
	_, err = g.OpenCamera(0, nil)
	assert.ErrorIs(t, err, kyfg.ErrCameraBusy)

	c1, err := g.OpenCamera(1, nil)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	_, err = g.OpenCamera(0, &kyfg.CameraOpts{XMLPath: filepath.Join(t.TempDir(), "missing.xml")})
	assert.ErrorIs(t, err, kyfg.ErrCameraBusy)

	require.NoError(t, c.Close())
	c, err = g.OpenCamera(0, nil)
	require.NoError(t, err, "reopen after close")

	require.NoError(t, g.Close())
	_, err = g.OpenCamera(1, nil)
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
}

func TestOpenCameraXML(t *testing.T) {
	sys, _ := newSystem(t)
	g, err := sys.Open(0)
	require.NoError(t, err)
	defer g.Close()

	_, err = g.OpenCamera(0, &kyfg.CameraOpts{XMLPath: filepath.Join(t.TempDir(), "missing.xml")})
	require.ErrorIs(t, err, kyfg.ErrInvalidArgument)

	// The failed open did not keep the camera reserved.
	c, err := g.OpenCamera(0, nil)
	require.NoError(t, err)
	c.Close()
}

func TestCameraCloseIdempotent(t *testing.T) {
	sys, drv := newSystem(t)
	_, c := openCamera(t, sys)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, drv.Calls("CameraClose"))

	_, err := c.Feature("Width")
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
	_, err = c.OpenStream(4, nil)
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
}

func TestCameraInvalidatedByGrabberClose(t *testing.T) {
	sys, drv := newSystem(t)
	g, c := openCamera(t, sys)

	s, err := c.OpenStream(4, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.NoError(t, g.Close())

	_, err = c.Feature("Width")
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
	err = c.SetFeature("Gain", 1.0)
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
	_, err = c.Info()
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
	_, err = c.OpenStream(2, nil)
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)

	assert.Equal(t, kyfg.StateClosed, s.State())
	_, err = s.Capture(testContext(t), 1)
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
	assert.ErrorIs(t, s.Start(), kyfg.ErrInvalidHandle)
	assert.ErrorIs(t, s.Stop(), kyfg.ErrInvalidHandle)

	// Acquisition was stopped, and the camera is invalidated rather than
	// closed independently.
	assert.Equal(t, 1, drv.Calls("CameraStop"))
	assert.NoError(t, c.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, 0, drv.Calls("CameraClose"))
	assert.Equal(t, 0, drv.Calls("StreamDelete"))
}

func TestWithCamera(t *testing.T) {
	sys, _ := newSystem(t)
	err := sys.WithGrabber(0, func(g *kyfg.Grabber) error {
		var cam *kyfg.Camera
		err := g.WithCamera(1, nil, func(c *kyfg.Camera) error {
			cam = c
			info, err := c.Info()
			require.NoError(t, err)
			assert.Equal(t, "SimCam B", info.ModelName)
			assert.Equal(t, "sim-0-1", info.DeviceID)
			return nil
		})
		require.NoError(t, err)
		_, err = cam.Feature("Width")
		assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
		return nil
	})
	require.NoError(t, err)
}

func TestFeatureAccess(t *testing.T) {
	sys, _ := newSystem(t)
	_, c := openCamera(t, sys)

	require.NoError(t, c.SetFeature("Width", 320))
	w, err := c.FeatureInt("Width")
	require.NoError(t, err)
	assert.Equal(t, int64(320), w)

	require.NoError(t, c.SetFeature("Height", uint16(200)))
	v, err := c.Feature("Height")
	require.NoError(t, err)
	assert.Equal(t, sdk.IntValue(200), v)

	// Integers are accepted for float features.
	require.NoError(t, c.SetFeature("ExposureTime", 5000))
	f, err := c.FeatureFloat("ExposureTime")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, f)

	require.NoError(t, c.SetFeature("Gain", float32(1.5)))
	f, err = c.FeatureFloat("Gain")
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	// Enums by name, by value, and as pixel format.
	require.NoError(t, c.SetFeature("PixelFormat", "Mono16"))
	s, err := c.FeatureString("PixelFormat")
	require.NoError(t, err)
	assert.Equal(t, "Mono16", s)
	require.NoError(t, c.SetFeature("PixelFormat", 0x01080001))
	v, err = c.Feature("PixelFormat")
	require.NoError(t, err)
	assert.Equal(t, sdk.EnumValue("Mono8", 0x01080001), v)
	require.NoError(t, c.SetFeature("PixelFormat", sdk.RGB8))
	s, err = c.FeatureString("PixelFormat")
	require.NoError(t, err)
	assert.Equal(t, "RGB8", s)

	require.NoError(t, c.SetFeature("TriggerMode", "On"))
	mode, err := c.FeatureInt("TriggerMode")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mode)

	require.NoError(t, c.Execute("TriggerSoftware"))
	require.NoError(t, c.SetFeature("AcquisitionStart", true))
	done, err := c.FeatureBool("AcquisitionStart")
	require.NoError(t, err)
	assert.True(t, done)

	reg := []byte("0123456789abcdef")
	require.NoError(t, c.SetFeature("UserData", reg))
	v, err = c.Feature("UserData")
	require.NoError(t, err)
	if diff := cmp.Diff(reg, v.Bytes); diff != "" {
		t.Fatalf("register mismatch (-want +got):\n%s", diff)
	}

	model, err := c.FeatureString("DeviceModelName")
	require.NoError(t, err)
	assert.Equal(t, "SimCam A", model)

	names, err := c.Features()
	require.NoError(t, err)
	for _, name := range []string{"Width", "Height", "PixelFormat", "ExposureTime", "Gain", "TriggerMode", "UserData"} {
		assert.Contains(t, names, name)
	}
}

func TestFeatureErrors(t *testing.T) {
	sys, _ := newSystem(t)
	_, c := openCamera(t, sys)

	tests := []struct {
		name  string
		value interface{}
		err   error
	}{
		{"NoSuchFeature", 1, kyfg.ErrInvalidFeature},
		{"Width", "wide", kyfg.ErrInvalidValue},
		{"Width", 1.5, kyfg.ErrInvalidValue},
		{"Width", 5000, kyfg.ErrInvalidValue},
		{"Width", uint64(1 << 63), kyfg.ErrInvalidValue},
		{"Width", 8, kyfg.ErrInvalidValue},
		{"Gain", "high", kyfg.ErrInvalidValue},
		{"Gain", 100.0, kyfg.ErrInvalidValue},
		{"PixelFormat", "Mono12", kyfg.ErrInvalidValue},
		{"PixelFormat", 7, kyfg.ErrInvalidValue},
		{"TriggerMode", true, kyfg.ErrInvalidValue},
		{"TriggerSoftware", false, kyfg.ErrInvalidValue},
		{"UserData", []byte{1, 2, 3}, kyfg.ErrInvalidValue},
		{"UserData", "bytes", kyfg.ErrInvalidValue},
		{"DeviceModelName", "other", kyfg.ErrReadOnlyFeature},
		{"WidthMax", 100, kyfg.ErrReadOnlyFeature},
		{"PayloadSize", 100, kyfg.ErrReadOnlyFeature},
		{"AcquisitionFrameRate", sdk.IntValue(10), kyfg.ErrInvalidValue},
	}
	for _, tc := range tests {
		err := c.SetFeature(tc.name, tc.value)
		assert.ErrorIs(t, err, tc.err, "set %s to %#v", tc.name, tc.value)
	}

	_, err := c.Feature("NoSuchFeature")
	assert.ErrorIs(t, err, kyfg.ErrInvalidFeature)
	_, err = c.FeatureInt("DeviceModelName")
	assert.ErrorIs(t, err, kyfg.ErrInvalidValue)
	_, err = c.FeatureBool("Width")
	assert.ErrorIs(t, err, kyfg.ErrInvalidValue)

	// Range checks done by the SDK are translated too: the offset does not
	// fit next to the full width.
	require.NoError(t, c.SetFeature("Width", 1024))
	err = c.SetFeature("OffsetX", 100)
	assert.ErrorIs(t, err, kyfg.ErrInvalidValue)
}

func TestROI(t *testing.T) {
	sys, _ := newSystem(t)
	_, c := openCamera(t, sys)

	require.NoError(t, c.CenterROI(512, 384))
	x, y, w, h, err := c.ROI()
	require.NoError(t, err)
	assert.Equal(t, []int64{256, 192, 512, 384}, []int64{x, y, w, h})

	// Moving to a larger region works with the old offsets in place.
	require.NoError(t, c.SetROI(0, 0, 1024, 768))
	x, y, w, h, err = c.ROI()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 1024, 768}, []int64{x, y, w, h})

	assert.ErrorIs(t, c.CenterROI(2048, 100), kyfg.ErrInvalidValue)
}

func TestGeometryLockedWhileStreaming(t *testing.T) {
	sys, _ := newSystem(t)
	_, c := openCamera(t, sys)

	s, err := c.OpenStream(2, nil)
	require.NoError(t, err)

	for _, name := range []string{"Width", "Height", "OffsetX", "OffsetY", "BinningHorizontal", "BinningVertical"} {
		assert.ErrorIs(t, c.SetFeature(name, 2), kyfg.ErrInvalidArgument, name)
	}
	assert.ErrorIs(t, c.SetFeature("PixelFormat", "Mono16"), kyfg.ErrInvalidArgument)
	assert.ErrorIs(t, c.SetROI(0, 0, 320, 240), kyfg.ErrInvalidArgument)

	// Other features can be changed.
	require.NoError(t, c.SetFeature("Gain", 2.0))
	require.NoError(t, c.SetFeature("ExposureTime", 1000.0))

	require.NoError(t, s.Close())
	require.NoError(t, c.SetFeature("Width", 320))
}

func TestOneStreamPerCamera(t *testing.T) {
	sys, _ := newSystem(t)
	_, c := openCamera(t, sys)

	s, err := c.OpenStream(2, nil)
	require.NoError(t, err)
	assert.Same(t, s, c.Stream())

	_, err = c.OpenStream(2, nil)
	assert.ErrorIs(t, err, kyfg.ErrCameraBusy)

	require.NoError(t, s.Close())
	assert.Nil(t, c.Stream())
	s, err = c.OpenStream(2, nil)
	require.NoError(t, err)
	s.Close()
}

func TestCameraCloseClosesStream(t *testing.T) {
	sys, drv := newSystem(t)
	_, c := openCamera(t, sys)

	s, err := c.OpenStream(2, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.NoError(t, c.Close())
	assert.Equal(t, kyfg.StateClosed, s.State())
	assert.Equal(t, 1, drv.Calls("StreamDelete"))
	assert.Equal(t, 1, drv.Calls("CameraStop"))
	_, err = s.Capture(testContext(t), 1)
	assert.ErrorIs(t, err, kyfg.ErrInvalidHandle)
}
