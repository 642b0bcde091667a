package preset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyfg/kyfg-go"
	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/preset"
	"github.com/kyfg/kyfg-go/sdk"
	"github.com/kyfg/kyfg-go/sim"
)

func TestMain(m *testing.M) {
	log.Discard()
	os.Exit(m.Run())
}

func openCamera(t *testing.T, grabber int) *kyfg.Camera {
	t.Helper()
	sys := kyfg.New(sim.NewDefault(), nil)
	t.Cleanup(func() { sys.Close() })
	g, err := sys.Open(grabber)
	require.NoError(t, err)
	c, err := g.OpenCamera(0, nil)
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	src := openCamera(t, 0)
	require.NoError(t, src.SetROI(8, 4, 320, 200))
	require.NoError(t, src.SetFeature("PixelFormat", sdk.Mono16))
	require.NoError(t, src.SetFeature("Gain", 3.5))
	require.NoError(t, src.SetFeature("TriggerMode", "On"))
	require.NoError(t, src.SetFeature("UserData", []byte("0123456789abcdef")))

	p, err := preset.Capture(src)
	require.NoError(t, err)
	assert.Equal(t, "SimCam A", p.Model)
	for _, e := range p.Features {
		assert.NotEqual(t, "WidthMax", e.Name, "read-only feature captured")
		assert.NotEqual(t, "TriggerSoftware", e.Name, "command captured")
	}

	path := filepath.Join(t.TempDir(), "camera.yaml")
	require.NoError(t, p.Save(path))
	loaded, err := preset.Load(path)
	require.NoError(t, err)

	dst := openCamera(t, 1)
	require.NoError(t, loaded.Apply(dst))

	x, y, w, h, err := dst.ROI()
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 4, 320, 200}, []int64{x, y, w, h})
	pf, err := dst.FeatureString("PixelFormat")
	require.NoError(t, err)
	assert.Equal(t, "Mono16", pf)

	again, err := preset.Capture(dst)
	require.NoError(t, err)
	if diff := cmp.Diff(p.Features, again.Features); diff != "" {
		t.Fatalf("features after apply (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	p, err := preset.Parse([]byte(`
model: SimCam
features:
  - name: Width
    value: 128
  - name: ExposureTime
    value: 2500.5
  - name: ReverseX
    value: "On"
  - name: UserData
    bytes: "00112233445566778899aabbccddeeff"
`))
	require.NoError(t, err)
	want := []preset.Entry{
		{Name: "Width", Value: 128},
		{Name: "ExposureTime", Value: 2500.5},
		{Name: "ReverseX", Value: "On"},
		{Name: "UserData", Bytes: "00112233445566778899aabbccddeeff"},
	}
	if diff := cmp.Diff(want, p.Features); diff != "" {
		t.Fatalf("parsed features (-want +got):\n%s", diff)
	}

	c := openCamera(t, 0)
	require.NoError(t, p.Apply(c))
	v, err := c.FeatureFloat("ExposureTime")
	require.NoError(t, err)
	assert.Equal(t, 2500.5, v)

	bad := []string{
		"features: [{value: 1}]",
		"features: [{name: Width}]",
		"features: {name: Width}",
	}
	for _, s := range bad {
		_, err := preset.Parse([]byte(s))
		assert.Error(t, err, s)
	}
}

func TestApplyStopsAtError(t *testing.T) {
	c := openCamera(t, 0)
	p := &preset.Preset{Features: []preset.Entry{
		{Name: "Gain", Value: 1.5},
		{Name: "DeviceModelName", Value: "x"},
		{Name: "Gain", Value: 2.5},
	}}
	err := p.Apply(c)
	assert.ErrorIs(t, err, kyfg.ErrReadOnlyFeature)
	assert.Contains(t, err.Error(), "DeviceModelName")

	v, err := c.FeatureFloat("Gain")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	p = &preset.Preset{Features: []preset.Entry{{Name: "UserData", Bytes: "zz"}}}
	assert.Error(t, p.Apply(c))
}

func TestGrabberPreset(t *testing.T) {
	sys := kyfg.New(sim.NewDefault(), nil)
	defer sys.Close()
	g, err := sys.Open(0)
	require.NoError(t, err)
	require.NoError(t, g.SetFeature("DeviceUserID", "line 3"))

	p, err := preset.Capture(g)
	require.NoError(t, err)
	assert.Equal(t, "Simulated Grabber 0", p.Model)

	g2, err := sys.Open(1)
	require.NoError(t, err)
	require.NoError(t, p.Apply(g2))
	v, err := g2.Feature("DeviceUserID")
	require.NoError(t, err)
	assert.Equal(t, "line 3", v.String)
}

func TestApplyMovesOffsetsAfterSize(t *testing.T) {
	src := openCamera(t, 0)
	require.NoError(t, src.SetROI(0, 0, 1024, 480))
	p, err := preset.Capture(src)
	require.NoError(t, err)

	// Width 1024 does not fit next to the offset the target has now.
	dst := openCamera(t, 1)
	require.NoError(t, dst.SetROI(384, 0, 640, 480))
	require.NoError(t, p.Apply(dst))

	x, y, w, h, err := dst.ROI()
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 1024, 480}, []int64{x, y, w, h})

	// Offsets listed before the size still end up set.
	p = &preset.Preset{Features: []preset.Entry{
		{Name: "OffsetX", Value: 64},
		{Name: "Width", Value: 960},
	}}
	require.NoError(t, p.Apply(dst))
	x, _, w, _, err = dst.ROI()
	require.NoError(t, err)
	assert.Equal(t, []int64{64, 960}, []int64{x, w})
}
