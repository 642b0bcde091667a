package imagedir_test

import (
	"context"
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyfg/kyfg-go"
	"github.com/kyfg/kyfg-go/imagedir"
	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/sdk"
	"github.com/kyfg/kyfg-go/sim"
)

func TestMain(m *testing.M) {
	log.Discard()
	os.Exit(m.Run())
}

var red = color.NRGBA{R: 255, A: 255}

// drop writes a solid image to a hidden file in dir and renames it, so the
// watcher only sees a complete file.
func drop(t *testing.T, dir, name string, c color.Color) {
	t.Helper()
	tmp := filepath.Join(dir, "."+name)
	require.NoError(t, imaging.Save(imaging.New(8, 8, c), tmp))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, name)))
}

func newSource(t *testing.T, opts *imagedir.Opts) *imagedir.Source {
	t.Helper()
	src, err := imagedir.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func waitLoaded(t *testing.T, src *imagedir.Source, n uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, src.Wait(ctx, n))
}

func TestTempDirRemoved(t *testing.T) {
	src, err := imagedir.New(nil)
	require.NoError(t, err)
	dir := src.Dir()
	assert.DirExists(t, dir)
	require.NoError(t, src.Close())
	assert.NoDirExists(t, dir)
}

func TestBlackBeforeImage(t *testing.T) {
	src := newSource(t, nil)
	buf := []byte{1, 2, 3, 4}
	require.NoError(t, src.Frame(0, 2, 2, sdk.Mono8, buf))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestWatch(t *testing.T) {
	src := newSource(t, nil)
	drop(t, src.Dir(), "red.png", red)
	waitLoaded(t, src, 1)

	buf := make([]byte, 4*3)
	require.NoError(t, src.Frame(0, 4, 3, sdk.Mono8, buf))
	for _, v := range buf {
		assert.InDelta(t, 76, int(v), 1)
	}

	drop(t, src.Dir(), "white.png", color.White)
	waitLoaded(t, src, 2)
	require.NoError(t, src.Frame(1, 4, 3, sdk.Mono8, buf))
	assert.InDelta(t, 255, int(buf[0]), 1)

	// Other files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(src.Dir(), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, imaging.Save(imaging.New(8, 8, red), filepath.Join(src.Dir(), ".partial.png")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(2), src.Loaded())
}

func TestExistingImageLoaded(t *testing.T) {
	dir := t.TempDir()
	drop(t, dir, "red.jpg", red)
	src := newSource(t, &imagedir.Opts{Dir: dir, Remove: true})
	assert.Equal(t, uint64(1), src.Loaded())
	assert.NoFileExists(t, filepath.Join(dir, "red.jpg"))
}

func TestWaitCancel(t *testing.T) {
	src := newSource(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, src.Wait(ctx, 1), context.DeadlineExceeded)
}

func TestRender(t *testing.T) {
	img := imaging.New(4, 4, red)

	buf, err := imagedir.Render(img, 2, 2, sdk.RGB8)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0, 255, 0, 0, 255, 0, 0, 255, 0, 0}, buf)

	buf, err = imagedir.Render(img, 2, 2, sdk.BayerRG8)
	require.NoError(t, err)
	// R G / G B
	assert.Equal(t, []byte{255, 0, 0, 0}, buf)

	buf, err = imagedir.Render(img, 1, 1, sdk.Mono16)
	require.NoError(t, err)
	assert.Equal(t, uint16(76*0x101), binary.LittleEndian.Uint16(buf))

	_, err = imagedir.Render(img, 1, 1, sdk.PixelFormat("Mono12p"))
	assert.Error(t, err)
}

func TestCaptureFromDir(t *testing.T) {
	src := newSource(t, nil)
	drop(t, src.Dir(), "red.png", red)
	waitLoaded(t, src, 1)

	drv := sim.NewDefault()
	require.NoError(t, drv.SetSource(0, 0, src))
	sys := kyfg.New(drv, nil)
	defer sys.Close()

	g, err := sys.Open(0)
	require.NoError(t, err)
	c, err := g.OpenCamera(0, nil)
	require.NoError(t, err)
	require.NoError(t, c.SetROI(0, 0, 32, 24))
	require.NoError(t, c.SetFeature("PixelFormat", sdk.RGB8))

	s, err := c.OpenStream(2, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	frames, err := s.Capture(context.Background(), 1)
	require.NoError(t, err)

	f := frames[0]
	assert.Equal(t, 32, f.Width)
	assert.Equal(t, 24, f.Height)
	assert.Equal(t, []byte{255, 0, 0}, f.Data[:3])
}
