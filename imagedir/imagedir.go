// Package imagedir is a frame source for the simulated driver that shows
// image files dropped into a directory. Each PNG or JPEG file written to the
// directory becomes the picture of all following frames, scaled and cropped
// to the camera geometry and converted to its pixel format. Files whose name
// starts with a dot are ignored until they are renamed.
package imagedir

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"

	"github.com/kyfg/kyfg-go"
	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/sdk"
	"github.com/kyfg/kyfg-go/sim"
)

// Opts has options for a new Source.
type Opts struct {
	// Directory to watch. If empty, a temporary directory is created, and
	// removed on Close.
	Dir string

	// Remove image files after reading them.
	Remove bool

	Logger *slog.Logger
}

type geometry struct {
	width, height int
	format        sdk.PixelFormat
}

// Source renders the most recent image of a directory into frames.
type Source struct {
	opts    Opts
	dir     string
	tempDir string // Removed on Close, if set.
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	img      image.Image
	loaded   uint64
	rendered map[geometry][]byte // For the current image.
	changed  chan struct{}       // Closed and replaced when an image is loaded.
	err      error               // Last watch error.
}

// Check that Source implements sim.FrameSource.
var _ sim.FrameSource = (*Source)(nil)

// New starts watching a directory. If it already has images, the most recent
// one is loaded.
//
// Callers must call Close to clean up.
func New(opts *Opts) (source *Source, rerr error) {
	s := &Source{
		rendered: map[geometry][]byte{},
		changed:  make(chan struct{}),
	}
	if opts != nil {
		s.opts = *opts
	}
	s.log = s.opts.Logger
	if s.log == nil {
		s.log = log.L()
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	s.dir = s.opts.Dir
	if s.dir == "" {
		dir, err := kyfg.TempDir("images")
		if err != nil {
			return nil, fmt.Errorf("making temp dir: %v", err)
		}
		s.dir = dir
		s.tempDir = dir
	}
	s.log = s.log.With("imagedir", s.dir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	s.watcher = watcher
	if err := watcher.Add(s.dir); err != nil {
		return nil, fmt.Errorf("registering file change watcher for %s: %v", s.dir, err)
	}
	go s.watch()

	if p, err := newestImage(s.dir); err != nil {
		return nil, err
	} else if p != "" {
		if err := s.Load(p); err != nil {
			s.log.Warn("loading existing image", "path", p, "err", err)
		}
	}
	return s, nil
}

// isImage reports whether name is a PNG or JPEG file. Hidden files are
// skipped, writers use them for partial files.
func isImage(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func newestImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing %s: %v", dir, err)
	}
	type file struct {
		path string
		mod  int64
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(dir, e.Name()), fi.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].mod > files[j].mod
	})
	return files[0].path, nil
}

func (s *Source) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isImage(ev.Name) {
				continue
			}
			if err := s.Load(ev.Name); err != nil {
				// Files can be seen while partially written, a later write
				// event completes them.
				s.log.Debug("loading image", "path", ev.Name, "err", err)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watching for changes", "err", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}
}

// Dir returns the watched directory.
func (s *Source) Dir() string {
	return s.dir
}

// Load decodes the image at path and makes it the current picture.
func (s *Source) Load(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("decoding %s: %v", path, err)
	}
	if s.opts.Remove {
		if err := os.Remove(path); err != nil {
			s.log.Debug("removing image", "path", path, "err", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.loaded++
	s.rendered = map[geometry][]byte{}
	close(s.changed)
	s.changed = make(chan struct{})
	s.log.Debug("image loaded", "path", path, "bounds", img.Bounds().String())
	return nil
}

// Loaded returns how many images were loaded so far.
func (s *Source) Loaded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Wait blocks until at least n images were loaded.
func (s *Source) Wait(ctx context.Context, n uint64) error {
	for {
		s.mu.Lock()
		loaded, changed, err := s.loaded, s.changed, s.err
		s.mu.Unlock()
		if loaded >= n {
			return nil
		}
		if err != nil {
			return fmt.Errorf("watching %s: %v", s.dir, err)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Frame renders the current image. Before an image is loaded, frames are
// black.
func (s *Source) Frame(n uint64, width, height int, format sdk.PixelFormat, buf []byte) error {
	s.mu.Lock()
	img := s.img
	g := geometry{width, height, format}
	cached, ok := s.rendered[g]
	s.mu.Unlock()

	if img == nil {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if !ok {
		var err error
		cached, err = Render(img, width, height, format)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.img == img {
			s.rendered[g] = cached
		}
		s.mu.Unlock()
	}
	if len(cached) != len(buf) {
		return fmt.Errorf("rendered %d bytes for %dx%d %s, buffer has %d", len(cached), width, height, format, len(buf))
	}
	copy(buf, cached)
	return nil
}

// Render scales and crops img to fill width by height, and encodes it in the
// pixel format. Mono16 and BayerRG16 are little endian. Bayer formats use the
// RGGB layout.
func Render(img image.Image, width, height int, format sdk.PixelFormat) ([]byte, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %q", format)
	}
	fit := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	buf := make([]byte, width*height*bpp)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := fit.Pix[y*fit.Stride+4*x:]
			r, g, b := p[0], p[1], p[2]
			i := y*width + x
			switch format {
			case sdk.Mono8:
				buf[i] = luma(r, g, b)
			case sdk.Mono16:
				binary.LittleEndian.PutUint16(buf[2*i:], uint16(luma(r, g, b))*0x101)
			case sdk.BayerRG8:
				buf[i] = bayerRG(x, y, r, g, b)
			case sdk.BayerRG16:
				binary.LittleEndian.PutUint16(buf[2*i:], uint16(bayerRG(x, y, r, g, b))*0x101)
			case sdk.RGB8:
				buf[3*i] = r
				buf[3*i+1] = g
				buf[3*i+2] = b
			}
		}
	}
	return buf, nil
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}

func bayerRG(x, y int, r, g, b uint8) uint8 {
	switch {
	case x%2 == 0 && y%2 == 0:
		return r
	case x%2 == 1 && y%2 == 1:
		return b
	}
	return g
}

// Close stops watching, and removes the directory if it was created by New.
func (s *Source) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
	return nil
}
