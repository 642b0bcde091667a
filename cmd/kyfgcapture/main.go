// Command kyfgcapture opens a camera on a frame grabber, acquires frames and
// prints them, optionally saving them as PNG files.
//
// Without -host, the simulated SDK is used. With -host, -imagedir is passed on
// to the host together with -grabber and -camera.
//
// Examples:
//
//	# List grabbers and cameras and quit.
//	kyfgcapture -listdevices
//
//	# Capture 10 frames from camera 1 of grabber 0, saving them in /tmp/frames.
//	kyfgcapture -camera 1 -count 10 -out /tmp/frames
//
//	# Apply a preset first, and save frames resized to 320 pixels wide.
//	kyfgcapture -preset camera.yaml -out . -resize 320
//
//	# Use the SDK through a host process, e.g. kyfghost.
//	kyfgcapture -host ./kyfghost -count 5
//
//	# Show the images dropped into a directory as frames.
//	kyfgcapture -imagedir /tmp/images -count 100 -out /tmp/frames
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/disintegration/imaging"

	"github.com/kyfg/kyfg-go"
	"github.com/kyfg/kyfg-go/imagedir"
	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/preset"
	"github.com/kyfg/kyfg-go/sdk"
	"github.com/kyfg/kyfg-go/sdkhost"
	"github.com/kyfg/kyfg-go/sim"
)

var (
	listDevices bool
	grabberIdx  int
	cameraIdx   int
	buffers     int
	count       int
	timeout     time.Duration
	outDir      string
	resize      int
	presetPath  string
	savePreset  string
	xmlPath     string
	hostPath    string
	imageDir    string
	logLevel    string
	traceDir    string
)

func init() {
	flag.BoolVar(&listDevices, "listdevices", false, "if set, lists grabbers and cameras and exits")
	flag.IntVar(&grabberIdx, "grabber", 0, "index of grabber to open")
	flag.IntVar(&cameraIdx, "camera", 0, "index of camera on the grabber")
	flag.IntVar(&buffers, "buffers", 4, "number of frame buffers in the stream")
	flag.IntVar(&count, "count", 1, "number of frames to capture")
	flag.DurationVar(&timeout, "timeout", kyfg.DefaultCaptureTimeout, "how long to wait for frames")
	flag.StringVar(&outDir, "out", "", "if set, directory to save frames to as PNG")
	flag.IntVar(&resize, "resize", 0, "if set, width to resize saved frames to, keeping aspect ratio")
	flag.StringVar(&presetPath, "preset", "", "if set, YAML preset file to apply to the camera before acquisition")
	flag.StringVar(&savePreset, "savepreset", "", "if set, save the camera features to this YAML preset file")
	flag.StringVar(&xmlPath, "xml", "", "if set, GenICam XML file overriding the camera description")
	flag.StringVar(&hostPath, "host", "", "if set, SDK host executable to start, e.g. kyfghost")
	flag.StringVar(&imageDir, "imagedir", "", "if set, the simulated camera shows images written to this directory")
	flag.StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warn or error")
	flag.StringVar(&traceDir, "tracedir", "", "if set, store host requests and responses in the named directory")
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kyfgcapture [flags]")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if len(flag.Args()) != 0 {
		usage()
	}
	log.Init(os.Stderr, logLevel)
	os.Exit(main0())
}

func main0() int {
	l := log.L()

	var drv sdk.Driver
	if hostPath != "" {
		popts := &sdkhost.ProcessOpts{
			Args:       hostArgs(imageDir, grabberIdx, cameraIdx),
			ClientOpts: sdkhost.ClientOpts{TraceDir: traceDir},
		}
		proc, err := sdkhost.StartProcess(hostPath, popts)
		if err != nil {
			l.Error("starting sdk host", "err", err)
			return 1
		}
		defer proc.Close()
		drv = proc.Client()
	} else {
		simDrv := sim.NewDefault()
		if imageDir != "" {
			src, err := imagedir.New(&imagedir.Opts{Dir: imageDir})
			if err != nil {
				l.Error("watching image directory", "err", err)
				return 1
			}
			defer src.Close()
			if err := simDrv.SetSource(grabberIdx, cameraIdx, src); err != nil {
				l.Error("setting frame source", "err", err)
				return 1
			}
		}
		drv = simDrv
	}

	sys := kyfg.New(drv, nil)
	defer sys.Close()

	if listDevices {
		if err := list(sys); err != nil {
			l.Error("listing devices", "err", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := sys.WithGrabber(grabberIdx, func(g *kyfg.Grabber) error {
		return g.WithCamera(cameraIdx, &kyfg.CameraOpts{XMLPath: xmlPath}, func(c *kyfg.Camera) error {
			return capture(ctx, c)
		})
	})
	if errors.Is(err, kyfg.ErrCancelled) {
		l.Info("interrupted")
		return 1
	} else if err != nil {
		l.Error("capture failed", "err", err)
		return 1
	}
	return 0
}

// hostArgs are the kyfghost flags for showing dir on the selected camera.
func hostArgs(dir string, grabber, camera int) []string {
	if dir == "" {
		return nil
	}
	return []string{"-imagedir", dir, "-grabber", strconv.Itoa(grabber), "-camera", strconv.Itoa(camera)}
}

func list(sys *kyfg.System) error {
	n, err := sys.Scan()
	if err != nil {
		return err
	}
	v, err := sys.SoftwareVersion()
	if err != nil {
		return err
	}
	fmt.Printf("sdk %d.%d.%d, %d grabbers\n", v.Major, v.Minor, v.Patch, n)
	for i := 0; i < n; i++ {
		info, err := sys.DeviceInfo(i)
		if err != nil {
			return err
		}
		fmt.Printf("%d: %s (%s, pci %02x:%02x.%d)\n", i, info.Name, info.Protocol, info.Bus, info.Slot, info.Function)

		err = sys.WithGrabber(i, func(g *kyfg.Grabber) error {
			ncam, err := g.CameraCount()
			if err != nil {
				return err
			}
			for j := 0; j < ncam; j++ {
				err := g.WithCamera(j, nil, func(c *kyfg.Camera) error {
					ci, err := c.Info()
					if err != nil {
						return err
					}
					fmt.Printf("\t%d: %s %s (%s)\n", j, ci.VendorName, ci.ModelName, ci.DeviceID)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			fmt.Printf("\t(%v)\n", err)
		}
	}
	return nil
}

func capture(ctx context.Context, c *kyfg.Camera) error {
	l := log.L()

	if presetPath != "" {
		p, err := preset.Load(presetPath)
		if err != nil {
			return err
		}
		if err := p.Apply(c); err != nil {
			return err
		}
		l.Info("preset applied", "path", presetPath, "features", len(p.Features))
	}
	if savePreset != "" {
		p, err := preset.Capture(c)
		if err != nil {
			return err
		}
		if err := p.Save(savePreset); err != nil {
			return err
		}
	}
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("making output directory: %v", err)
		}
	}

	return c.WithStream(buffers, &kyfg.StreamOpts{Timeout: timeout}, func(s *kyfg.Stream) error {
		if err := s.Start(); err != nil {
			return err
		}
		w, h, format := s.FrameSize()
		l.Info("acquisition started", "width", w, "height", h, "format", format, "buffers", buffers)

		for done := 0; done < count; {
			n := min(count-done, buffers)
			frames, err := s.Capture(ctx, n)
			if err != nil {
				return err
			}
			for _, f := range frames {
				fmt.Println(f)
				if outDir != "" {
					if err := save(f); err != nil {
						return err
					}
				}
			}
			done += n
		}
		fmt.Println(s.Stats())
		return s.Stop()
	})
}

func save(f kyfg.Frame) error {
	img, err := f.Image()
	if err != nil {
		return err
	}
	if resize > 0 {
		img = imaging.Resize(img, resize, 0, imaging.Lanczos)
	}
	p := filepath.Join(outDir, fmt.Sprintf("frame-%06d.png", f.Seq))
	if err := imaging.Save(img, p); err != nil {
		return fmt.Errorf("saving frame: %v", err)
	}
	return nil
}
