// Command kyfghost serves the SDK on a unix domain socket, for kyfgcapture
// -host and other sdkhost clients. This build serves the simulated SDK.
//
// Examples:
//
//	# Serve on a socket in the current directory.
//	kyfghost host.sock
//
//	# Let camera 1 of grabber 0 show the images written to a directory.
//	kyfghost -imagedir /tmp/images -camera 1 host.sock
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kyfg/kyfg-go/imagedir"
	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/sdkhost"
	"github.com/kyfg/kyfg-go/sim"
)

var (
	imageDir   string
	grabberIdx int
	cameraIdx  int
	poll       time.Duration
	logLevel   string
)

func init() {
	flag.StringVar(&imageDir, "imagedir", "", "if set, the camera selected by -grabber and -camera shows images written to this directory")
	flag.IntVar(&grabberIdx, "grabber", 0, "grabber index of the -imagedir camera")
	flag.IntVar(&cameraIdx, "camera", 0, "camera index of the -imagedir camera")
	flag.DurationVar(&poll, "poll", sdkhost.DefaultPollInterval, "longest time a wait request blocks")
	flag.StringVar(&logLevel, "loglevel", "warn", "log level: debug, info, warn or error")
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kyfghost [flags] socket")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		usage()
	}
	log.Init(os.Stderr, logLevel)
	os.Exit(main0(args[0]))
}

func main0(sockPath string) int {
	l := log.L()

	drv := sim.NewDefault()
	if imageDir != "" {
		src, err := imagedir.New(&imagedir.Opts{Dir: imageDir})
		if err != nil {
			l.Error("watching image directory", "err", err)
			return 1
		}
		defer src.Close()
		if err := drv.SetSource(grabberIdx, cameraIdx, src); err != nil {
			l.Error("setting frame source", "err", err)
			return 1
		}
	}

	// A socket left by a previous run makes Listen fail.
	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		l.Error("listening", "err", err)
		return 1
	}
	defer os.Remove(sockPath)

	srv := sdkhost.NewServer(drv, &sdkhost.ServerOpts{PollInterval: poll})
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		srv.Close()
	}()

	l.Info("serving", "socket", sockPath)
	if err := srv.Serve(ln); err != nil {
		l.Error("serving", "err", err)
		return 1
	}
	return 0
}
