// Command kyfgserial sends a command to a Camera Link camera over the serial
// port of its grabber, and prints the response.
//
// Examples:
//
//	# List serial ports and quit.
//	kyfgserial -list
//
//	# Read the exposure time.
//	kyfgserial -port /dev/ttyS4 GET EXP
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kyfg/kyfg-go/clserial"
	"github.com/kyfg/kyfg-go/internal/log"
)

var (
	list       bool
	portPath   string
	baud       int
	dataBits   int
	stopBits   int
	parity     string
	timeout    time.Duration
	terminator string
	logLevel   string
)

func init() {
	flag.BoolVar(&list, "list", false, "if set, lists serial ports and exits")
	flag.StringVar(&portPath, "port", "", "serial port of the camera")
	flag.IntVar(&baud, "baud", 9600, "baud rate")
	flag.IntVar(&dataBits, "databits", 8, "data bits")
	flag.IntVar(&stopBits, "stopbits", 1, "stop bits, 1 or 2")
	flag.StringVar(&parity, "parity", "N", "parity: N, E or O")
	flag.DurationVar(&timeout, "timeout", time.Second, "how long to wait for the response")
	flag.StringVar(&terminator, "terminator", `\r`, `command terminator, \r or \n or \r\n`)
	flag.StringVar(&logLevel, "loglevel", "info", "log level: debug, info, warn or error")
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kyfgserial [flags] command ...")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	log.Init(os.Stderr, logLevel)
	os.Exit(main0(flag.Args()))
}

func main0(args []string) int {
	l := log.L()

	if list {
		ports, err := clserial.Ports()
		if err != nil {
			l.Error("listing ports", "err", err)
			return 1
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return 0
	}

	if portPath == "" || len(args) == 0 {
		usage()
	}

	opts := &clserial.Opts{
		Port: clserial.PortOptions{
			BaudRate: baud,
			DataBits: dataBits,
			StopBits: stopBits,
			Parity:   parity,
		},
		Terminator: strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(terminator),
		Timeout:    timeout,
	}
	conn, err := clserial.Open(portPath, opts)
	if err != nil {
		l.Error("opening port", "err", err)
		return 1
	}
	defer conn.Close()

	resp, err := conn.Command(strings.Join(args, " "))
	if err != nil {
		l.Error("command failed", "err", err)
		return 1
	}
	fmt.Println(resp)
	return 0
}
