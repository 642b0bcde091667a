// Package clserial talks to Camera Link cameras over the serial channel the
// grabber exposes as a serial port. Cameras take ASCII commands and answer
// with a line, which Command returns.
package clserial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrTimeout is returned when the camera does not answer a command in time.
var ErrTimeout = errors.New("serial response timeout")

// Port is the part of a serial port used by Conn.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// PortOptions are the line settings. Zero fields get the Camera Link
// defaults: 9600 baud, 8 data bits, no parity, 1 stop bit.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Normalize validates the options and applies defaults.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = 9600
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(o.Parity)) {
	case "", "N", "NONE":
		o.Parity = "N"
	case "E", "EVEN":
		o.Parity = "E"
	case "O", "ODD":
		o.Parity = "O"
	default:
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return o, nil
}

// SerialMode returns the mode for opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	o, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: o.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if o.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch o.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Opts has options for a Conn.
type Opts struct {
	Port PortOptions

	// Appended to each command. Default "\r".
	Terminator string

	// Marks the end of a response. Default "\r\n".
	ResponseEnd string

	// How long to wait for a complete response. Default 1 second.
	Timeout time.Duration
}

// Conn is a command connection to a camera. Commands are serialized.
type Conn struct {
	opts Opts
	mu   sync.Mutex
	port Port
}

// Ports lists the serial ports of the system.
func Ports() ([]string, error) {
	l, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %v", err)
	}
	return l, nil
}

// Open opens the serial port at path.
func Open(path string, opts *Opts) (*Conn, error) {
	var o Opts
	if opts != nil {
		o = *opts
	}
	mode, err := o.Port.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	c, err := New(port, &o)
	if err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

// New returns a connection on an open port. The port is closed by Close.
func New(port Port, opts *Opts) (*Conn, error) {
	c := &Conn{port: port}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.Terminator == "" {
		c.opts.Terminator = "\r"
	}
	if c.opts.ResponseEnd == "" {
		c.opts.ResponseEnd = "\r\n"
	}
	if c.opts.Timeout <= 0 {
		c.opts.Timeout = time.Second
	}
	// Reads return after at most this long, so the response deadline is
	// checked regularly.
	if err := port.SetReadTimeout(min(c.opts.Timeout, 50*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("setting read timeout: %v", err)
	}
	return c, nil
}

// Command sends cmd and returns the response, without the response end.
func (c *Conn) Command(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.port, cmd+c.opts.Terminator); err != nil {
		return "", fmt.Errorf("writing command: %v", err)
	}

	end := []byte(c.opts.ResponseEnd)
	deadline := time.Now().Add(c.opts.Timeout)
	var resp []byte
	buf := make([]byte, 256)
	for {
		n, err := c.port.Read(buf)
		resp = append(resp, buf[:n]...)
		if i := bytes.Index(resp, end); i >= 0 {
			return string(resp[:i]), nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading response: %v", err)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after command %q, %d bytes read", ErrTimeout, cmd, len(resp))
		}
	}
}

// Close closes the port.
func (c *Conn) Close() error {
	return c.port.Close()
}
