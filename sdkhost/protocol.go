// Package sdkhost runs an SDK driver in a separate host process and talks to
// it over a unix domain socket. Keeping the vendor SDK out of the application
// process means a crashing driver does not take the application down, and a
// single host can own the grabbers for several short-lived tools.
//
// The protocol is newline-delimited JSON. Each request carries an id, the
// response echoes it. The first request on a connection is a hello.
package sdkhost

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/sdk"
)

// ProtocolVersion is sent in the hello request. Hosts refuse other versions.
const ProtocolVersion = 1

// DefaultPollInterval is how long the host waits for a buffer before answering
// a wait request with StatusTimeout.
const DefaultPollInterval = 200 * time.Millisecond

// readTimeout is added to the poll interval for reading a response.
const readTimeout = 5 * time.Second

// request is a call of one Driver method. Only the fields needed by the
// method are set.
type request struct {
	ID     int64      `json:"id"`
	Hello  int        `json:"hello,omitempty"`
	Method string     `json:"method,omitempty"`
	Index  int        `json:"index,omitempty"`
	Handle sdk.Handle `json:"handle,omitempty"`
	Stream sdk.Handle `json:"stream,omitempty"`
	Name   string     `json:"name,omitempty"`
	Path   string     `json:"path,omitempty"`
	Value  *sdk.Value `json:"value,omitempty"`
	Count  int        `json:"count,omitempty"`
	PollMS int64      `json:"poll_ms,omitempty"`
}

// response is the result of a request. Status is set for SDK errors, Error
// for everything else.
type response struct {
	ID      int64      `json:"id"`
	Success bool       `json:"success"`
	Status  sdk.Status `json:"status,omitempty"`
	Error   string     `json:"error,omitempty"`

	Count       int              `json:"count,omitempty"`
	Handle      sdk.Handle       `json:"handle,omitempty"`
	Handles     []sdk.Handle     `json:"handles,omitempty"`
	DeviceInfo  *sdk.DeviceInfo  `json:"device_info,omitempty"`
	CameraInfo  *sdk.CameraInfo  `json:"camera_info,omitempty"`
	Version     *sdk.Version     `json:"version,omitempty"`
	Names       []string         `json:"names,omitempty"`
	FeatureInfo *sdk.FeatureInfo `json:"feature_info,omitempty"`
	Value       *sdk.Value       `json:"value,omitempty"`
	Buffer      *sdk.BufferEvent `json:"buffer,omitempty"`
}

func (r *response) setError(err error) {
	r.Success = false
	var st sdk.Status
	if errors.As(err, &st) {
		r.Status = st
	}
	r.Error = err.Error()
}

func (r response) err() error {
	if r.Success {
		return nil
	}
	if r.Status != 0 {
		return r.Status
	}
	return fmt.Errorf("host: %s", r.Error)
}

// conn is one client connection to a host. Transactions are serialized.
type conn struct {
	mu       sync.Mutex
	nc       net.Conn
	enc      *json.Encoder
	dec      *json.Decoder
	lastID   int64
	traceDir string
}

func newConn(nc net.Conn, traceDir string) *conn {
	return &conn{
		nc:       nc,
		enc:      json.NewEncoder(nc),
		dec:      json.NewDecoder(nc),
		traceDir: traceDir,
	}
}

// Do a single request/response transaction, waiting at most timeout for the
// response.
func (c *conn) transact(req request, timeout time.Duration) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastID++
	req.ID = c.lastID
	if err := c.enc.Encode(req); err != nil {
		return response{}, fmt.Errorf("writing json to host: %v", err)
	}
	c.writeTrace(fmt.Sprintf("%s/host-%d-request.json", c.traceDir, req.ID), req)

	c.nc.SetReadDeadline(time.Now().Add(timeout))
	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		return response{}, fmt.Errorf("reading json from host: %v", err)
	}
	c.writeTrace(fmt.Sprintf("%s/host-%d-response.json", c.traceDir, req.ID), resp)

	if resp.ID != req.ID {
		return response{}, fmt.Errorf("response for request %d, expected %d", resp.ID, req.ID)
	}
	return resp, nil
}

func (c *conn) writeTrace(filename string, data interface{}) {
	if c.traceDir == "" {
		return
	}

	f, err := os.Create(filename)
	if err != nil {
		log.L().Warn("trace, creating file", "path", filename, "err", err)
		return
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(data); err != nil {
		log.L().Warn("trace, writing data", "path", filename, "err", err)
	}
}

func (c *conn) close() error {
	return c.nc.Close()
}
