package sdkhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kyfg/kyfg-go/sdk"
)

// ClientOpts has options for Dial.
type ClientOpts struct {
	// Longest time one wait request blocks in the host. Default
	// DefaultPollInterval.
	PollInterval time.Duration

	// If not empty, the JSON-encoded requests and responses are written to
	// this directory.
	TraceDir string
}

// Client is a Driver whose calls are executed by a host.
type Client struct {
	path    string
	opts    ClientOpts
	version sdk.Version
	ctl     *conn

	// Waiting needs a connection per stream, so control calls and other
	// streams are not held up.
	mu     sync.Mutex
	waits  map[sdk.Handle]*conn
	closed bool
}

// Check that Client implements sdk.Driver.
var _ sdk.Driver = (*Client)(nil)

// Dial connects to the host listening on the unix socket at path.
func Dial(path string, opts *ClientOpts) (*Client, error) {
	c := &Client{path: path, waits: map[sdk.Handle]*conn{}}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.PollInterval <= 0 {
		c.opts.PollInterval = DefaultPollInterval
	}
	ctl, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.ctl = ctl
	return c, nil
}

func (c *Client) dial() (*conn, error) {
	nc, err := net.Dial("unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("connecting to host: %w", err)
	}
	cn := newConn(nc, c.opts.TraceDir)
	resp, err := cn.transact(request{Hello: ProtocolVersion}, readTimeout)
	if err == nil {
		err = resp.err()
	}
	if err != nil {
		cn.close()
		return nil, fmt.Errorf("hello to host: %v", err)
	}
	if resp.Version != nil {
		c.version = *resp.Version
	}
	return cn, nil
}

func (c *Client) call(req request) (response, error) {
	resp, err := c.ctl.transact(req, readTimeout)
	if err != nil {
		return resp, fmt.Errorf("%s: %v", req.Method, err)
	}
	return resp, resp.err()
}

func (c *Client) Scan() (int, error) {
	resp, err := c.call(request{Method: "Scan"})
	return resp.Count, err
}

func (c *Client) DeviceInfo(index int) (sdk.DeviceInfo, error) {
	resp, err := c.call(request{Method: "DeviceInfo", Index: index})
	if err != nil || resp.DeviceInfo == nil {
		return sdk.DeviceInfo{}, err
	}
	return *resp.DeviceInfo, nil
}

// SoftwareVersion returns the version the host reported when connecting.
func (c *Client) SoftwareVersion() (sdk.Version, error) {
	return c.version, nil
}

func (c *Client) Open(index int) (sdk.Handle, error) {
	resp, err := c.call(request{Method: "Open", Index: index})
	if err != nil {
		return sdk.InvalidHandle, err
	}
	return resp.Handle, nil
}

func (c *Client) Close(grabber sdk.Handle) error {
	_, err := c.call(request{Method: "Close", Handle: grabber})
	return err
}

func (c *Client) CameraList(grabber sdk.Handle) ([]sdk.Handle, error) {
	resp, err := c.call(request{Method: "CameraList", Handle: grabber})
	return resp.Handles, err
}

func (c *Client) CameraOpen(camera sdk.Handle, xmlPath string) error {
	_, err := c.call(request{Method: "CameraOpen", Handle: camera, Path: xmlPath})
	return err
}

func (c *Client) CameraClose(camera sdk.Handle) error {
	_, err := c.call(request{Method: "CameraClose", Handle: camera})
	return err
}

func (c *Client) CameraInfo(camera sdk.Handle) (sdk.CameraInfo, error) {
	resp, err := c.call(request{Method: "CameraInfo", Handle: camera})
	if err != nil || resp.CameraInfo == nil {
		return sdk.CameraInfo{}, err
	}
	return *resp.CameraInfo, nil
}

func (c *Client) FeatureNames(h sdk.Handle) ([]string, error) {
	resp, err := c.call(request{Method: "FeatureNames", Handle: h})
	return resp.Names, err
}

func (c *Client) FeatureInfo(h sdk.Handle, name string) (sdk.FeatureInfo, error) {
	resp, err := c.call(request{Method: "FeatureInfo", Handle: h, Name: name})
	if err != nil || resp.FeatureInfo == nil {
		return sdk.FeatureInfo{}, err
	}
	return *resp.FeatureInfo, nil
}

func (c *Client) GetFeature(h sdk.Handle, name string) (sdk.Value, error) {
	resp, err := c.call(request{Method: "GetFeature", Handle: h, Name: name})
	if err != nil || resp.Value == nil {
		return sdk.Value{}, err
	}
	return *resp.Value, nil
}

func (c *Client) SetFeature(h sdk.Handle, name string, v sdk.Value) error {
	_, err := c.call(request{Method: "SetFeature", Handle: h, Name: name, Value: &v})
	return err
}

func (c *Client) StreamCreate(camera sdk.Handle, buffers int) (sdk.Handle, error) {
	resp, err := c.call(request{Method: "StreamCreate", Handle: camera, Count: buffers})
	if err != nil {
		return sdk.InvalidHandle, err
	}
	return resp.Handle, nil
}

func (c *Client) StreamDelete(stream sdk.Handle) error {
	c.dropWait(stream)
	_, err := c.call(request{Method: "StreamDelete", Handle: stream})
	return err
}

func (c *Client) CameraStart(camera, stream sdk.Handle, frames int) error {
	_, err := c.call(request{Method: "CameraStart", Handle: camera, Stream: stream, Count: frames})
	return err
}

func (c *Client) CameraStop(camera sdk.Handle) error {
	_, err := c.call(request{Method: "CameraStop", Handle: camera})
	return err
}

// WaitBuffer asks the host to wait for at most one poll interval, and returns
// StatusTimeout if no buffer completed in that time.
func (c *Client) WaitBuffer(ctx context.Context, stream sdk.Handle) (sdk.BufferEvent, error) {
	if err := ctx.Err(); err != nil {
		return sdk.BufferEvent{}, err
	}
	poll := c.opts.PollInterval
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < poll {
			poll = max(d, time.Millisecond)
		}
	}

	cn, err := c.waitConn(stream)
	if err != nil {
		return sdk.BufferEvent{}, err
	}
	resp, err := cn.transact(request{Method: "WaitBuffer", Handle: stream, PollMS: (poll + time.Millisecond - 1).Milliseconds()}, poll+readTimeout)
	if err != nil {
		// The connection is out of sync after a failed transaction.
		c.dropWait(stream)
		return sdk.BufferEvent{}, fmt.Errorf("WaitBuffer: %v", err)
	}
	if err := resp.err(); err != nil {
		if errors.Is(err, sdk.StatusTimeout) && ctx.Err() != nil {
			return sdk.BufferEvent{}, ctx.Err()
		}
		if errors.Is(err, sdk.StatusUnknownHandle) {
			c.dropWait(stream)
		}
		return sdk.BufferEvent{}, err
	}
	if resp.Buffer == nil {
		return sdk.BufferEvent{}, fmt.Errorf("WaitBuffer: response without buffer")
	}
	return *resp.Buffer, nil
}

func (c *Client) waitConn(stream sdk.Handle) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, sdk.StatusUnknownHandle
	}
	if cn, ok := c.waits[stream]; ok {
		return cn, nil
	}
	cn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.waits[stream] = cn
	return cn, nil
}

func (c *Client) dropWait(stream sdk.Handle) {
	c.mu.Lock()
	cn, ok := c.waits[stream]
	delete(c.waits, stream)
	c.mu.Unlock()
	if ok {
		cn.close()
	}
}

// Disconnect closes the connections to the host. Devices opened through the
// client stay open in the host until they are closed or the host exits.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	waits := c.waits
	c.waits = map[sdk.Handle]*conn{}
	c.mu.Unlock()
	for _, cn := range waits {
		cn.close()
	}
	return c.ctl.close()
}
