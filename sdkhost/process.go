package sdkhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kyfg/kyfg-go"
)

// hostSocket is the socket name passed to a host process, relative to its
// work directory.
const hostSocket = "host.sock"

// ProcessOpts contains options for starting a host process.
type ProcessOpts struct {
	// Explicitly set a working directory. This directory is not
	// automatically removed on Close. If empty, a temporary directory is
	// created.
	WorkDir string

	// Extra arguments, passed before the socket path.
	Args []string

	ClientOpts
}

// Process is a host process started by StartProcess, with a client
// connected to it.
type Process struct {
	client  *Client
	tempDir string             // Temp dir created for this process if any. Removed on close.
	cancel  context.CancelFunc // For stopping the host process.
	waited  chan struct{}
}

// StartProcess starts the host executable at path and connects to it. The
// host is started in the work directory with the socket name "host.sock" as
// last argument, and must listen on it.
//
// Always call Close, to stop the process and clean up temporary directories.
func StartProcess(path string, opts *ProcessOpts) (proc *Process, rerr error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path for host %q: %v", path, err)
	}

	var o ProcessOpts
	if opts != nil {
		o = *opts
	}
	p := &Process{}

	// Make sure we cleanup on failure.
	defer func() {
		if rerr != nil {
			p.Close()
		}
	}()

	if o.WorkDir == "" {
		dir, err := kyfg.SocketDir("host", hostSocket)
		if err != nil {
			return nil, fmt.Errorf("making temp dir: %v", err)
		}
		o.WorkDir = dir
		p.tempDir = dir
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	cmd := exec.CommandContext(ctx, path, append(o.Args[:len(o.Args):len(o.Args)], hostSocket)...)
	cmd.Dir = o.WorkDir
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting host process: %v", err)
	}
	p.waited = make(chan struct{})
	go func() {
		cmd.Wait()
		close(p.waited)
	}()

	sockPath := filepath.Join(o.WorkDir, hostSocket)
	for i := 0; ; i++ {
		c, err := Dial(sockPath, &o.ClientOpts)
		if err == nil {
			p.client = c
			break
		}
		if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("opening host socket: %v", err)
		}
		select {
		case <-p.waited:
			return nil, fmt.Errorf("host process exited before listening")
		default:
		}
		if i == 5000 {
			return nil, fmt.Errorf("no socket from host")
		}
		time.Sleep(1 * time.Millisecond)
	}
	return p, nil
}

// Client returns the driver connected to the process.
func (p *Process) Client() *Client {
	return p.client
}

// Close disconnects and stops the host process.
func (p *Process) Close() error {
	if p.client != nil {
		p.client.Disconnect()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.waited != nil {
		<-p.waited
	}
	if p.tempDir != "" {
		os.RemoveAll(p.tempDir)
	}
	return nil
}
