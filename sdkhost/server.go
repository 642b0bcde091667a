package sdkhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyfg/kyfg-go/internal/log"
	"github.com/kyfg/kyfg-go/sdk"
)

// ServerOpts has options for a Server.
type ServerOpts struct {
	// Longest time a wait request blocks. Clients may ask for less. Default
	// DefaultPollInterval.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Server exports a driver to clients connecting on a listener.
type Server struct {
	drv  sdk.Driver
	opts ServerOpts
	log  *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer returns a server for drv. Call Serve to accept clients.
func NewServer(drv sdk.Driver, opts *ServerOpts) *Server {
	s := &Server{drv: drv, conns: map[net.Conn]struct{}{}}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.PollInterval <= 0 {
		s.opts.PollInterval = DefaultPollInterval
	}
	s.log = s.opts.Logger
	if s.log == nil {
		s.log = log.L()
	}
	return s
}

// Serve accepts connections on ln until Close is called, then returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %v", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return nil
		}
		s.conns[nc] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.serveConn(nc)
		}()
	}
}

// Close stops accepting connections, closes the open ones and waits for their
// requests to finish. The driver is not closed.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Server) serveConn(nc net.Conn) {
	log := s.log.With("conn", uuid.NewString())
	log.Debug("client connected")

	// Closing the connection stops a pending wait.
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		nc.Close()
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
		log.Debug("client disconnected")
	}()

	dec := json.NewDecoder(nc)
	enc := json.NewEncoder(nc)
	hello := false
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("reading request", "err", err)
			}
			return
		}

		var resp response
		if !hello {
			if req.Hello != ProtocolVersion {
				resp.setError(fmt.Errorf("expected hello with protocol version %d, got %d", ProtocolVersion, req.Hello))
			} else if v, err := s.drv.SoftwareVersion(); err != nil {
				resp.setError(err)
			} else {
				hello = true
				resp.Success = true
				resp.Version = &v
			}
		} else {
			resp = s.handle(ctx, req)
		}
		resp.ID = req.ID
		if err := enc.Encode(resp); err != nil {
			log.Warn("writing response", "err", err)
			return
		}
		if !hello {
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req request) (resp response) {
	var err error
	switch req.Method {
	case "Scan":
		resp.Count, err = s.drv.Scan()
	case "DeviceInfo":
		var info sdk.DeviceInfo
		info, err = s.drv.DeviceInfo(req.Index)
		resp.DeviceInfo = &info
	case "SoftwareVersion":
		var v sdk.Version
		v, err = s.drv.SoftwareVersion()
		resp.Version = &v
	case "Open":
		resp.Handle, err = s.drv.Open(req.Index)
	case "Close":
		err = s.drv.Close(req.Handle)
	case "CameraList":
		resp.Handles, err = s.drv.CameraList(req.Handle)
	case "CameraOpen":
		err = s.drv.CameraOpen(req.Handle, req.Path)
	case "CameraClose":
		err = s.drv.CameraClose(req.Handle)
	case "CameraInfo":
		var info sdk.CameraInfo
		info, err = s.drv.CameraInfo(req.Handle)
		resp.CameraInfo = &info
	case "FeatureNames":
		resp.Names, err = s.drv.FeatureNames(req.Handle)
	case "FeatureInfo":
		var fi sdk.FeatureInfo
		fi, err = s.drv.FeatureInfo(req.Handle, req.Name)
		resp.FeatureInfo = &fi
	case "GetFeature":
		var v sdk.Value
		v, err = s.drv.GetFeature(req.Handle, req.Name)
		resp.Value = &v
	case "SetFeature":
		if req.Value == nil {
			err = sdk.StatusInvalidParameter
			break
		}
		err = s.drv.SetFeature(req.Handle, req.Name, *req.Value)
	case "StreamCreate":
		resp.Handle, err = s.drv.StreamCreate(req.Handle, req.Count)
	case "StreamDelete":
		err = s.drv.StreamDelete(req.Handle)
	case "CameraStart":
		err = s.drv.CameraStart(req.Handle, req.Stream, req.Count)
	case "CameraStop":
		err = s.drv.CameraStop(req.Handle)
	case "WaitBuffer":
		var ev sdk.BufferEvent
		ev, err = s.wait(ctx, req)
		resp.Buffer = &ev
	default:
		err = fmt.Errorf("unknown method %q", req.Method)
	}
	if err != nil {
		resp.setError(err)
		return resp
	}
	resp.Success = true
	return resp
}

func (s *Server) wait(ctx context.Context, req request) (sdk.BufferEvent, error) {
	poll := s.opts.PollInterval
	if d := time.Duration(req.PollMS) * time.Millisecond; d > 0 && d < poll {
		poll = d
	}
	ctx, cancel := context.WithTimeout(ctx, poll)
	defer cancel()
	ev, err := s.drv.WaitBuffer(ctx, req.Handle)
	if errors.Is(err, context.DeadlineExceeded) {
		return ev, sdk.StatusTimeout
	}
	return ev, err
}
