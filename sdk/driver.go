// Package sdk describes the contract of the vendor frame-grabber SDK. The SDK
// itself is closed source; package kyfg only talks to it through the Driver
// interface. Implementations are a native binding, the simulated driver in
// package sim, or a client for a driver running in a host process (package
// sdkhost).
package sdk

import (
	"context"
)

// Handle identifies a grabber, camera or stream inside the SDK.
type Handle uint32

// InvalidHandle is returned by the SDK when opening a device fails.
const InvalidHandle Handle = 0xFFFFFFFF

// MaxCameras is the largest number of cameras reported for one grabber.
const MaxCameras = 16

// Driver is the set of SDK primitives the binding wraps. Errors returned by a
// Driver are Status values, or context errors from WaitBuffer. Any other error
// is treated as a generic driver failure.
//
// A Driver must be safe for use from multiple goroutines: the binding calls
// WaitBuffer from a producer goroutine while control calls happen on the
// caller's goroutine.
type Driver interface {
	// Scan detects devices and returns how many are present.
	Scan() (int, error)
	DeviceInfo(index int) (DeviceInfo, error)
	SoftwareVersion() (Version, error)

	// Open connects to the device at index. Close releases the device and
	// everything the SDK allocated below it.
	Open(index int) (Handle, error)
	Close(grabber Handle) error

	// CameraList detects cameras attached to the grabber.
	CameraList(grabber Handle) ([]Handle, error)
	// CameraOpen opens a camera session. If xmlPath is not empty, it
	// overrides the GenICam description read from the camera.
	CameraOpen(camera Handle, xmlPath string) error
	CameraClose(camera Handle) error
	CameraInfo(camera Handle) (CameraInfo, error)

	// Feature access works on grabber and camera handles.
	FeatureNames(h Handle) ([]string, error)
	FeatureInfo(h Handle, name string) (FeatureInfo, error)
	GetFeature(h Handle, name string) (Value, error)
	SetFeature(h Handle, name string, v Value) error

	// StreamCreate allocates a stream with a ring of buffers for the camera.
	StreamCreate(camera Handle, buffers int) (Handle, error)
	StreamDelete(stream Handle) error

	// CameraStart starts acquisition into stream. Frames is the number of
	// frames to acquire, 0 for continuous acquisition.
	CameraStart(camera, stream Handle, frames int) error
	CameraStop(camera Handle) error

	// WaitBuffer blocks until the next buffer of stream completes. The
	// returned BufferEvent.Data is only valid until the next WaitBuffer call
	// on the same stream. WaitBuffer returns ctx.Err() when ctx is done,
	// StatusStreamNotStarted when acquisition stopped, and may return
	// StatusTimeout for poll-based implementations, in which case the caller
	// waits again.
	WaitBuffer(ctx context.Context, stream Handle) (BufferEvent, error)
}

// DeviceFlags describe the kind of device.
type DeviceFlags uint8

const (
	DeviceFlagGrabber   DeviceFlags = 0x1
	DeviceFlagGenerator DeviceFlags = 0x2
	DeviceFlagMixer     DeviceFlags = 0x4
)

// Protocol is the camera link protocol of a device.
type Protocol uint32

const (
	ProtocolCXP        Protocol = 0x0
	ProtocolCLHS       Protocol = 0x1
	ProtocolGigE       Protocol = 0x2
	ProtocolCameraLink Protocol = 0x3
	ProtocolUSB3       Protocol = 0x4
	ProtocolMixed      Protocol = 0xFF
	ProtocolUnknown    Protocol = 0xFFFF
)

func (p Protocol) String() string {
	switch p {
	case ProtocolCXP:
		return "CoaXPress"
	case ProtocolCLHS:
		return "CLHS"
	case ProtocolGigE:
		return "GigE Vision"
	case ProtocolCameraLink:
		return "Camera Link"
	case ProtocolUSB3:
		return "USB3 Vision"
	case ProtocolMixed:
		return "mixed"
	}
	return "unknown"
}

// DeviceInfo describes a grabber device before it is opened.
type DeviceInfo struct {
	Name       string      `json:"name"`
	Bus        int         `json:"bus"`
	Slot       int         `json:"slot"`
	Function   int         `json:"function"`
	PID        uint32      `json:"pid"`
	Virtual    bool        `json:"virtual"`
	Flags      DeviceFlags `json:"flags"`
	Protocol   Protocol    `json:"protocol"`
	Generation uint32      `json:"generation"`
}

// CameraInfo describes an attached camera.
type CameraInfo struct {
	MasterLink       uint8  `json:"master_link"`
	LinkMask         uint8  `json:"link_mask"`
	LinkSpeed        int    `json:"link_speed"`
	StreamID         uint32 `json:"stream_id"`
	DeviceVersion    string `json:"device_version"`
	VendorName       string `json:"vendor_name"`
	ManufacturerInfo string `json:"manufacturer_info"`
	ModelName        string `json:"model_name"`
	DeviceID         string `json:"device_id"`
	UserID           string `json:"user_id"`
	FirmwareVersion  string `json:"firmware_version"`
	Output           bool   `json:"output"`
	Virtual          bool   `json:"virtual"`
}

// Version is the SDK software version.
type Version struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	Patch uint16 `json:"patch"`
	Beta  uint16 `json:"beta,omitempty"`
	RC    uint16 `json:"rc,omitempty"`
	Alpha uint16 `json:"alpha,omitempty"`
}

// BufferStatus is the completion status of an acquired buffer.
type BufferStatus int

const (
	BufferComplete BufferStatus = iota
	BufferIncomplete
)

// BufferEvent is a completed buffer as reported by WaitBuffer.
type BufferEvent struct {
	// ID is the index of the buffer in the SDK stream.
	ID uint32 `json:"id"`
	// ImageID is the frame id reported by the transport protocol.
	ImageID uint64 `json:"image_id"`
	// Timestamp of acquisition, in nanoseconds.
	Timestamp  uint64       `json:"timestamp"`
	InstantFPS float64      `json:"instant_fps"`
	Status     BufferStatus `json:"status"`
	Data       []byte       `json:"data"`
}
