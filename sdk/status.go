package sdk

import (
	"fmt"
)

// Status is a status code returned by the vendor SDK. Status values other than
// StatusOK are errors.
type Status uint32

// Status codes, in the FGSTATUS_ range of the SDK.
const (
	StatusOK                 Status = 0x3000
	StatusUnknownHandle      Status = 0x3001
	StatusHardwareNotFound   Status = 0x3002
	StatusBusy               Status = 0x3003
	StatusFileNotFound       Status = 0x3004
	StatusFileReadError      Status = 0x3005
	StatusConfigNotLoaded    Status = 0x3006
	StatusInvalidValue       Status = 0x3007
	StatusMaxConnections     Status = 0x3008
	StatusMemoryError        Status = 0x3009
	StatusWrongParameterName Status = 0x300A
	StatusWrongParameterType Status = 0x300B
	StatusGenICamException   Status = 0x300C
	StatusOutOfRange         Status = 0x300D
	StatusAccessDenied       Status = 0x300E
	StatusTimeout            Status = 0x300F
	StatusNotSupported       Status = 0x3010
	StatusInvalidParameter   Status = 0x3011
	StatusStreamNotStarted   Status = 0x3012
	StatusInitFailed         Status = 0x3013
	StatusBufferTooSmall     Status = 0x3014
)

var statusNames = map[Status]string{
	StatusOK:                 "ok",
	StatusUnknownHandle:      "unknown handle",
	StatusHardwareNotFound:   "hardware not found",
	StatusBusy:               "busy",
	StatusFileNotFound:       "file not found",
	StatusFileReadError:      "file read error",
	StatusConfigNotLoaded:    "configuration not loaded",
	StatusInvalidValue:       "invalid value",
	StatusMaxConnections:     "maximum connections reached",
	StatusMemoryError:        "memory error",
	StatusWrongParameterName: "wrong parameter name",
	StatusWrongParameterType: "wrong parameter type",
	StatusGenICamException:   "genicam exception",
	StatusOutOfRange:         "out of range",
	StatusAccessDenied:       "access denied",
	StatusTimeout:            "timeout",
	StatusNotSupported:       "not supported",
	StatusInvalidParameter:   "invalid parameter",
	StatusStreamNotStarted:   "stream not started",
	StatusInitFailed:         "initialization failed",
	StatusBufferTooSmall:     "buffer too small",
}

// Error returns a human-readable description with the numeric code.
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("sdk status %#x: %s", uint32(s), name)
	}
	return fmt.Sprintf("sdk status %#x", uint32(s))
}

// Err returns nil for StatusOK and s otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}
