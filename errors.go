package kyfg

import (
	"context"
	"errors"
	"fmt"

	"github.com/kyfg/kyfg-go/sdk"
)

// Errors returned by this package. Returned errors wrap one of these, test
// with errors.Is. SDK status codes are translated to them and never returned
// as-is.
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrDriverError       = errors.New("driver error")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrCameraNotFound    = errors.New("camera not found")
	ErrCameraBusy        = errors.New("camera busy")
	ErrInvalidFeature    = errors.New("invalid feature")
	ErrInvalidValue      = errors.New("invalid value")
	ErrReadOnlyFeature   = errors.New("read-only feature")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrStreamNotStarted  = errors.New("stream not started")
	ErrTimeout           = errors.New("timeout")
	ErrCancelled         = errors.New("cancelled")
)

var statusErrors = map[sdk.Status]error{
	sdk.StatusUnknownHandle:      ErrInvalidHandle,
	sdk.StatusHardwareNotFound:   ErrDeviceUnavailable,
	sdk.StatusMaxConnections:     ErrDeviceUnavailable,
	sdk.StatusBusy:               ErrCameraBusy,
	sdk.StatusWrongParameterName: ErrInvalidFeature,
	sdk.StatusWrongParameterType: ErrInvalidValue,
	sdk.StatusInvalidValue:       ErrInvalidValue,
	sdk.StatusOutOfRange:         ErrInvalidValue,
	sdk.StatusAccessDenied:       ErrReadOnlyFeature,
	sdk.StatusInvalidParameter:   ErrInvalidArgument,
	sdk.StatusBufferTooSmall:     ErrInvalidArgument,
	sdk.StatusFileNotFound:       ErrInvalidArgument,
	sdk.StatusStreamNotStarted:   ErrStreamNotStarted,
	sdk.StatusTimeout:            ErrTimeout,
}

// translate maps an error from the driver onto the errors of this package.
// The SDK status is kept in the message only.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var st sdk.Status
	if errors.As(err, &st) {
		if st == sdk.StatusOK {
			return nil
		}
		if e, ok := statusErrors[st]; ok {
			return fmt.Errorf("%w: %v", e, st)
		}
	}
	return fmt.Errorf("%w: %v", ErrDriverError, err)
}
