package kyfg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kyfg/kyfg-go/sdk"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{sdk.StatusUnknownHandle, ErrInvalidHandle},
		{sdk.StatusHardwareNotFound, ErrDeviceUnavailable},
		{sdk.StatusMaxConnections, ErrDeviceUnavailable},
		{sdk.StatusBusy, ErrCameraBusy},
		{sdk.StatusWrongParameterName, ErrInvalidFeature},
		{sdk.StatusWrongParameterType, ErrInvalidValue},
		{sdk.StatusInvalidValue, ErrInvalidValue},
		{sdk.StatusOutOfRange, ErrInvalidValue},
		{sdk.StatusAccessDenied, ErrReadOnlyFeature},
		{sdk.StatusInvalidParameter, ErrInvalidArgument},
		{sdk.StatusFileNotFound, ErrInvalidArgument},
		{sdk.StatusStreamNotStarted, ErrStreamNotStarted},
		{sdk.StatusTimeout, ErrTimeout},
		{sdk.StatusMemoryError, ErrDriverError},
		{sdk.StatusGenICamException, ErrDriverError},
		{sdk.StatusInitFailed, ErrDriverError},
		{sdk.Status(0x3999), ErrDriverError},
		{fmt.Errorf("in call: %w", sdk.StatusBusy), ErrCameraBusy},
		{context.Canceled, ErrCancelled},
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("something else"), ErrDriverError},
	}
	for _, tc := range tests {
		err := translate(tc.err)
		assert.ErrorIs(t, err, tc.want, "translate %v", tc.err)

		var st sdk.Status
		assert.False(t, errors.As(err, &st), "status leaked from %v", tc.err)
	}

	assert.NoError(t, translate(nil))
	assert.NoError(t, translate(sdk.StatusOK))
}

func TestTranslateKeepsStatusText(t *testing.T) {
	err := translate(sdk.StatusOutOfRange)
	assert.Contains(t, err.Error(), "0x300d")
	assert.Contains(t, err.Error(), "out of range")
}

func TestOpenError(t *testing.T) {
	for _, st := range []sdk.Status{sdk.StatusHardwareNotFound, sdk.StatusBusy, sdk.StatusMaxConnections} {
		assert.ErrorIs(t, openError(st), ErrDeviceUnavailable, "%v", st)
	}
	for _, err := range []error{sdk.StatusInitFailed, sdk.StatusUnknownHandle, errors.New("boom")} {
		assert.ErrorIs(t, openError(err), ErrDriverError, "%v", err)
	}
}
