package kyfg

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyfg/kyfg-go/sdk"
)

func TestCoerce(t *testing.T) {
	intInfo := sdk.FeatureInfo{Name: "Width", Type: sdk.FeatureInt, HasRange: true, IntMin: 16, IntMax: 1024}
	floatInfo := sdk.FeatureInfo{Name: "Gain", Type: sdk.FeatureFloat, HasRange: true, FloatMin: 0, FloatMax: 24}
	enumInfo := sdk.FeatureInfo{Name: "PixelFormat", Type: sdk.FeatureEnum, Entries: []sdk.EnumEntry{
		{Name: "Mono8", Value: 1},
		{Name: "Mono16", Value: 7},
	}}
	cmdInfo := sdk.FeatureInfo{Name: "TriggerSoftware", Type: sdk.FeatureCommand}
	regInfo := sdk.FeatureInfo{Name: "UserData", Type: sdk.FeatureRegister, RegisterSize: 2}

	good := []struct {
		info  sdk.FeatureInfo
		value interface{}
		want  sdk.Value
	}{
		{intInfo, 100, sdk.IntValue(100)},
		{intInfo, int8(16), sdk.IntValue(16)},
		{intInfo, uint32(1024), sdk.IntValue(1024)},
		{intInfo, sdk.IntValue(64), sdk.IntValue(64)},
		{floatInfo, 1.25, sdk.FloatValue(1.25)},
		{floatInfo, 3, sdk.FloatValue(3)},
		{floatInfo, uint8(2), sdk.FloatValue(2)},
		{sdk.FeatureInfo{Name: "b", Type: sdk.FeatureBool}, true, sdk.BoolValue(true)},
		{sdk.FeatureInfo{Name: "s", Type: sdk.FeatureString}, "x", sdk.StringValue("x")},
		{enumInfo, "Mono16", sdk.EnumValue("Mono16", 7)},
		{enumInfo, sdk.Mono8, sdk.EnumValue("Mono8", 1)},
		{enumInfo, 7, sdk.EnumValue("Mono16", 7)},
		{enumInfo, sdk.EnumValue("", 1), sdk.EnumValue("Mono8", 1)},
		{cmdInfo, nil, sdk.CommandValue()},
		{cmdInfo, true, sdk.CommandValue()},
		{cmdInfo, 1, sdk.CommandValue()},
		{regInfo, []byte{1, 2}, sdk.RegisterValue([]byte{1, 2})},
	}
	for _, tc := range good {
		v, err := coerce(tc.info, tc.value)
		require.NoError(t, err, "%s = %#v", tc.info.Name, tc.value)
		if diff := cmp.Diff(tc.want, v); diff != "" {
			t.Errorf("%s = %#v (-want +got):\n%s", tc.info.Name, tc.value, diff)
		}
	}

	bad := []struct {
		info  sdk.FeatureInfo
		value interface{}
	}{
		{intInfo, 15},
		{intInfo, 1025},
		{intInfo, "100"},
		{intInfo, 1.0},
		{intInfo, uint64(math.MaxUint64)},
		{intInfo, sdk.FloatValue(1)},
		{floatInfo, -0.5},
		{floatInfo, math.NaN()},
		{floatInfo, math.Inf(1)},
		{floatInfo, "1"},
		{sdk.FeatureInfo{Name: "b", Type: sdk.FeatureBool}, 1},
		{sdk.FeatureInfo{Name: "s", Type: sdk.FeatureString}, []byte("x")},
		{enumInfo, "Mono12"},
		{enumInfo, 2},
		{enumInfo, true},
		{cmdInfo, false},
		{cmdInfo, "go"},
		{regInfo, []byte{1}},
		{regInfo, "ab"},
	}
	for _, tc := range bad {
		_, err := coerce(tc.info, tc.value)
		assert.ErrorIs(t, err, ErrInvalidValue, "%s = %#v", tc.info.Name, tc.value)
	}

	_, err := coerce(sdk.FeatureInfo{Name: "x", Type: sdk.FeatureUnknown}, 1)
	assert.ErrorIs(t, err, ErrInvalidFeature)
}

func TestCoerceCopiesRegister(t *testing.T) {
	b := []byte{1, 2}
	v, err := coerce(sdk.FeatureInfo{Name: "r", Type: sdk.FeatureRegister}, b)
	require.NoError(t, err)
	b[0] = 9
	assert.Equal(t, []byte{1, 2}, v.Bytes)
}
