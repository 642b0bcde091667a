package sdk

import (
	"fmt"
	"strings"
)

// FeatureType is the GenICam type of a feature.
type FeatureType int

const (
	FeatureUnknown FeatureType = iota
	FeatureInt
	FeatureBool
	FeatureString
	FeatureFloat
	FeatureEnum
	FeatureCommand
	FeatureRegister
)

func (t FeatureType) String() string {
	switch t {
	case FeatureInt:
		return "int"
	case FeatureBool:
		return "bool"
	case FeatureString:
		return "string"
	case FeatureFloat:
		return "float"
	case FeatureEnum:
		return "enum"
	case FeatureCommand:
		return "command"
	case FeatureRegister:
		return "register"
	}
	return "unknown"
}

// Access tells whether a feature can be read and written.
type Access int

const (
	AccessReadWrite Access = iota
	AccessReadOnly
	AccessWriteOnly
)

// EnumEntry is one allowed value of an enum feature.
type EnumEntry struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// FeatureInfo is the schema of one feature as published by the device.
// Ranges are only meaningful when HasRange is set.
type FeatureInfo struct {
	Name     string      `json:"name"`
	Type     FeatureType `json:"type"`
	Access   Access      `json:"access"`
	HasRange bool        `json:"has_range,omitempty"`
	IntMin   int64       `json:"int_min,omitempty"`
	IntMax   int64       `json:"int_max,omitempty"`
	FloatMin float64     `json:"float_min,omitempty"`
	FloatMax float64     `json:"float_max,omitempty"`
	Entries  []EnumEntry `json:"entries,omitempty"`
	// RegisterSize is the length in bytes of a register feature.
	RegisterSize int `json:"register_size,omitempty"`
}

// Entry returns the enum entry with the given name.
func (fi FeatureInfo) Entry(name string) (EnumEntry, bool) {
	for _, e := range fi.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EnumEntry{}, false
}

// EntryByValue returns the enum entry with the given numeric value.
func (fi FeatureInfo) EntryByValue(v int64) (EnumEntry, bool) {
	for _, e := range fi.Entries {
		if e.Value == v {
			return e, true
		}
	}
	return EnumEntry{}, false
}

// Value is a typed feature value. Which fields are meaningful depends on Type.
// Enum values carry both the entry name (String) and the numeric value (Int).
// Reading a command returns whether it finished executing in Bool.
type Value struct {
	Type   FeatureType `json:"type"`
	Int    int64       `json:"int,omitempty"`
	Float  float64     `json:"float,omitempty"`
	Bool   bool        `json:"bool,omitempty"`
	String string      `json:"string,omitempty"`
	Bytes  []byte      `json:"bytes,omitempty"`
}

func IntValue(v int64) Value       { return Value{Type: FeatureInt, Int: v} }
func FloatValue(v float64) Value   { return Value{Type: FeatureFloat, Float: v} }
func BoolValue(v bool) Value       { return Value{Type: FeatureBool, Bool: v} }
func StringValue(v string) Value   { return Value{Type: FeatureString, String: v} }
func RegisterValue(b []byte) Value { return Value{Type: FeatureRegister, Bytes: b} }

// EnumValue returns an enum value. Either name or value identifies the entry;
// an empty name selects by value.
func EnumValue(name string, value int64) Value {
	return Value{Type: FeatureEnum, String: name, Int: value}
}

// CommandValue returns the value written to execute a command feature.
func CommandValue() Value { return Value{Type: FeatureCommand, Int: 1} }

// Interface returns the value as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.Type {
	case FeatureInt:
		return v.Int
	case FeatureFloat:
		return v.Float
	case FeatureBool, FeatureCommand:
		return v.Bool
	case FeatureString, FeatureEnum:
		return v.String
	case FeatureRegister:
		return v.Bytes
	}
	return nil
}

// Format returns the value for display.
func (v Value) Format() string {
	switch v.Type {
	case FeatureInt:
		return fmt.Sprintf("%d", v.Int)
	case FeatureFloat:
		return fmt.Sprintf("%g", v.Float)
	case FeatureBool:
		return fmt.Sprintf("%v", v.Bool)
	case FeatureString:
		return v.String
	case FeatureEnum:
		return fmt.Sprintf("%s (%d)", v.String, v.Int)
	case FeatureCommand:
		if v.Bool {
			return "done"
		}
		return "pending"
	case FeatureRegister:
		var l []string
		for _, b := range v.Bytes {
			l = append(l, fmt.Sprintf("%02x", b))
		}
		return strings.Join(l, " ")
	}
	return "(unknown)"
}

// PixelFormat is the pixel layout of acquired frames, named like the GenICam
// PixelFormat enum entries.
type PixelFormat string

const (
	Mono8     PixelFormat = "Mono8"
	Mono16    PixelFormat = "Mono16"
	BayerRG8  PixelFormat = "BayerRG8"
	BayerRG16 PixelFormat = "BayerRG16"
	RGB8      PixelFormat = "RGB8"
)

// BytesPerPixel returns the size of one pixel, or 0 for unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case Mono8, BayerRG8:
		return 1
	case Mono16, BayerRG16:
		return 2
	case RGB8:
		return 3
	}
	return 0
}
