package kyfg

import (
	"fmt"
	"math"
	"reflect"

	"github.com/kyfg/kyfg-go/sdk"
)

// featureSet gives typed access to the features of one SDK handle. Grabbers
// and cameras each have one.
type featureSet struct {
	drv    sdk.Driver
	handle sdk.Handle
	what   string // For error messages, e.g. "camera 0".

	// check is called before every access and fails when the owning handle
	// is no longer valid.
	check func() error
	// beforeSet, if set, can veto a write.
	beforeSet func(name string) error
}

func (fs featureSet) get(name string) (sdk.Value, error) {
	if err := fs.check(); err != nil {
		return sdk.Value{}, err
	}
	v, err := fs.drv.GetFeature(fs.handle, name)
	if err != nil {
		return sdk.Value{}, fmt.Errorf("reading %s feature %q: %w", fs.what, name, translate(err))
	}
	return v, nil
}

func (fs featureSet) info(name string) (sdk.FeatureInfo, error) {
	if err := fs.check(); err != nil {
		return sdk.FeatureInfo{}, err
	}
	fi, err := fs.drv.FeatureInfo(fs.handle, name)
	if err != nil {
		return sdk.FeatureInfo{}, fmt.Errorf("%s feature %q: %w", fs.what, name, translate(err))
	}
	return fi, nil
}

func (fs featureSet) names() ([]string, error) {
	if err := fs.check(); err != nil {
		return nil, err
	}
	l, err := fs.drv.FeatureNames(fs.handle)
	if err != nil {
		return nil, fmt.Errorf("listing %s features: %w", fs.what, translate(err))
	}
	return l, nil
}

func (fs featureSet) set(name string, value interface{}) error {
	fi, err := fs.info(name)
	if err != nil {
		return err
	}
	if fi.Access == sdk.AccessReadOnly {
		return fmt.Errorf("writing %s feature %q: %w", fs.what, name, ErrReadOnlyFeature)
	}
	if fs.beforeSet != nil {
		if err := fs.beforeSet(name); err != nil {
			return fmt.Errorf("writing %s feature %q: %w", fs.what, name, err)
		}
	}
	v, err := coerce(fi, value)
	if err != nil {
		return fmt.Errorf("writing %s feature %q: %w", fs.what, name, err)
	}
	if err := fs.drv.SetFeature(fs.handle, name, v); err != nil {
		return fmt.Errorf("writing %s feature %q: %w", fs.what, name, translate(err))
	}
	return nil
}

func (fs featureSet) getInt(name string) (int64, error) {
	v, err := fs.get(name)
	if err != nil {
		return 0, err
	}
	switch v.Type {
	case sdk.FeatureInt, sdk.FeatureEnum:
		return v.Int, nil
	}
	return 0, typeError(fs.what, name, v.Type, "int")
}

func (fs featureSet) getFloat(name string) (float64, error) {
	v, err := fs.get(name)
	if err != nil {
		return 0, err
	}
	switch v.Type {
	case sdk.FeatureFloat:
		return v.Float, nil
	case sdk.FeatureInt:
		return float64(v.Int), nil
	}
	return 0, typeError(fs.what, name, v.Type, "float")
}

func (fs featureSet) getBool(name string) (bool, error) {
	v, err := fs.get(name)
	if err != nil {
		return false, err
	}
	switch v.Type {
	case sdk.FeatureBool, sdk.FeatureCommand:
		return v.Bool, nil
	}
	return false, typeError(fs.what, name, v.Type, "bool")
}

func (fs featureSet) getString(name string) (string, error) {
	v, err := fs.get(name)
	if err != nil {
		return "", err
	}
	switch v.Type {
	case sdk.FeatureString, sdk.FeatureEnum:
		return v.String, nil
	}
	return "", typeError(fs.what, name, v.Type, "string")
}

func typeError(what, name string, have sdk.FeatureType, want string) error {
	return fmt.Errorf("reading %s feature %q: %w: feature is %s, not %s", what, name, ErrInvalidValue, have, want)
}

// coerce converts a Go value into the SDK value for the feature described by
// fi, checking type and range.
func coerce(fi sdk.FeatureInfo, value interface{}) (sdk.Value, error) {
	if v, ok := value.(sdk.Value); ok {
		if v.Type != fi.Type {
			return sdk.Value{}, fmt.Errorf("%w: %s value for %s feature", ErrInvalidValue, v.Type, fi.Type)
		}
		if fi.Type == sdk.FeatureEnum {
			return coerceEnum(fi, v.String, v.Int, v.String != "")
		}
		return v, checkRange(fi, v)
	}
	if f, ok := value.(sdk.PixelFormat); ok {
		value = string(f)
	}

	switch fi.Type {
	case sdk.FeatureInt:
		i, ok := asInt(value)
		if !ok {
			return sdk.Value{}, valueError(fi, value)
		}
		v := sdk.IntValue(i)
		return v, checkRange(fi, v)

	case sdk.FeatureFloat:
		var f float64
		switch x := value.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		default:
			i, ok := asInt(value)
			if !ok {
				return sdk.Value{}, valueError(fi, value)
			}
			f = float64(i)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return sdk.Value{}, fmt.Errorf("%w: %v is not a finite number", ErrInvalidValue, f)
		}
		v := sdk.FloatValue(f)
		return v, checkRange(fi, v)

	case sdk.FeatureBool:
		b, ok := value.(bool)
		if !ok {
			return sdk.Value{}, valueError(fi, value)
		}
		return sdk.BoolValue(b), nil

	case sdk.FeatureString:
		s, ok := value.(string)
		if !ok {
			return sdk.Value{}, valueError(fi, value)
		}
		return sdk.StringValue(s), nil

	case sdk.FeatureEnum:
		if s, ok := value.(string); ok {
			return coerceEnum(fi, s, 0, true)
		}
		i, ok := asInt(value)
		if !ok {
			return sdk.Value{}, valueError(fi, value)
		}
		return coerceEnum(fi, "", i, false)

	case sdk.FeatureCommand:
		switch x := value.(type) {
		case nil:
			return sdk.CommandValue(), nil
		case bool:
			if x {
				return sdk.CommandValue(), nil
			}
		default:
			if _, ok := asInt(value); ok {
				return sdk.CommandValue(), nil
			}
		}
		return sdk.Value{}, valueError(fi, value)

	case sdk.FeatureRegister:
		b, ok := value.([]byte)
		if !ok {
			return sdk.Value{}, valueError(fi, value)
		}
		if fi.RegisterSize > 0 && len(b) != fi.RegisterSize {
			return sdk.Value{}, fmt.Errorf("%w: register is %d bytes, got %d", ErrInvalidValue, fi.RegisterSize, len(b))
		}
		return sdk.RegisterValue(append([]byte(nil), b...)), nil
	}
	return sdk.Value{}, fmt.Errorf("%w: feature %q has unsupported type %s", ErrInvalidFeature, fi.Name, fi.Type)
}

func coerceEnum(fi sdk.FeatureInfo, name string, value int64, byName bool) (sdk.Value, error) {
	var e sdk.EnumEntry
	var ok bool
	if byName {
		e, ok = fi.Entry(name)
	} else {
		e, ok = fi.EntryByValue(value)
	}
	if !ok {
		if byName {
			return sdk.Value{}, fmt.Errorf("%w: %q is not an entry of %s", ErrInvalidValue, name, fi.Name)
		}
		return sdk.Value{}, fmt.Errorf("%w: %d is not an entry of %s", ErrInvalidValue, value, fi.Name)
	}
	return sdk.EnumValue(e.Name, e.Value), nil
}

func checkRange(fi sdk.FeatureInfo, v sdk.Value) error {
	if !fi.HasRange {
		return nil
	}
	switch v.Type {
	case sdk.FeatureInt:
		if v.Int < fi.IntMin || v.Int > fi.IntMax {
			return fmt.Errorf("%w: %d outside range [%d, %d] of %s", ErrInvalidValue, v.Int, fi.IntMin, fi.IntMax, fi.Name)
		}
	case sdk.FeatureFloat:
		if v.Float < fi.FloatMin || v.Float > fi.FloatMax {
			return fmt.Errorf("%w: %g outside range [%g, %g] of %s", ErrInvalidValue, v.Float, fi.FloatMin, fi.FloatMax, fi.Name)
		}
	}
	return nil
}

func valueError(fi sdk.FeatureInfo, value interface{}) error {
	return fmt.Errorf("%w: cannot use %T for %s feature %s", ErrInvalidValue, value, fi.Type, fi.Name)
}

// asInt returns any Go integer as int64. Unsigned values that do not fit fail.
func asInt(value interface{}) (int64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}
