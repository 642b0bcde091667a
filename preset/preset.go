// Package preset saves and restores camera and grabber features as YAML
// files. A preset is an ordered list of feature values, applied in the order
// it was captured, except that OffsetX and OffsetY are reset before and
// written after all other features so the region of interest always fits.
package preset

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kyfg/kyfg-go/sdk"
)

// Entry is one feature value. Register values are stored hex encoded in
// Bytes, all other types in Value.
type Entry struct {
	Name  string      `yaml:"name"`
	Value interface{} `yaml:"value,omitempty"`
	Bytes string      `yaml:"bytes,omitempty"`
}

// Preset is an ordered list of feature values.
type Preset struct {
	// Model of the device the preset was captured from, informational.
	Model    string  `yaml:"model,omitempty"`
	Features []Entry `yaml:"features"`
}

// Source is a grabber or camera to capture feature values from.
type Source interface {
	Features() ([]string, error)
	FeatureInfo(name string) (sdk.FeatureInfo, error)
	Feature(name string) (sdk.Value, error)
}

// Target is a grabber or camera to apply a preset to.
type Target interface {
	SetFeature(name string, value interface{}) error
}

// Capture reads all writable features of src. Commands and read-only
// features are skipped.
func Capture(src Source) (*Preset, error) {
	names, err := src.Features()
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}
	p := &Preset{}
	for _, name := range names {
		fi, err := src.FeatureInfo(name)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", name, err)
		}
		if fi.Access != sdk.AccessReadWrite || fi.Type == sdk.FeatureCommand || fi.Type == sdk.FeatureUnknown {
			if name == "DeviceModelName" && fi.Type == sdk.FeatureString {
				if v, err := src.Feature(name); err == nil {
					p.Model = v.String
				}
			}
			continue
		}
		v, err := src.Feature(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		p.Features = append(p.Features, entry(name, v))
	}
	return p, nil
}

func entry(name string, v sdk.Value) Entry {
	e := Entry{Name: name}
	switch v.Type {
	case sdk.FeatureRegister:
		e.Bytes = hex.EncodeToString(v.Bytes)
	case sdk.FeatureEnum:
		e.Value = v.String
	default:
		e.Value = v.Interface()
	}
	return e
}

// Apply writes the values to dst in order, stopping at the first failure.
func (p *Preset) Apply(dst Target) error {
	// Offsets present in the preset are zeroed first and written after the
	// size, so the new size fits whatever offset the target has now.
	var offsets, rest []Entry
	for _, e := range p.Features {
		if isOffset(e.Name) {
			offsets = append(offsets, e)
		} else {
			rest = append(rest, e)
		}
	}
	for _, e := range offsets {
		if err := dst.SetFeature(e.Name, 0); err != nil {
			return fmt.Errorf("resetting %s: %w", e.Name, err)
		}
	}
	for _, e := range append(rest, offsets...) {
		var v interface{} = e.Value
		if e.Bytes != "" {
			b, err := hex.DecodeString(e.Bytes)
			if err != nil {
				return fmt.Errorf("feature %s: bad register bytes: %v", e.Name, err)
			}
			v = b
		}
		if err := dst.SetFeature(e.Name, v); err != nil {
			return fmt.Errorf("applying %s: %w", e.Name, err)
		}
	}
	return nil
}

func isOffset(name string) bool {
	return name == "OffsetX" || name == "OffsetY"
}

// Parse decodes a preset from YAML.
func Parse(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing preset: %v", err)
	}
	for i, e := range p.Features {
		if e.Name == "" {
			return nil, fmt.Errorf("preset entry %d without name", i)
		}
		if e.Value == nil && e.Bytes == "" {
			return nil, fmt.Errorf("preset entry %s without value", e.Name)
		}
	}
	return &p, nil
}

// Marshal encodes the preset as YAML.
func (p *Preset) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Load reads a preset file.
func Load(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading preset: %v", err)
	}
	return Parse(data)
}

// Save writes the preset to a file.
func (p *Preset) Save(path string) error {
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("encoding preset: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing preset: %v", err)
	}
	return nil
}
