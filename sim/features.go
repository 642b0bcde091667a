package sim

import (
	"github.com/kyfg/kyfg-go/sdk"
)

type feature struct {
	info  sdk.FeatureInfo
	value sdk.Value

	// get computes the value, for features derived from others.
	get func() sdk.Value
	// set is called with a validated value before it is stored. It can
	// reject the value with a status.
	set func(v sdk.Value) error
}

// features is a GenICam-like feature table of a device or camera. Callers hold
// the driver lock.
type features struct {
	order []string
	m     map[string]*feature
}

func newFeatures() *features {
	return &features{m: map[string]*feature{}}
}

func (fs *features) add(f *feature) *feature {
	if f.info.Type != sdk.FeatureCommand && f.value.Type == sdk.FeatureUnknown {
		f.value.Type = f.info.Type
	}
	fs.order = append(fs.order, f.info.Name)
	fs.m[f.info.Name] = f
	return f
}

func (fs *features) addInt(name string, access sdk.Access, v, min, max int64) *feature {
	return fs.add(&feature{
		info:  sdk.FeatureInfo{Name: name, Type: sdk.FeatureInt, Access: access, HasRange: true, IntMin: min, IntMax: max},
		value: sdk.IntValue(v),
	})
}

func (fs *features) addFloat(name string, access sdk.Access, v, min, max float64) *feature {
	return fs.add(&feature{
		info:  sdk.FeatureInfo{Name: name, Type: sdk.FeatureFloat, Access: access, HasRange: true, FloatMin: min, FloatMax: max},
		value: sdk.FloatValue(v),
	})
}

func (fs *features) addString(name string, access sdk.Access, v string) *feature {
	return fs.add(&feature{
		info:  sdk.FeatureInfo{Name: name, Type: sdk.FeatureString, Access: access},
		value: sdk.StringValue(v),
	})
}

func (fs *features) addEnum(name string, entries []sdk.EnumEntry, current string) *feature {
	f := &feature{info: sdk.FeatureInfo{Name: name, Type: sdk.FeatureEnum, Entries: entries}}
	e, _ := f.info.Entry(current)
	f.value = sdk.EnumValue(e.Name, e.Value)
	return fs.add(f)
}

func (fs *features) addCommand(name string, exec func() error) *feature {
	return fs.add(&feature{
		info:  sdk.FeatureInfo{Name: name, Type: sdk.FeatureCommand, Access: sdk.AccessWriteOnly},
		value: sdk.Value{Type: sdk.FeatureCommand, Bool: true},
		set: func(sdk.Value) error {
			if exec != nil {
				return exec()
			}
			return nil
		},
	})
}

func (fs *features) names() []string {
	return append([]string(nil), fs.order...)
}

func (fs *features) lookup(name string) (*feature, error) {
	f, ok := fs.m[name]
	if !ok {
		return nil, sdk.StatusWrongParameterName
	}
	return f, nil
}

func (fs *features) info(name string) (sdk.FeatureInfo, error) {
	f, err := fs.lookup(name)
	if err != nil {
		return sdk.FeatureInfo{}, err
	}
	return f.info, nil
}

func (fs *features) getValue(name string) (sdk.Value, error) {
	f, err := fs.lookup(name)
	if err != nil {
		return sdk.Value{}, err
	}
	if f.get != nil {
		return f.get(), nil
	}
	v := f.value
	if v.Bytes != nil {
		v.Bytes = append([]byte(nil), v.Bytes...)
	}
	return v, nil
}

func (fs *features) int(name string) int64 {
	v, _ := fs.getValue(name)
	return v.Int
}

func (fs *features) float(name string) float64 {
	v, _ := fs.getValue(name)
	return v.Float
}

func (fs *features) str(name string) string {
	v, _ := fs.getValue(name)
	return v.String
}

func (fs *features) setValue(name string, v sdk.Value) error {
	f, err := fs.lookup(name)
	if err != nil {
		return err
	}
	fi := f.info
	if v.Type != fi.Type {
		return sdk.StatusWrongParameterType
	}
	if fi.Access == sdk.AccessReadOnly || f.get != nil {
		return sdk.StatusAccessDenied
	}

	switch fi.Type {
	case sdk.FeatureInt:
		if fi.HasRange && (v.Int < fi.IntMin || v.Int > fi.IntMax) {
			return sdk.StatusOutOfRange
		}
	case sdk.FeatureFloat:
		if fi.HasRange && (v.Float < fi.FloatMin || v.Float > fi.FloatMax) {
			return sdk.StatusOutOfRange
		}
	case sdk.FeatureEnum:
		var e sdk.EnumEntry
		var ok bool
		if v.String != "" {
			e, ok = fi.Entry(v.String)
		} else {
			e, ok = fi.EntryByValue(v.Int)
		}
		if !ok {
			return sdk.StatusInvalidValue
		}
		v = sdk.EnumValue(e.Name, e.Value)
	case sdk.FeatureRegister:
		if fi.RegisterSize > 0 && len(v.Bytes) != fi.RegisterSize {
			return sdk.StatusInvalidValue
		}
		v.Bytes = append([]byte(nil), v.Bytes...)
	}

	if f.set != nil {
		if err := f.set(v); err != nil {
			return err
		}
	}
	if fi.Type != sdk.FeatureCommand {
		f.value = v
	}
	return nil
}

// Pixel format codes of the GenICam PFNC.
var pixelFormats = []sdk.EnumEntry{
	{Name: string(sdk.Mono8), Value: 0x01080001},
	{Name: string(sdk.Mono16), Value: 0x01100007},
	{Name: string(sdk.BayerRG8), Value: 0x01080009},
	{Name: string(sdk.BayerRG16), Value: 0x0110000F},
	{Name: string(sdk.RGB8), Value: 0x02180014},
}

var onOff = []sdk.EnumEntry{
	{Name: "Off", Value: 0},
	{Name: "On", Value: 1},
}

func deviceFeatures(d *device) *features {
	fs := newFeatures()
	fs.addString("DeviceModelName", sdk.AccessReadOnly, d.cfg.Info.Name)
	fs.addString("DeviceUserID", sdk.AccessReadWrite, "")
	fs.addFloat("DeviceTemperature", sdk.AccessReadOnly, 41.5, -40, 125)
	fs.addInt("CameraSelector", sdk.AccessReadWrite, 0, 0, int64(max(len(d.cfg.Cameras)-1, 0)))
	return fs
}

func cameraFeatures(c *camera) *features {
	cfg := c.cfg
	fs := newFeatures()
	fs.addString("DeviceVendorName", sdk.AccessReadOnly, cfg.Info.VendorName)
	fs.addString("DeviceModelName", sdk.AccessReadOnly, cfg.Info.ModelName)
	fs.addString("DeviceFirmwareVersion", sdk.AccessReadOnly, cfg.Info.FirmwareVersion)
	// Width, Height and the offsets count binned pixels, so their limits
	// shrink with the binning factor.
	binx := fs.addInt("BinningHorizontal", sdk.AccessReadWrite, 1, 1, 4)
	biny := fs.addInt("BinningVertical", sdk.AccessReadWrite, 1, 1, 4)
	wmax := func() int64 { return int64(cfg.WidthMax) / binx.value.Int }
	hmax := func() int64 { return int64(cfg.HeightMax) / biny.value.Int }
	fs.add(&feature{
		info: sdk.FeatureInfo{Name: "WidthMax", Type: sdk.FeatureInt, Access: sdk.AccessReadOnly},
		get:  func() sdk.Value { return sdk.IntValue(wmax()) },
	})
	fs.add(&feature{
		info: sdk.FeatureInfo{Name: "HeightMax", Type: sdk.FeatureInt, Access: sdk.AccessReadOnly},
		get:  func() sdk.Value { return sdk.IntValue(hmax()) },
	})

	width := fs.addInt("Width", sdk.AccessReadWrite, int64(cfg.Width), 16, int64(cfg.WidthMax))
	height := fs.addInt("Height", sdk.AccessReadWrite, int64(cfg.Height), 1, int64(cfg.HeightMax))
	offx := fs.addInt("OffsetX", sdk.AccessReadWrite, 0, 0, int64(cfg.WidthMax)-16)
	offy := fs.addInt("OffsetY", sdk.AccessReadWrite, 0, 0, int64(cfg.HeightMax)-1)
	width.set = func(v sdk.Value) error {
		if v.Int+offx.value.Int > wmax() {
			return sdk.StatusOutOfRange
		}
		return nil
	}
	height.set = func(v sdk.Value) error {
		if v.Int+offy.value.Int > hmax() {
			return sdk.StatusOutOfRange
		}
		return nil
	}
	offx.set = func(v sdk.Value) error {
		if v.Int+width.value.Int > wmax() {
			return sdk.StatusOutOfRange
		}
		return nil
	}
	offy.set = func(v sdk.Value) error {
		if v.Int+height.value.Int > hmax() {
			return sdk.StatusOutOfRange
		}
		return nil
	}
	binx.set = func(v sdk.Value) error {
		rebin(width, offx, binx.value.Int, v.Int, int64(cfg.WidthMax)/v.Int)
		return nil
	}
	biny.set = func(v sdk.Value) error {
		rebin(height, offy, biny.value.Int, v.Int, int64(cfg.HeightMax)/v.Int)
		return nil
	}
	fs.addEnum("PixelFormat", pixelFormats, string(cfg.PixelFormat))

	fs.add(&feature{
		info: sdk.FeatureInfo{Name: "PayloadSize", Type: sdk.FeatureInt, Access: sdk.AccessReadOnly},
		get: func() sdk.Value {
			bpp := sdk.PixelFormat(fs.str("PixelFormat")).BytesPerPixel()
			return sdk.IntValue(fs.int("Width") * fs.int("Height") * int64(bpp))
		},
	})

	fs.addFloat("ExposureTime", sdk.AccessReadWrite, 10000, 10, 1e6)
	fs.addFloat("Gain", sdk.AccessReadWrite, 0, 0, 24)
	fs.addFloat("AcquisitionFrameRate", sdk.AccessReadWrite, cfg.FrameRate, 1, 100000)
	fs.addEnum("TriggerMode", onOff, "Off")
	fs.addCommand("TriggerSoftware", c.trigger)
	fs.addCommand("AcquisitionStart", nil)
	fs.add(&feature{
		info:  sdk.FeatureInfo{Name: "UserData", Type: sdk.FeatureRegister, Access: sdk.AccessReadWrite, RegisterSize: 16},
		value: sdk.RegisterValue(make([]byte, 16)),
	})
	fs.addEnum("ReverseX", onOff, "Off")
	return fs
}

// rebin scales a size and offset pair from binning factor old to bin, keeping
// the region inside limit.
func rebin(size, off *feature, old, bin, limit int64) {
	n := max(min(limit, size.value.Int*old/bin), size.info.IntMin)
	size.value.Int = n
	size.info.IntMax = limit
	off.value.Int = min(limit-n, off.value.Int*old/bin)
	off.info.IntMax = limit - size.info.IntMin
}
