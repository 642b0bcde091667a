package kyfg

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/kyfg/kyfg-go/sdk"
)

// Frame is one completed buffer returned by Stream.Capture. Data points into
// the stream's buffer ring and is only valid until the next Capture on the
// stream, or until the stream closes. Use Clone to keep a frame longer.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format sdk.PixelFormat

	// FrameID is the image id assigned by the SDK.
	FrameID uint64
	// BufferID is the SDK buffer the frame was delivered in.
	BufferID uint32
	// Timestamp of frame completion in nanoseconds, from the SDK clock.
	Timestamp uint64
	// Seq is the completion order within the stream, starting at 1.
	Seq    uint64
	Status sdk.BufferStatus

	ring *ring
	slot int
	gen  uint64
}

// Valid reports whether Data still refers to this frame's buffer. Frames
// returned by Clone are always valid.
func (f Frame) Valid() bool {
	if f.ring == nil {
		return f.Data != nil
	}
	return f.ring.valid(f.slot, f.gen)
}

// Clone returns a copy of the frame that does not reference the ring.
func (f Frame) Clone() Frame {
	nf := f
	nf.Data = append([]byte(nil), f.Data...)
	nf.ring = nil
	nf.slot = 0
	nf.gen = 0
	return nf
}

// Complete reports whether the SDK delivered the whole frame.
func (f Frame) Complete() bool {
	return f.Status == sdk.BufferComplete
}

// String returns a short description for logging.
func (f Frame) String() string {
	return fmt.Sprintf("frame %d (seq %d, %dx%d %s, ts %d)", f.FrameID, f.Seq, f.Width, f.Height, f.Format, f.Timestamp)
}

// Image returns the frame as an image. Mono8 and 8-bit Bayer frames are
// returned as an *image.Gray sharing Data, so the same validity rules apply.
// Mono16 and 16-bit Bayer frames (little endian) are converted to a new
// *image.Gray16, and RGB8 to a new *image.NRGBA.
func (f Frame) Image() (image.Image, error) {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: unsupported pixel format %q", ErrInvalidArgument, f.Format)
	}
	if n := f.Width * f.Height * bpp; len(f.Data) < n {
		return nil, fmt.Errorf("%w: frame has %d bytes, need %d for %dx%d %s", ErrInvalidValue, len(f.Data), n, f.Width, f.Height, f.Format)
	}
	r := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case sdk.Mono8, sdk.BayerRG8:
		return &image.Gray{Pix: f.Data[:f.Width*f.Height], Stride: f.Width, Rect: r}, nil

	case sdk.Mono16, sdk.BayerRG16:
		img := image.NewGray16(r)
		for i := 0; i < f.Width*f.Height; i++ {
			v := binary.LittleEndian.Uint16(f.Data[2*i:])
			img.SetGray16(i%f.Width, i/f.Width, color.Gray16{Y: v})
		}
		return img, nil

	case sdk.RGB8:
		img := image.NewNRGBA(r)
		for i := 0; i < f.Width*f.Height; i++ {
			copy(img.Pix[4*i:4*i+3], f.Data[3*i:3*i+3])
			img.Pix[4*i+3] = 0xff
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: unsupported pixel format %q", ErrInvalidArgument, f.Format)
}
