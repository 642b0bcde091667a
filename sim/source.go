package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/kyfg/kyfg-go/sdk"
)

// FrameSource renders the contents of a simulated frame. Frame is called with
// the driver locked, and must not block.
type FrameSource interface {
	// Frame fills buf, of exactly width*height*bytes-per-pixel bytes, with
	// frame n. Mono16 and BayerRG16 pixels are little endian.
	Frame(n uint64, width, height int, format sdk.PixelFormat, buf []byte) error
}

// FrameSourceFunc adapts a function to a FrameSource.
type FrameSourceFunc func(n uint64, width, height int, format sdk.PixelFormat, buf []byte) error

func (f FrameSourceFunc) Frame(n uint64, width, height int, format sdk.PixelFormat, buf []byte) error {
	return f(n, width, height, format, buf)
}

// Pattern is a diagonal gradient that moves one pixel per frame. The first
// pixel of frame n has value n (modulo the pixel range), so tests can tell
// frames apart by their contents.
type Pattern struct{}

func (Pattern) Frame(n uint64, width, height int, format sdk.PixelFormat, buf []byte) error {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint64(x+y) + n
			i := y*width + x
			switch format {
			case sdk.Mono8, sdk.BayerRG8:
				buf[i] = byte(v)
			case sdk.Mono16, sdk.BayerRG16:
				binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
			case sdk.RGB8:
				buf[3*i] = byte(v)
				buf[3*i+1] = byte(x)
				buf[3*i+2] = byte(y)
			default:
				return fmt.Errorf("unsupported pixel format %q", format)
			}
		}
	}
	return nil
}

// Solid fills each frame with one byte value.
type Solid byte

func (s Solid) Frame(n uint64, width, height int, format sdk.PixelFormat, buf []byte) error {
	for i := range buf {
		buf[i] = byte(s)
	}
	return nil
}
