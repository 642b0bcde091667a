package kyfg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyfg/kyfg-go/sdk"
)

func event(id uint64, size int) sdk.BufferEvent {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(id)
	}
	return sdk.BufferEvent{
		ID:        uint32(id),
		ImageID:   id,
		Timestamp: 1000 * (id + 1),
		Status:    sdk.BufferComplete,
		Data:      data,
	}
}

func frameIDs(frames []Frame) []uint64 {
	var l []uint64
	for _, f := range frames {
		l = append(l, f.FrameID)
	}
	return l
}

func TestRingOverwritesOldest(t *testing.T) {
	r := newRing(3, 2, 2, sdk.Mono8, 4, 8)

	for id := uint64(0); id < 5; id++ {
		assert.True(t, r.put(event(id, 4)))
	}
	st := r.stats()
	assert.Equal(t, uint64(5), st.Completed)
	assert.Equal(t, uint64(2), st.Dropped)

	frames, err := r.take(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 4}, frameIDs(frames))
	for _, f := range frames {
		assert.Equal(t, byte(f.FrameID), f.Data[0])
		assert.Equal(t, 2, f.Width)
	}
	assert.Equal(t, uint64(0), r.stats().DroppedSinceCapture)
}

func TestRingHeldSlotsNotOverwritten(t *testing.T) {
	r := newRing(2, 2, 2, sdk.Mono8, 4, 8)
	r.put(event(0, 4))
	r.put(event(1, 4))

	frames, err := r.take(context.Background(), 2)
	require.NoError(t, err)

	// Every slot is held, incoming frames are dropped.
	for id := uint64(2); id < 5; id++ {
		assert.False(t, r.put(event(id, 4)))
	}
	st := r.stats()
	assert.Equal(t, uint64(3), st.Dropped)
	assert.Equal(t, uint64(3), st.DroppedSinceCapture)
	for _, f := range frames {
		assert.True(t, f.Valid())
		assert.Equal(t, []byte{byte(f.FrameID), byte(f.FrameID), byte(f.FrameID), byte(f.FrameID)}, f.Data)
	}

	// The next take releases them, even when it times out.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.take(ctx, 1)
	require.ErrorIs(t, err, ErrTimeout)
	for _, f := range frames {
		assert.False(t, f.Valid())
	}

	assert.True(t, r.put(event(5, 4)))
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frames2, err := r.take(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, frameIDs(frames2))
	assert.Equal(t, byte(5), frames2[0].Data[0])
}

func TestRingDropCounterMonotonic(t *testing.T) {
	r := newRing(2, 1, 1, sdk.Mono8, 1, 8)
	var last uint64
	for id := uint64(0); id < 50; id++ {
		r.put(event(id, 1))
		if id%7 == 0 {
			_, err := r.take(context.Background(), 1)
			require.NoError(t, err)
		}
		d := r.stats().Dropped
		require.GreaterOrEqual(t, d, last)
		last = d
	}
	assert.NotZero(t, last)
}

func TestRingRejectsWrongSize(t *testing.T) {
	r := newRing(2, 2, 2, sdk.Mono8, 4, 8)
	assert.False(t, r.put(event(0, 3)))
	assert.False(t, r.put(event(1, 8)))

	ev := event(2, 4)
	ev.Status = sdk.BufferIncomplete
	assert.True(t, r.put(ev))

	st := r.stats()
	assert.Equal(t, uint64(1), st.Completed)
	assert.Equal(t, uint64(3), st.Incomplete)

	frames, err := r.take(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, frames[0].Complete())
}

func TestRingTakeCancelKeepsFrames(t *testing.T) {
	r := newRing(4, 1, 1, sdk.Mono8, 1, 8)
	r.put(event(0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.take(ctx, 2)
	require.ErrorIs(t, err, ErrCancelled)

	r.put(event(1, 1))
	frames, err := r.take(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, frameIDs(frames))
}

func TestRingFailAndClose(t *testing.T) {
	r := newRing(2, 1, 1, sdk.Mono8, 1, 8)
	r.put(event(0, 1))

	errDrv := errors.New("driver broke")
	r.fail(errDrv)

	// Ready frames are still returned, the error only when they run out.
	frames, err := r.take(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
	_, err = r.take(context.Background(), 1)
	require.ErrorIs(t, err, errDrv)

	r.resume()
	r.put(event(1, 1))
	frames, err = r.take(context.Background(), 1)
	require.NoError(t, err)

	r.close()
	r.close()
	assert.False(t, frames[0].Valid())
	assert.False(t, r.put(event(2, 1)))
	_, err = r.take(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestFPSWindow(t *testing.T) {
	w := newFPSWindow(3)
	mean, stddev := w.meanStdDev()
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 0.0, stddev)

	w.add(10)
	mean, stddev = w.meanStdDev()
	assert.Equal(t, 10.0, mean)
	assert.Equal(t, 0.0, stddev)

	w.add(20)
	w.add(30)
	mean, stddev = w.meanStdDev()
	assert.InDelta(t, 20.0, mean, 1e-9)
	assert.InDelta(t, 10.0, stddev, 1e-9)

	// The oldest value falls out of the window.
	w.add(40)
	mean, _ = w.meanStdDev()
	assert.InDelta(t, 30.0, mean, 1e-9)
}

func TestRingFPSFromTimestamps(t *testing.T) {
	r := newRing(4, 1, 1, sdk.Mono8, 1, 8)
	for id := uint64(0); id < 4; id++ {
		ev := event(id, 1)
		ev.Timestamp = id * 10_000_000 // 100 fps.
		r.put(ev)
	}
	st := r.stats()
	assert.InDelta(t, 100.0, st.FPSMean, 1e-9)
	assert.InDelta(t, 0.0, st.FPSStdDev, 1e-9)
}
