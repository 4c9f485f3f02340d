package renderctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/videoout"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
)

func TestNewParameterValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, nil, videoout.Config{})
	require.ErrorAs(t, err, &types.ErrInvalidParameter{})

	_, err = New(ctx, nil, videoout.Config{},
		Param{Type: ParamAPIType, Data: "no-such-api"},
	)
	require.ErrorAs(t, err, &types.ErrNotImplemented{})

	_, err = New(ctx, nil, videoout.Config{},
		Param{Type: ParamAPIType, Data: 42},
	)
	require.ErrorAs(t, err, &types.ErrInvalidParameter{})

	// the zero-type param terminates the list
	_, err = New(ctx, nil, videoout.Config{},
		Param{},
		Param{Type: ParamAPIType, Data: "software"},
	)
	require.ErrorAs(t, err, &types.ErrInvalidParameter{})
}

func TestOnlyOneContextPerCore(t *testing.T) {
	ctx := context.Background()
	core := &videoout.Core{}

	rc, err := New(ctx, core, videoout.Config{},
		Param{Type: ParamAPIType, Data: "software"},
	)
	require.NoError(t, err)
	defer rc.Free(ctx)

	_, err = New(ctx, core, videoout.Config{},
		Param{Type: ParamAPIType, Data: "software"},
	)
	require.Error(t, err)

	rc.Free(ctx)
	rc2, err := New(ctx, core, videoout.Config{},
		Param{Type: ParamAPIType, Data: "software"},
	)
	require.NoError(t, err)
	rc2.Free(ctx)
}

func newTestContext(t *testing.T) (*Context, *videoout.VO) {
	ctx := context.Background()
	rc, err := New(ctx, &videoout.Core{}, videoout.Config{},
		Param{Type: ParamAPIType, Data: "software"},
	)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Free(ctx) })
	vo := rc.VO()
	params := types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
	require.NoError(t, vo.Reconfig(ctx, params))
	return rc, vo
}

func queueTestFrame(t *testing.T, vo *videoout.VO, fill byte) {
	ctx := context.Background()
	params := types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
	img, err := vo.GetImage(ctx, params, 1)
	require.NoError(t, err)
	bimg := img.(*frame.BytesImage)
	for i := range bimg.Data {
		bimg.Data[i] = fill
	}
	f := frame.NewFromPool()
	f.Frames = frame.NewRing(1)
	f.Frames.Push(img)
	require.NoError(t, vo.QueueFrame(ctx, f))
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the update callback")
	}
}

func TestUpdateRenderPairing(t *testing.T) {
	ctx := context.Background()
	rc, vo := newTestContext(t)

	notified := make(chan struct{}, 16)
	rc.SetUpdateCallback(ctx, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	require.Zero(t, rc.Update(ctx))
	info := rc.NextFrameInfo(ctx)
	require.Zero(t, info.Flags&FrameInfoPresent)

	queueTestFrame(t, vo, 0xab)
	waitSignal(t, notified)

	flags := rc.Update(ctx)
	require.NotZero(t, flags&UpdateFrame)
	info = rc.NextFrameInfo(ctx)
	require.NotZero(t, info.Flags&FrameInfoPresent)

	target := &SoftwareTarget{
		Width:  4,
		Height: 2,
		Stride: 16,
		Pixels: make([]byte, 32),
	}
	err := rc.Render(ctx, Param{Type: ParamSoftwareTarget, Data: target})
	require.NoError(t, err)
	for _, b := range target.Pixels {
		require.Equal(t, byte(0xab), b)
	}
	rc.ReportSwap(ctx)

	// the pending frame was consumed
	require.Zero(t, rc.Update(ctx)&UpdateFrame)
	require.NoError(t, vo.WaitFrame(ctx))
}

func TestRenderWithoutPendingRepeatsLastFrame(t *testing.T) {
	ctx := context.Background()
	rc, vo := newTestContext(t)

	notified := make(chan struct{}, 16)
	rc.SetUpdateCallback(ctx, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	queueTestFrame(t, vo, 0x11)
	waitSignal(t, notified)
	require.NotZero(t, rc.Update(ctx)&UpdateFrame)

	target := &SoftwareTarget{Width: 4, Height: 2, Stride: 16, Pixels: make([]byte, 32)}
	require.NoError(t, rc.Render(ctx, Param{Type: ParamSoftwareTarget, Data: target}))
	require.Equal(t, byte(0x11), target.Pixels[0])

	// no pending frame: the previous one is re-rendered, never a blank
	for i := range target.Pixels {
		target.Pixels[i] = 0
	}
	require.NoError(t, rc.Render(ctx, Param{Type: ParamSoftwareTarget, Data: target}))
	require.Equal(t, byte(0x11), target.Pixels[0])
}

func TestSkipRenderingConsumesTheFrame(t *testing.T) {
	ctx := context.Background()
	rc, vo := newTestContext(t)

	notified := make(chan struct{}, 16)
	rc.SetUpdateCallback(ctx, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	queueTestFrame(t, vo, 0x77)
	waitSignal(t, notified)
	require.NotZero(t, rc.Update(ctx)&UpdateFrame)

	target := &SoftwareTarget{Width: 4, Height: 2, Stride: 16, Pixels: make([]byte, 32)}
	err := rc.Render(ctx,
		Param{Type: ParamSkipRendering, Data: true},
		Param{Type: ParamSoftwareTarget, Data: target},
	)
	require.NoError(t, err)
	require.Equal(t, byte(0), target.Pixels[0])
	require.Zero(t, rc.Update(ctx)&UpdateFrame)
}

func TestFreeWhileRendering(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestContext(t)

	rc.Free(ctx)
	err := rc.Render(ctx)
	require.ErrorAs(t, err, &types.ErrDestroyed{})

	// Free is idempotent
	rc.Free(ctx)
}

func TestFreeUnblocksConcurrentRender(t *testing.T) {
	ctx := context.Background()
	// a huge timing offset makes the worker hand the frame over right
	// away while Render still blocks until the frame's target time
	rc, err := New(ctx, &videoout.Core{}, videoout.Config{TimingOffsetUS: 60_000_000},
		Param{Type: ParamAPIType, Data: "software"},
	)
	require.NoError(t, err)
	vo := rc.VO()
	params := types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
	require.NoError(t, vo.Reconfig(ctx, params))

	notified := make(chan struct{}, 16)
	rc.SetUpdateCallback(ctx, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	img, err := vo.GetImage(ctx, params, 1)
	require.NoError(t, err)
	f := frame.NewFromPool()
	f.PTS = types.NowUS() + 60_000_000
	f.Frames = frame.NewRing(1)
	f.Frames.Push(img)
	require.NoError(t, vo.QueueFrame(ctx, f))
	waitSignal(t, notified)
	require.NotZero(t, rc.Update(ctx)&UpdateFrame)

	target := &SoftwareTarget{Width: 4, Height: 2, Stride: 16, Pixels: make([]byte, 32)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- rc.Render(ctx, Param{Type: ParamSoftwareTarget, Data: target})
	}()

	// let Render reach the target-time wait
	time.Sleep(50 * time.Millisecond)
	rc.Free(ctx)

	select {
	case err := <-errCh:
		require.ErrorAs(t, err, &types.ErrDestroyed{})
	case <-time.After(5 * time.Second):
		t.Fatal("Render did not return after Free")
	}
}

func TestDestroyOnBridgedVOTerminatesFlipWait(t *testing.T) {
	ctx := context.Background()
	rc, err := New(ctx, &videoout.Core{}, videoout.Config{},
		Param{Type: ParamAPIType, Data: "software"},
		Param{Type: ParamAdvancedControl, Data: true},
	)
	require.NoError(t, err)
	defer rc.Free(ctx)
	vo := rc.VO()
	params := types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
	require.NoError(t, vo.Reconfig(ctx, params))

	notified := make(chan struct{}, 16)
	rc.SetUpdateCallback(ctx, func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	// the embedder never calls Render, so the worker parks in the
	// (unbounded, advanced-control) flip wait after handing this over
	queueTestFrame(t, vo, 0x42)
	waitSignal(t, notified)

	done := make(chan struct{})
	go func() {
		vo.Destroy(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Destroy hung while the worker waited for Render")
	}
}

func TestSetParameter(t *testing.T) {
	ctx := context.Background()
	rc, vo := newTestContext(t)

	require.NoError(t, rc.SetParameter(ctx, Param{Type: ParamICCProfile, Data: []byte{1, 2, 3}}))
	require.Equal(t, []byte{1, 2, 3}, rc.ICCProfile(ctx))
	ev := vo.QueryAndResetEvents(types.EventICCProfileChanged)
	require.Equal(t, types.EventICCProfileChanged, ev)

	require.NoError(t, rc.SetParameter(ctx, Param{Type: ParamAmbientLight, Data: 300}))
	require.Equal(t, 300, rc.AmbientLux(ctx))

	err := rc.SetParameter(ctx, Param{Type: ParamAPIType, Data: "software"})
	require.ErrorAs(t, err, &types.ErrNotImplemented{})
}
