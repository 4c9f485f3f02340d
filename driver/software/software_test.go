package software

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
)

type nopSink struct{}

func (nopSink) Event(types.Event) {}
func (nopSink) Wakeup()           {}

func TestSoftwareBlitAndFlip(t *testing.T) {
	ctx := context.Background()
	d := New(Config{StrideAlign: 16})
	require.NoError(t, d.Preinit(ctx, nopSink{}))
	defer d.Uninit(ctx)

	params := types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
	require.NoError(t, d.Reconfig(ctx, params))
	// idempotent for matching parameters
	require.NoError(t, d.Reconfig(ctx, params))

	img, err := d.GetImage(ctx, params, 1)
	require.NoError(t, err)
	bimg := img.(*frame.BytesImage)
	require.Zero(t, bimg.Stride%16)
	for i := range bimg.Data {
		bimg.Data[i] = 0x5a
	}

	f := frame.NewFromPool()
	f.FrameID = 1
	f.Frames = frame.NewRing(1)
	f.Frames.Push(img)
	require.NoError(t, d.DrawFrame(ctx, f))
	require.NoError(t, d.FlipPage(ctx))

	snap := d.Snapshot(ctx)
	require.Len(t, snap, 4*2*4)
	for _, b := range snap {
		require.Equal(t, byte(0x5a), b)
	}
	require.EqualValues(t, 1, d.BlitCount.Load())
	require.EqualValues(t, 1, d.FlipCount.Load())

	var shot frame.Image
	require.NoError(t, d.Control(ctx, driver.RequestScreenshot, &shot))
	require.Same(t, img, shot.(*frame.BytesImage))
}

func TestSoftwareRejectsForeignImages(t *testing.T) {
	ctx := context.Background()
	d := New(Config{})
	require.NoError(t, d.Preinit(ctx, nopSink{}))
	defer d.Uninit(ctx)

	params := types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
	require.NoError(t, d.Reconfig(ctx, params))

	f := frame.NewFromPool()
	f.FrameID = 1
	f.Frames = frame.NewRing(1)
	f.Frames.Push(opaqueImage{})
	err := d.DrawFrame(ctx, f)
	require.ErrorAs(t, err, &types.ErrUnsupported{})
}

type opaqueImage struct{}

func (opaqueImage) Params() types.ImageParams {
	return types.ImageParams{PixelFormat: "rgb0", Width: 4, Height: 2}
}

func TestSoftwareRegistered(t *testing.T) {
	ctx := context.Background()
	factory, err := driver.Get(ctx, "software")
	require.NoError(t, err)
	require.Equal(t, "software", factory(ctx).Info().Name)

	_, err = driver.Get(ctx, "no-such-driver")
	require.ErrorAs(t, err, &driver.ErrUnknownDriver{})
}
