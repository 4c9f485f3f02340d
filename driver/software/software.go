// Package software implements a headless software-blit driver: frames
// are copied into an in-memory double-buffered framebuffer. It is the
// reference implementation of the lookahead-aware render path and of the
// direct-rendering allocation hook.
package software

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/xsync"
)

func init() {
	driver.Register("software", 50, func(ctx context.Context) driver.Abstract {
		return New(Config{})
	})
}

type Config struct {
	// StrideAlign is the stride alignment the blitter prefers for
	// direct-rendered images; must be a power of two >= 1. Defaults to
	// 64.
	StrideAlign int
}

// pixelSource is what the blitter needs from an image; the fallback
// frame.BytesImage provides it, and so can any producer image.
type pixelSource interface {
	Bytes() (data []byte, stride int)
}

type Driver struct {
	locker xsync.Mutex
	cfg    Config
	sink   driver.EventSink

	params     types.ImageParams
	configured bool

	back  []byte
	front []byte

	lastImage frame.Image

	wakeupCh chan struct{}

	BlitCount atomic.Uint64
	FlipCount atomic.Uint64
}

var _ driver.Abstract = (*Driver)(nil)
var _ driver.ImageAllocator = (*Driver)(nil)

func New(cfg Config) *Driver {
	if cfg.StrideAlign == 0 {
		cfg.StrideAlign = 64
	}
	return &Driver{
		cfg:      cfg,
		wakeupCh: make(chan struct{}, 1),
	}
}

func (d *Driver) String() string {
	return "software"
}

func (d *Driver) Info() driver.Info {
	return driver.Info{
		Name:        "software",
		Description: "in-memory software blitter",
		Caps:        driver.CapRotate90,
	}
}

func (d *Driver) Preinit(ctx context.Context, sink driver.EventSink) error {
	logger.Debugf(ctx, "Preinit")
	if sink == nil {
		return fmt.Errorf("an event sink is required")
	}
	if d.cfg.StrideAlign < 1 || d.cfg.StrideAlign&(d.cfg.StrideAlign-1) != 0 {
		return types.ErrInvalidParameter{
			Param: "stride_align",
			Err:   fmt.Errorf("%d is not a power of two >= 1", d.cfg.StrideAlign),
		}
	}
	d.sink = sink
	return nil
}

func (d *Driver) QueryFormat(ctx context.Context, pixelFormat string) bool {
	// the blitter is layout-agnostic: it copies whatever packed bytes the
	// image exposes
	return pixelFormat != ""
}

func (d *Driver) Reconfig(ctx context.Context, params types.ImageParams) (_err error) {
	logger.Debugf(ctx, "Reconfig: %s", params)
	defer func() { logger.Debugf(ctx, "/Reconfig: %v", _err) }()
	return xsync.DoR1(ctx, &d.locker, func() error {
		if d.configured && d.params.Equal(params) {
			return nil
		}
		if !params.IsValid() {
			return types.ErrInvalidParameter{
				Param: "params",
				Err:   fmt.Errorf("%s", params),
			}
		}
		size := params.Width * params.Height * 4
		d.back = make([]byte, size)
		d.front = make([]byte, size)
		d.params = params
		d.configured = true
		d.sink.Event(types.EventResize)
		return nil
	})
}

func (d *Driver) Control(ctx context.Context, req driver.Request, data any) error {
	logger.Tracef(ctx, "Control: %s", req)
	switch req {
	case driver.RequestReset, driver.RequestPause, driver.RequestResume,
		driver.RequestCheckEvents:
		return nil
	case driver.RequestScreenshot:
		out, ok := data.(*frame.Image)
		if !ok {
			return types.ErrInvalidParameter{Param: "data"}
		}
		return xsync.DoR1(ctx, &d.locker, func() error {
			*out = d.lastImage
			return nil
		})
	}
	return types.ErrNotImplemented{What: req.String()}
}

func (d *Driver) DrawFrame(ctx context.Context, f *frame.Frame) (_err error) {
	logger.Tracef(ctx, "DrawFrame: %s", f)
	defer func() { logger.Tracef(ctx, "/DrawFrame: %v", _err) }()
	return xsync.DoR1(ctx, &d.locker, func() error {
		if !d.configured {
			return fmt.Errorf("the driver is not configured")
		}
		img := f.Current()
		if img == nil {
			// idle redraw with no image: black background
			clear(d.back)
			d.lastImage = nil
			return nil
		}
		src, ok := img.(pixelSource)
		if !ok {
			return types.ErrUnsupported{
				Reason: fmt.Sprintf("image %T does not expose pixel bytes", img),
			}
		}
		d.blit(src, img.Params())
		d.lastImage = img
		d.BlitCount.Add(1)
		return nil
	})
}

func (d *Driver) blit(src pixelSource, params types.ImageParams) {
	data, stride := src.Bytes()
	w := min(params.Width, d.params.Width)
	h := min(params.Height, d.params.Height)
	dstStride := d.params.Width * 4
	for y := 0; y < h; y++ {
		srcRow := data[y*stride : y*stride+w*4]
		dstRow := d.back[y*dstStride : y*dstStride+w*4]
		copy(dstRow, srcRow)
	}
}

func (d *Driver) FlipPage(ctx context.Context) error {
	logger.Tracef(ctx, "FlipPage")
	d.locker.Do(ctx, func() {
		d.front, d.back = d.back, d.front
	})
	d.FlipCount.Add(1)
	return nil
}

// Snapshot returns a copy of the currently presented framebuffer.
func (d *Driver) Snapshot(ctx context.Context) []byte {
	return xsync.DoR1(ctx, &d.locker, func() []byte {
		out := make([]byte, len(d.front))
		copy(out, d.front)
		return out
	})
}

// GetImage is the direct-rendering hook: the producer may decode
// straight into a buffer whose stride already fits the blitter.
func (d *Driver) GetImage(
	ctx context.Context,
	params types.ImageParams,
	strideAlign int,
) (frame.Image, error) {
	if strideAlign < d.cfg.StrideAlign {
		strideAlign = d.cfg.StrideAlign
	}
	return frame.AllocBytesImage(params, strideAlign)
}

func (d *Driver) WaitEvents(ctx context.Context, untilUS int64) error {
	wait := types.UntilUS(untilUS)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-d.wakeupCh:
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (d *Driver) Wakeup() {
	select {
	case d.wakeupCh <- struct{}{}:
	default:
	}
}

func (d *Driver) Uninit(ctx context.Context) {
	logger.Debugf(ctx, "Uninit")
	d.locker.Do(ctx, func() {
		d.configured = false
		d.back = nil
		d.front = nil
		d.lastImage = nil
	})
}
