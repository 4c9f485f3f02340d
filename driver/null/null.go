// Package null implements a display-less driver: frames are accepted,
// counted and discarded. It doubles as the encode-mode stand-in (untimed
// and initially blocked), and as the terminal probing fallback.
package null

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
	driver.Register("null", -100, func(ctx context.Context) driver.Abstract {
		return New(Config{Untimed: true})
	})
}

type Config struct {
	// Untimed pushes frames as fast as they come, with no drops and no
	// redraw pacing.
	Untimed bool

	// InitiallyBlocked requires an EventInitialUnblock before the first
	// frame (encode-mode behavior). The driver unblocks itself on the
	// first successful Reconfig.
	InitiallyBlocked bool

	// FlipDuration simulates the time FlipPage takes (e.g. blocking on a
	// fake vsync). Zero means instantaneous.
	FlipDuration time.Duration
}

type Driver struct {
	locker xsync.Mutex
	cfg    Config
	sink   driver.EventSink

	params     types.ImageParams
	configured bool
	unblocked  bool
	lastImage  frame.Image

	wakeupCh chan struct{}

	DrawCount atomic.Uint64
	FlipCount atomic.Uint64
}

var _ driver.Abstract = (*Driver)(nil)

func New(cfg Config) *Driver {
	return &Driver{
		cfg:      cfg,
		wakeupCh: make(chan struct{}, 1),
	}
}

func (d *Driver) String() string {
	return "null"
}

func (d *Driver) Info() driver.Info {
	return driver.Info{
		Name:             "null",
		Description:      "no-op output",
		InitiallyBlocked: d.cfg.InitiallyBlocked,
		Untimed:          d.cfg.Untimed,
	}
}

func (d *Driver) Preinit(ctx context.Context, sink driver.EventSink) error {
	logger.Debugf(ctx, "Preinit")
	if sink == nil {
		return fmt.Errorf("an event sink is required")
	}
	d.sink = sink
	return nil
}

func (d *Driver) QueryFormat(ctx context.Context, pixelFormat string) bool {
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
		d.params = params
		d.configured = true
		if d.cfg.InitiallyBlocked && !d.unblocked {
			d.unblocked = true
			d.sink.Event(types.EventInitialUnblock)
		}
		return nil
	})
}

func (d *Driver) Control(ctx context.Context, req driver.Request, data any) error {
	logger.Tracef(ctx, "Control: %s", req)
	switch req {
	case driver.RequestReset, driver.RequestPause, driver.RequestResume,
		driver.RequestCheckEvents, driver.RequestUpdateRenderOpts:
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

func (d *Driver) DrawFrame(ctx context.Context, f *frame.Frame) error {
	logger.Tracef(ctx, "DrawFrame: %s", f)
	d.DrawCount.Add(1)
	d.locker.Do(ctx, func() {
		d.lastImage = f.Current()
	})
	return nil
}

func (d *Driver) FlipPage(ctx context.Context) error {
	logger.Tracef(ctx, "FlipPage")
	d.FlipCount.Add(1)
	if d.cfg.FlipDuration > 0 {
		select {
		case <-time.After(d.cfg.FlipDuration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
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
		d.lastImage = nil
	})
}
