package renderctx

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/xsync"
)

// flipRenderTimeout bounds how long the worker waits for the embedder's
// Render call; the anti-deadlock safety net when advanced control was
// not requested.
const flipRenderTimeout = 200 * time.Millisecond

// bridgeDriver adapts a Context to the driver contract: frames the
// engine decides to present are handed over to the embedder's render
// thread instead of being drawn locally.
type bridgeDriver struct {
	rc *Context

	locker     xsync.Mutex
	sink       driver.EventSink
	params     types.ImageParams
	configured bool

	wakeupCh chan struct{}
}

var _ driver.Abstract = (*bridgeDriver)(nil)

func newBridgeDriver(rc *Context) *bridgeDriver {
	return &bridgeDriver{
		rc:       rc,
		wakeupCh: make(chan struct{}, 1),
	}
}

func (d *bridgeDriver) String() string {
	return "embedded"
}

func (d *bridgeDriver) Info() driver.Info {
	return driver.Info{
		Name:        "embedded",
		Description: "external render context",
		Caps:        driver.CapRotate90,
	}
}

func (d *bridgeDriver) Preinit(ctx context.Context, sink driver.EventSink) error {
	logger.Debugf(ctx, "Preinit")
	if sink == nil {
		return fmt.Errorf("an event sink is required")
	}
	d.sink = sink
	return nil
}

func (d *bridgeDriver) QueryFormat(ctx context.Context, pixelFormat string) bool {
	return pixelFormat != ""
}

func (d *bridgeDriver) Reconfig(ctx context.Context, params types.ImageParams) (_err error) {
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
		d.sink.Event(types.EventResize)
		return nil
	})
}

func (d *bridgeDriver) Control(ctx context.Context, req driver.Request, data any) error {
	logger.Tracef(ctx, "Control: %s", req)
	switch req {
	case driver.RequestReset:
		d.rc.discardPending(ctx)
		return nil
	case driver.RequestPause, driver.RequestResume, driver.RequestCheckEvents,
		driver.RequestUpdateRenderOpts:
		return nil
	case driver.RequestScreenshot:
		out, ok := data.(*frame.Image)
		if !ok {
			return types.ErrInvalidParameter{Param: "data"}
		}
		*out = d.rc.lastImage(ctx)
		return nil
	case driver.RequestGetICCProfile:
		out, ok := data.(*[]byte)
		if !ok {
			return types.ErrInvalidParameter{Param: "data"}
		}
		*out = d.rc.ICCProfile(ctx)
		return nil
	case driver.RequestGetAmbientLux:
		out, ok := data.(*int)
		if !ok {
			return types.ErrInvalidParameter{Param: "data"}
		}
		*out = d.rc.AmbientLux(ctx)
		return nil
	}
	return types.ErrNotImplemented{What: req.String()}
}

func (d *bridgeDriver) DrawFrame(ctx context.Context, f *frame.Frame) error {
	logger.Tracef(ctx, "DrawFrame: %s", f)
	d.rc.offerFrame(ctx, f)
	return nil
}

// FlipPage waits for the embedder to pick the frame up via Render. With
// advanced control the wait is unbounded (the embedder promised to be
// prompt); otherwise it is cut short after a timeout so a stuck embedder
// degrades playback instead of freezing it. Either way the wait ends
// when the context or the VO itself shuts down, so a direct Destroy on
// the bridged VO never hangs on a Render that will not come.
func (d *bridgeDriver) FlipPage(ctx context.Context) error {
	rc := d.rc
	voClosed := rc.voCloseChan()
	if rc.advancedControl {
		select {
		case <-rc.renderedCh:
			return nil
		case <-rc.CloseChan():
			return types.ErrDestroyed{}
		case <-voClosed:
			return types.ErrDestroyed{}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t := time.NewTimer(flipRenderTimeout)
	defer t.Stop()
	select {
	case <-rc.renderedCh:
		return nil
	case <-t.C:
		logger.Warnf(ctx, "the frame was not picked up in time: Render() is not being called or is stuck")
		return nil
	case <-rc.CloseChan():
		return types.ErrDestroyed{}
	case <-voClosed:
		return types.ErrDestroyed{}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *bridgeDriver) WaitEvents(ctx context.Context, untilUS int64) error {
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

func (d *bridgeDriver) Wakeup() {
	select {
	case d.wakeupCh <- struct{}{}:
	default:
	}
}

func (d *bridgeDriver) Uninit(ctx context.Context) {
	logger.Debugf(ctx, "Uninit")
	d.rc.discardPending(ctx)
	d.locker.Do(ctx, func() {
		d.configured = false
	})
}
