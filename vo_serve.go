package videoout

import (
	"context"
	"errors"

	"github.com/go-ng/xatomic"

	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/xcontext"
)

const (
	// the worker never sleeps longer than this, so a missed deadline
	// recomputation heals quickly
	maxIdleWaitUS = 1_000_000

	// when the output is hopelessly behind, stop dropping and degrade to
	// ~10 FPS instead of showing nothing
	dropDegradeFloorUS = 100_000
)

type voRequest struct {
	fn   func(ctx context.Context) error
	done chan struct{}
	err  error
}

func (r *voRequest) complete(err error) {
	r.err = err
	if r.done != nil {
		close(r.done)
	}
}

// do marshals fn onto the worker and blocks until it ran (or the VO got
// destroyed).
func (vo *VO) do(ctx context.Context, fn func(ctx context.Context) error) error {
	req := &voRequest{fn: fn, done: make(chan struct{})}
	select {
	case vo.requests <- req:
	case <-vo.CloseChan():
		return types.ErrDestroyed{}
	case <-ctx.Done():
		return ctx.Err()
	}
	vo.Wakeup()
	select {
	case <-req.done:
		return req.err
	case <-vo.CloseChan():
	case <-ctx.Done():
		return ctx.Err()
	}
	// the worker may have completed the request while tearing down
	select {
	case <-req.done:
		return req.err
	default:
		return types.ErrDestroyed{}
	}
}

func (vo *VO) doAsync(ctx context.Context, fn func(ctx context.Context) error) {
	req := &voRequest{fn: fn}
	select {
	case vo.requests <- req:
		vo.Wakeup()
	case <-vo.CloseChan():
	case <-ctx.Done():
	}
}

func (vo *VO) failPendingRequests() {
	for {
		select {
		case req := <-vo.requests:
			req.complete(types.ErrDestroyed{})
		default:
			return
		}
	}
}

func (vo *VO) startServing(ctx context.Context) {
	logger.Debugf(ctx, "startServing")
	observability.Go(ctx, func(ctx context.Context) {
		vo.serve(ctx)
	})
}

func (vo *VO) serve(ctx context.Context) {
	logger.Debugf(ctx, "serve")
	defer func() {
		logger.Debugf(ctx, "/serve")
		vo.ClosureSignaler.Close(ctx)
		vo.uninit(xcontext.DetachDone(ctx))
		vo.failPendingRequests()
		close(vo.doneServing)
	}()
	for {
		if vo.IsClosed() || ctx.Err() != nil {
			return
		}
		vo.serveRequests(ctx)
		untilUS := vo.renderStep(ctx)
		if vo.IsClosed() {
			return
		}
		if err := vo.driver.WaitEvents(ctx, untilUS); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf(ctx, "unable to wait for events: %v", err)
		}
	}
}

func (vo *VO) serveRequests(ctx context.Context) {
	for {
		select {
		case req := <-vo.requests:
			req.complete(req.fn(ctx))
		default:
			return
		}
	}
}

// renderStep runs one iteration of the timing engine: it either renders
// (or drops) the due frame, schedules a repeat/redraw of the current one,
// or computes the absolute time (µs) the worker may sleep until.
func (vo *VO) renderStep(ctx context.Context) (untilUS int64) {
	now := types.NowUS()
	intervalUS := int64(vo.estimator.EstimatedIntervalUS())
	if intervalUS < 1 {
		intervalUS = 1
	}
	deadlineUS := now + maxIdleWaitUS

	var (
		toRender *frame.Frame
		isNew    bool
		dropped  bool
	)
	vo.locker.Do(ctx, func() {
		if vo.wakeupPTSUS != 0 {
			if now >= vo.wakeupPTSUS {
				vo.wakeupPTSUS = 0
				vo.wakeupCore()
			} else if vo.wakeupPTSUS < deadlineUS {
				deadlineUS = vo.wakeupPTSUS
			}
		}
		if !vo.configured || vo.blockedLocked() {
			return
		}
		switch {
		case len(vo.queue) > 0:
			next := vo.queue[0]
			startUS := next.PTS - vo.timingOffsetUS
			if !vo.info.Untimed && next.PTS > 0 && now < startUS {
				if startUS < deadlineUS {
					deadlineUS = startUS
				}
				return
			}
			vo.queue = vo.queue[1:]
			toRender = next
			isNew = true
			dropped = vo.shouldDropLocked(next, now, intervalUS)
			if !dropped {
				vo.rendering = true
				if next.DisplaySynced && next.PTS > 0 &&
					vo.lastFlipUS != 0 && now > vo.lastFlipUS+2*intervalUS {
					vo.delayedCount.Inc()
				}
			}
		case vo.repeatsLeft > 0 && vo.current != nil && !vo.paused:
			dueUS := vo.lastFlipUS + intervalUS
			if now < dueUS {
				if dueUS < deadlineUS {
					deadlineUS = dueUS
				}
				return
			}
			vo.repeatsLeft--
			f := vo.current.Ref()
			f.Redraw = false
			f.Repeat = true
			toRender = f
			vo.rendering = true
		case vo.wantRedraw && vo.current != nil:
			vo.wantRedraw = false
			f := vo.current.Ref()
			f.Redraw = true
			f.Repeat = true
			f.Still = true
			f.PTS = 0
			f.Duration = -1
			toRender = f
			vo.rendering = true
		}
	})

	if toRender == nil {
		return deadlineUS
	}

	if dropped {
		logger.Debugf(ctx, "dropping %s", toRender)
		vo.dropCount.Inc()
		vo.locker.Do(ctx, func() {
			vo.droppedLast = true
		})
		toRender.ReleaseOwned()
		toRender.Recycle()
		vo.signalStateChange()
		vo.wakeupCore()
		return now
	}

	// an engine-initiated redraw first goes through the driver's own
	// redraw request; drawing is emulated only when that is unhandled
	skipDraw := false
	if !isNew && toRender.Redraw {
		err := vo.driver.Control(ctx, driver.RequestRedrawFrame, nil)
		switch {
		case err == nil:
			skipDraw = true
		case !errors.As(err, &types.ErrNotImplemented{}):
			logger.Errorf(ctx, "the driver failed to redraw: %v", err)
		}
	}
	vo.renderFrame(ctx, toRender, isNew, skipDraw)
	return types.NowUS()
}

// the caller holds vo.locker
func (vo *VO) shouldDropLocked(f *frame.Frame, now, intervalUS int64) bool {
	if !f.CanDrop || f.DisplaySynced || f.PTS <= 0 {
		return false
	}
	if vo.info.Untimed || vo.paused {
		return false
	}
	if vo.info.Caps&driver.CapFramedrop != 0 {
		// the driver drops on its own
		return false
	}
	dur := f.Duration
	if dur < 0 {
		dur = 0
	}
	endUS := f.PTS + dur
	nextVsyncUS := now
	if vo.lastFlipUS != 0 && vo.lastFlipUS+intervalUS > nextVsyncUS {
		nextVsyncUS = vo.lastFlipUS + intervalUS
	}
	if endUS >= nextVsyncUS {
		return false
	}
	return vo.lastFlipUS != 0 && now-vo.lastFlipUS < dropDegradeFloorUS
}

func (vo *VO) renderFrame(ctx context.Context, f *frame.Frame, isNew, skipDraw bool) {
	logger.Tracef(ctx, "renderFrame: %s", f)
	defer func() { logger.Tracef(ctx, "/renderFrame") }()
	if !skipDraw {
		var err error
		if legacy, ok := vo.driver.(driver.LegacyDrawer); ok {
			err = legacy.DrawImage(ctx, f.Current())
		} else {
			err = vo.driver.DrawFrame(ctx, f)
		}
		if err != nil {
			logger.Errorf(ctx, "unable to draw %s: %v", f, err)
		}
	}
	if err := vo.driver.FlipPage(ctx); err != nil {
		logger.Errorf(ctx, "unable to flip the page: %v", err)
	}
	flippedUS := types.NowUS()
	var external bool
	vo.locker.Do(ctx, func() {
		external = vo.swapsExternal
		if !external {
			vo.lastFlipUS = flippedUS
		}
		vo.rendering = false
		vo.droppedLast = false
		if isNew {
			if old := vo.current; old != nil {
				if old.Current() != nil && old.Current() == f.Current() {
					// the new frame re-shows the same image (an externally
					// queued repeat); ownership just moves over
					if old.Frames != nil {
						old.Frames.Clear()
					}
					old.Recycle()
				} else {
					old.ReleaseOwned()
					old.Recycle()
				}
			}
			vo.current = f
			vo.hasFrame = true
			vo.repeatsLeft = 0
			if f.DisplaySynced && f.NumVsyncs > 1 {
				vo.repeatsLeft = f.NumVsyncs - 1
			}
		} else {
			// a Ref copy shares the images with vo.current, so it only gets
			// recycled, never released
			if f.Frames != nil {
				f.Frames.Clear()
			}
			f.Recycle()
		}
	})
	if !external {
		vo.estimator.ReportSwap(ctx, flippedUS)
	}
	vo.signalStateChange()
	vo.wakeupCore()
}

func (vo *VO) signalStateChange() {
	close(*xatomic.SwapPointer(&vo.ChangeChanState, ptr(make(chan struct{}))))
}

func (vo *VO) uninit(ctx context.Context) {
	logger.Debugf(ctx, "uninit")
	defer func() { logger.Debugf(ctx, "/uninit") }()
	vo.locker.Do(ctx, func() {
		vo.flushLocked()
		vo.configured = false
	})
	vo.driver.Uninit(ctx)
	vo.signalStateChange()
}
