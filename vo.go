package videoout

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ng/xatomic"
	"go.uber.org/atomic"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/helpers/closuresignaler"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/videoout/vsync"
	"github.com/xaionaro-go/xsync"
)

// VO is one video output: a bounded frame queue, the presentation timing
// engine and a single worker goroutine which owns every call into the
// bound driver.
type VO struct {
	*closuresignaler.ClosureSignaler

	cfg    Config
	driver driver.Abstract
	info   driver.Info

	requests    chan *voRequest
	doneServing chan struct{}

	events       atomic.Uint32
	unblocked    atomic.Bool
	dropCount    atomic.Uint64
	delayedCount atomic.Uint64

	estimator *vsync.Estimator

	// ChangeChanState is closed-and-replaced whenever the displayed state
	// advances (a frame rendered, dropped or flushed); see WaitFrame.
	ChangeChanState *chan struct{}

	locker         xsync.Mutex
	queue          []*frame.Frame
	current        *frame.Frame
	hasFrame       bool
	configured     bool
	paused         bool
	wantRedraw     bool
	droppedLast    bool
	rendering      bool
	nextFrameID    uint64
	lookahead      int
	timingOffsetUS int64
	wakeupPTSUS    int64
	swapsExternal  bool
	lastFlipUS     int64
	repeatsLeft    int
	params         types.ImageParams
}

func newVO(cfg Config, d driver.Abstract) *VO {
	vo := &VO{
		ClosureSignaler: closuresignaler.New(),
		cfg:             cfg,
		driver:          d,
		info:            d.Info(),
		requests:        make(chan *voRequest, 100),
		doneServing:     make(chan struct{}),
		estimator:       vsync.NewEstimator(cfg.VsyncSampleCount),
		ChangeChanState: ptr(make(chan struct{})),
		nextFrameID:     1,
		lookahead:       1,
		timingOffsetUS:  cfg.TimingOffsetUS,
	}
	if !vo.info.InitiallyBlocked {
		vo.unblocked.Store(true)
	}
	return vo
}

func (vo *VO) String() string {
	return fmt.Sprintf("VO(%s)", vo.info.Name)
}

// Driver returns the bound driver; the caller must not invoke
// worker-thread-only operations on it directly.
func (vo *VO) Driver() driver.Abstract {
	return vo.driver
}

type voEventSink struct {
	vo *VO
}

var _ driver.EventSink = voEventSink{}

func (s voEventSink) Event(ev types.Event) { s.vo.Event(ev) }
func (s voEventSink) Wakeup()              { s.vo.Wakeup() }

func (vo *VO) eventSink() driver.EventSink {
	return voEventSink{vo: vo}
}

// Event adds bits to the pending-event bitmask and wakes both the worker
// and the playback core. It is callable from any thread, including the
// worker's own driver callbacks.
func (vo *VO) Event(ev types.Event) {
	if ev.Has(types.EventInitialUnblock) {
		// the unblock takes effect immediately; the bit itself stays
		// pending so the core also observes it on the next drain
		vo.unblocked.Store(true)
	}
	if ev != 0 {
		for {
			old := vo.events.Load()
			if vo.events.CompareAndSwap(old, old|uint32(ev)) {
				break
			}
		}
	}
	vo.wakeupCore()
	vo.Wakeup()
}

// QueryAndResetEvents atomically reads and clears the pending-event bits
// selected by mask.
func (vo *VO) QueryAndResetEvents(mask types.Event) types.Event {
	for {
		old := vo.events.Load()
		got := types.Event(old) & mask
		if vo.events.CompareAndSwap(old, old&^uint32(got)) {
			return got
		}
	}
}

// Wakeup interrupts the worker's current (or next) blocking wait. It acts
// as a binary semaphore: a wakeup with no wait pending is not lost. It
// never calls back into any VO operation.
func (vo *VO) Wakeup() {
	vo.driver.Wakeup()
}

func (vo *VO) wakeupCore() {
	if vo.cfg.OnWakeup != nil {
		vo.cfg.OnWakeup()
	}
}

func (vo *VO) blockedLocked() bool {
	return vo.info.InitiallyBlocked && !vo.unblocked.Load()
}

// QueueFrame hands a frame to the queue; ownership transfers on success.
// It reports types.ErrNotReady when the queue is full or the VO is not
// (yet) accepting frames; the caller retries after the next wakeup.
//
// A fresh (non-redraw, non-repeat) frame gets the next strictly
// increasing frame ID here; redraw/repeat frames keep the ID of the
// frame they re-show.
func (vo *VO) QueueFrame(ctx context.Context, f *frame.Frame) (_err error) {
	logger.Tracef(ctx, "QueueFrame: %s", f)
	defer func() { logger.Tracef(ctx, "/QueueFrame: %v", _err) }()
	if vo.IsClosed() {
		return types.ErrDestroyed{}
	}
	err := xsync.DoR1(ctx, &vo.locker, func() error {
		if !vo.configured {
			return types.ErrNotReady{Reason: "the output is not configured"}
		}
		if vo.blockedLocked() {
			return types.ErrNotReady{Reason: "the output has not unblocked yet"}
		}
		if len(vo.queue) >= vo.cfg.QueueCapacity {
			return types.ErrNotReady{Reason: "the queue is full"}
		}
		if f.Redraw || f.Repeat {
			if f.FrameID == 0 && vo.current != nil {
				f.FrameID = vo.current.FrameID
			}
		} else {
			f.FrameID = vo.nextFrameID
			vo.nextFrameID++
		}
		if f.VsyncInterval == 0 {
			f.VsyncInterval = vo.estimator.EstimatedIntervalUS()
		}
		if f.IdealFrameDuration == 0 && f.NumVsyncs > 0 {
			f.IdealFrameDuration = float64(f.NumVsyncs) * f.VsyncInterval
		}
		vo.queue = append(vo.queue, f)
		vo.hasFrame = true
		return nil
	})
	if err != nil {
		return err
	}
	vo.Wakeup()
	return nil
}

// IsReadyForFrame implements backpressure: it reports whether the
// producer may submit the frame with the given PTS now (pass 0 for "any
// frame"). When the answer is "not yet" purely because of timing, the
// OnWakeup callback fires once the moment arrives.
func (vo *VO) IsReadyForFrame(ctx context.Context, nextPTS int64) bool {
	now := types.NowUS()
	return xsync.DoR1(ctx, &vo.locker, func() bool {
		if !vo.configured || vo.blockedLocked() {
			return false
		}
		if len(vo.queue) >= vo.cfg.QueueCapacity {
			return false
		}
		if vo.repeatsLeft > 0 {
			return false
		}
		if nextPTS > 0 && !vo.info.Untimed {
			startUS := nextPTS - vo.timingOffsetUS
			if startUS > now {
				if vo.wakeupPTSUS == 0 || startUS < vo.wakeupPTSUS {
					vo.wakeupPTSUS = startUS
					vo.Wakeup()
				}
				return false
			}
		}
		return true
	})
}

// WaitFrame blocks until everything queued so far has been rendered or
// dropped.
func (vo *VO) WaitFrame(ctx context.Context) error {
	for {
		ch := *xatomic.LoadPointer(&vo.ChangeChanState)
		idle := xsync.DoR1(ctx, &vo.locker, func() bool {
			return len(vo.queue) == 0 && !vo.rendering
		})
		if idle {
			return nil
		}
		select {
		case <-ch:
		case <-vo.CloseChan():
			return types.ErrDestroyed{}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StillDisplaying reports whether a queued frame is still on its way to
// the display (used by the core to delay end-of-stream).
func (vo *VO) StillDisplaying(ctx context.Context) bool {
	return xsync.DoR1(ctx, &vo.locker, func() bool {
		return len(vo.queue) > 0 || vo.rendering || vo.repeatsLeft > 0
	})
}

// HasFrame reports whether anything has been queued or shown since the
// last seek/reconfigure flush.
func (vo *VO) HasFrame(ctx context.Context) bool {
	return xsync.DoR1(ctx, &vo.locker, func() bool {
		return vo.hasFrame
	})
}

// Redraw asks the worker to re-present the current frame (pause, option
// change, expose). It is asynchronous.
func (vo *VO) Redraw(ctx context.Context) {
	vo.locker.Do(ctx, func() {
		vo.wantRedraw = true
	})
	vo.Wakeup()
}

// WantRedraw reports whether a redraw request is still pending.
func (vo *VO) WantRedraw(ctx context.Context) bool {
	return xsync.DoR1(ctx, &vo.locker, func() bool {
		return vo.wantRedraw
	})
}

// SeekReset flushes the queue and the current frame and discards the
// vsync estimator's history. Frame IDs continue monotonically and the
// drop counter is kept (seeks are not drops).
func (vo *VO) SeekReset(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "SeekReset")
	defer func() { logger.Debugf(ctx, "/SeekReset: %v", _err) }()
	return vo.do(ctx, func(ctx context.Context) error {
		vo.locker.Do(ctx, func() {
			vo.flushLocked()
		})
		vo.estimator.Reset(ctx)
		err := vo.driver.Control(ctx, driver.RequestReset, nil)
		if errors.As(err, &types.ErrNotImplemented{}) {
			err = nil
		}
		vo.signalStateChange()
		return err
	})
}

// the caller holds vo.locker
func (vo *VO) flushLocked() {
	for _, f := range vo.queue {
		f.ReleaseOwned()
		f.Recycle()
	}
	vo.queue = vo.queue[:0]
	if vo.current != nil {
		vo.current.ReleaseOwned()
		vo.current.Recycle()
		vo.current = nil
	}
	vo.hasFrame = false
	vo.wantRedraw = false
	vo.droppedLast = false
	vo.repeatsLeft = 0
	vo.lastFlipUS = 0
}

// Reconfig switches the VO to a new image format/geometry. It is
// idempotent for already-matching parameters. On failure the VO becomes
// unconfigured and stops accepting frames until a successful retry.
func (vo *VO) Reconfig(ctx context.Context, params types.ImageParams) (_err error) {
	logger.Debugf(ctx, "Reconfig: %s", params)
	defer func() { logger.Debugf(ctx, "/Reconfig: %v", _err) }()
	return vo.do(ctx, func(ctx context.Context) error {
		if !params.IsValid() {
			return types.ErrInvalidParameter{
				Param: "params",
				Err:   fmt.Errorf("%s", params),
			}
		}
		if !vo.driver.QueryFormat(ctx, params.PixelFormat) {
			return types.ErrUnsupported{
				Reason: fmt.Sprintf("pixel format '%s' is not supported by driver '%s'", params.PixelFormat, vo.info.Name),
			}
		}
		err := vo.driver.Reconfig(ctx, params)
		vo.locker.Do(ctx, func() {
			vo.configured = err == nil
			if err == nil {
				vo.params = params
				if vo.hasFrame {
					vo.wantRedraw = true
				}
			}
		})
		vo.wakeupCore()
		return err
	})
}

// Params returns the last successfully configured image parameters.
func (vo *VO) Params(ctx context.Context) types.ImageParams {
	return xsync.DoR1(ctx, &vo.locker, func() types.ImageParams {
		return vo.params
	})
}

// Control runs a driver control request on the worker and blocks for the
// result.
func (vo *VO) Control(ctx context.Context, req driver.Request, data any) error {
	return vo.do(ctx, func(ctx context.Context) error {
		return vo.driver.Control(ctx, req, data)
	})
}

// ControlAsync enqueues a driver control request without waiting for the
// result (it is logged on failure). data must stay valid until the
// worker gets to it, so it is only suitable for requests without output
// arguments.
func (vo *VO) ControlAsync(ctx context.Context, req driver.Request, data any) {
	vo.doAsync(ctx, func(ctx context.Context) error {
		err := vo.driver.Control(ctx, req, data)
		if err != nil && !errors.As(err, &types.ErrNotImplemented{}) {
			logger.Errorf(ctx, "the async control request %s failed: %v", req, err)
		}
		return err
	})
}

// SetPaused switches pause mode: while paused nothing is dropped and
// redraws keep the last frame on screen. Vsync timing statistics are
// discarded on each transition (they are meaningless across a gap).
func (vo *VO) SetPaused(ctx context.Context, paused bool) (_err error) {
	logger.Debugf(ctx, "SetPaused: %t", paused)
	defer func() { logger.Debugf(ctx, "/SetPaused: %v", _err) }()
	return vo.do(ctx, func(ctx context.Context) error {
		changed := false
		vo.locker.Do(ctx, func() {
			if vo.paused == paused {
				return
			}
			vo.paused = paused
			changed = true
			if paused && vo.droppedLast {
				vo.wantRedraw = true
			}
		})
		if !changed {
			return nil
		}
		vo.estimator.Reset(ctx)
		req := driver.RequestResume
		if paused {
			req = driver.RequestPause
		}
		err := vo.driver.Control(ctx, req, nil)
		if errors.As(err, &types.ErrNotImplemented{}) {
			err = nil
		}
		return err
	})
}

// DropCount returns how many frames the engine has dropped so far.
func (vo *VO) DropCount() uint64 {
	return vo.dropCount.Load()
}

// AddDroppedFrames accounts drops which happened upstream of the queue
// (the core decided not to decode/queue at all).
func (vo *VO) AddDroppedFrames(n uint64) {
	vo.dropCount.Add(n)
}

// DelayedCount returns how many display-synced frames missed their vsync
// slot.
func (vo *VO) DelayedCount() uint64 {
	return vo.delayedCount.Load()
}

// SetQueueParams tunes the lookahead window size the producer should
// fill and how far ahead of a frame's PTS rendering starts.
func (vo *VO) SetQueueParams(ctx context.Context, offsetUS int64, lookahead int) {
	logger.Debugf(ctx, "SetQueueParams: %d, %d", offsetUS, lookahead)
	vo.locker.Do(ctx, func() {
		if offsetUS > 0 {
			vo.timingOffsetUS = offsetUS
		}
		if lookahead < 1 {
			lookahead = 1
		}
		if lookahead > vo.cfg.LookaheadCapacity {
			lookahead = vo.cfg.LookaheadCapacity
		}
		vo.lookahead = lookahead
	})
	vo.Wakeup()
}

// NumReqFrames returns how many future images (including the current
// one) the producer should provide per frame.
func (vo *VO) NumReqFrames(ctx context.Context) int {
	return xsync.DoR1(ctx, &vo.locker, func() int {
		return vo.lookahead
	})
}

// EstimatedVsyncIntervalUS returns the current refresh interval estimate
// in microseconds (0 when unknown).
func (vo *VO) EstimatedVsyncIntervalUS() float64 {
	return vo.estimator.EstimatedIntervalUS()
}

// VsyncJitterUS returns the standard deviation of the measured swap
// intervals.
func (vo *VO) VsyncJitterUS() float64 {
	return vo.estimator.JitterUS()
}

// DisplayFPS asks the driver for the display's refresh rate and falls
// back to the measured estimate.
func (vo *VO) DisplayFPS(ctx context.Context) float64 {
	var fps float64
	err := vo.Control(ctx, driver.RequestGetDisplayFPS, &fps)
	if err == nil && fps > 0 {
		return fps
	}
	return vo.estimator.DisplayFPS()
}

// GetDelayUS estimates how far in the future the current display-synced
// frame stops being shown (0 when not applicable).
func (vo *VO) GetDelayUS(ctx context.Context) int64 {
	now := types.NowUS()
	intervalUS := int64(vo.estimator.EstimatedIntervalUS())
	return xsync.DoR1(ctx, &vo.locker, func() int64 {
		if vo.current == nil || !vo.current.DisplaySynced {
			return 0
		}
		if vo.lastFlipUS == 0 || intervalUS <= 1 {
			return 0
		}
		extra := int64(0)
		if vo.rendering {
			extra = 1
		}
		endUS := vo.lastFlipUS + (int64(vo.repeatsLeft)+extra+1)*intervalUS
		if endUS <= now {
			return 0
		}
		return endUS - now
	})
}

// DiscardTimingInfo throws away the vsync estimator's history and the
// last swap timestamp (e.g. after the display configuration changed).
func (vo *VO) DiscardTimingInfo(ctx context.Context) {
	logger.Debugf(ctx, "DiscardTimingInfo")
	vo.estimator.Reset(ctx)
	vo.locker.Do(ctx, func() {
		vo.lastFlipUS = 0
	})
}

// GetCurrentFrame returns the image currently on screen (nil if none).
// The caller may retain it past the frame's own lifetime.
func (vo *VO) GetCurrentFrame(ctx context.Context) frame.Image {
	return xsync.DoR1(ctx, &vo.locker, func() frame.Image {
		if vo.current == nil {
			return nil
		}
		return vo.current.Current()
	})
}

// GetCurrentVOFrame returns a non-owning copy of the frame currently on
// screen (nil if none); the copy must be recycled via Recycle and never
// via ReleaseOwned.
func (vo *VO) GetCurrentVOFrame(ctx context.Context) *frame.Frame {
	return xsync.DoR1(ctx, &vo.locker, func() *frame.Frame {
		if vo.current == nil {
			return nil
		}
		return vo.current.Ref()
	})
}

// GetImage allocates an image for direct rendering: through the driver's
// thread-safe hook if it has one, through its worker-only hook (runs on
// the worker) otherwise, with a plain buffer as the fallback.
func (vo *VO) GetImage(
	ctx context.Context,
	params types.ImageParams,
	strideAlign int,
) (frame.Image, error) {
	if a, ok := vo.driver.(driver.ThreadSafeImageAllocator); ok {
		return a.GetImageTS(ctx, params, strideAlign)
	}
	if a, ok := vo.driver.(driver.ImageAllocator); ok {
		var img frame.Image
		err := vo.do(ctx, func(ctx context.Context) error {
			var err error
			img, err = a.GetImage(ctx, params, strideAlign)
			return err
		})
		return img, err
	}
	if strideAlign < 1 {
		strideAlign = 1
	}
	return frame.AllocBytesImage(params, strideAlign)
}

// ReportSwap feeds the true external presentation time into the vsync
// estimator. Once called, the VO stops timestamping its own flips and
// expects the embedder to keep reporting.
func (vo *VO) ReportSwap(ctx context.Context) {
	now := types.NowUS()
	logger.Tracef(ctx, "ReportSwap: %d", now)
	vo.estimator.ReportSwap(ctx, now)
	vo.locker.Do(ctx, func() {
		vo.swapsExternal = true
		vo.lastFlipUS = now
	})
	vo.Wakeup()
}

// Destroy shuts the worker down, flushes the queue and uninitializes the
// driver. Any operation blocked on the worker fails with
// types.ErrDestroyed. Destroy is idempotent.
func (vo *VO) Destroy(ctx context.Context) {
	logger.Debugf(ctx, "Destroy")
	defer func() { logger.Debugf(ctx, "/Destroy") }()
	vo.ClosureSignaler.Close(ctx)
	vo.Wakeup()
	select {
	case <-vo.doneServing:
	case <-ctx.Done():
		return
	}
	vo.failPendingRequests()
}
