// Package renderctx implements the external rendering handshake: an
// embedding application creates a Context bound to a playback core,
// receives "there is a new frame" notifications through an update
// callback, and pulls frames with Render on its own render thread,
// reporting swap times back for vsync estimation.
package renderctx

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/videoout"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/helpers/closuresignaler"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/xsync"
)

// UpdateFlags is the bitset returned by Update.
type UpdateFlags uint64

const (
	// UpdateFrame means a new frame is pending and the embedder must call
	// Render before the next Update.
	UpdateFrame UpdateFlags = 1 << 0
)

// FrameInfoFlag describes the next pending frame.
type FrameInfoFlag uint64

const (
	// FrameInfoPresent is set when a frame is actually pending; when it is
	// unset the rest of the FrameInfo is undefined.
	FrameInfoPresent FrameInfoFlag = 1 << 0

	// FrameInfoRedraw marks a re-show of an already presented frame.
	FrameInfoRedraw FrameInfoFlag = 1 << 1

	// FrameInfoRepeat marks a frame identical to the previous one.
	FrameInfoRepeat FrameInfoFlag = 1 << 2

	// FrameInfoBlockVsync marks a display-synced frame whose swap is
	// expected to block on vsync.
	FrameInfoBlockVsync FrameInfoFlag = 1 << 3
)

// FrameInfo describes the next frame only; it is a snapshot and may be
// outdated by the time Render runs.
type FrameInfo struct {
	Flags        FrameInfoFlag
	TargetTimeUS int64
}

// Context is one external render context. At most one exists per
// playback core; all of its methods except the worker-side internals are
// meant for the embedder's threads.
type Context struct {
	*closuresignaler.ClosureSignaler

	core *videoout.Core
	api  API
	vo   *videoout.VO

	advancedControl bool
	flipY           bool

	renderedCh chan struct{}

	locker     xsync.Mutex
	pending    *frame.Frame
	lastFrame  *frame.Frame
	updateCB   func()
	cbArmed    bool
	iccProfile []byte
	ambientLux int
}

// New creates a render context bound to the given core, with a dedicated
// VO driven by it. Construction fails with types.ErrInvalidParameter for
// a malformed parameter list, types.ErrNotImplemented for an unknown or
// unbuilt API type, and types.ErrUnsupported when the selected backend
// rejects its parameters.
//
// A Param with the zero Type terminates the list.
func New(
	ctx context.Context,
	core *videoout.Core,
	voCfg videoout.Config,
	params ...Param,
) (_ *Context, _err error) {
	logger.Debugf(ctx, "New")
	defer func() { logger.Debugf(ctx, "/New: %v", _err) }()
	rc := &Context{
		ClosureSignaler: closuresignaler.New(),
		core:            core,
		renderedCh:      make(chan struct{}, 1),
	}
	apiName := ""
scan:
	for _, p := range params {
		switch p.Type {
		case ParamInvalid:
			break scan
		case ParamAPIType:
			v, err := paramString(p)
			if err != nil {
				return nil, err
			}
			apiName = v
		case ParamAdvancedControl:
			v, err := paramBool(p)
			if err != nil {
				return nil, err
			}
			rc.advancedControl = v
		case ParamFlipY:
			v, err := paramBool(p)
			if err != nil {
				return nil, err
			}
			rc.flipY = v
		case ParamICCProfile:
			v, err := paramBytes(p)
			if err != nil {
				return nil, err
			}
			rc.iccProfile = v
		case ParamAmbientLight:
			v, err := paramInt(p)
			if err != nil {
				return nil, err
			}
			rc.ambientLux = v
		default:
			return nil, types.ErrNotImplemented{
				What: fmt.Sprintf("construction parameter %s", p.Type),
			}
		}
	}
	if apiName == "" {
		return nil, types.ErrInvalidParameter{
			Param: ParamAPIType.String(),
			Err:   fmt.Errorf("an API type is required"),
		}
	}
	factory, err := getAPI(ctx, apiName)
	if err != nil {
		return nil, err
	}
	api, err := factory(ctx, params)
	if err != nil {
		return nil, err
	}
	rc.api = api
	if core != nil {
		if err := core.BindRenderContext(ctx, rc); err != nil {
			_ = api.Close(ctx)
			return nil, types.ErrInvalidParameter{Param: "core", Err: err}
		}
	}
	vo, err := videoout.New(ctx, voCfg, newBridgeDriver(rc))
	if err != nil {
		if core != nil {
			core.UnbindRenderContext(ctx, rc)
		}
		_ = api.Close(ctx)
		return nil, err
	}
	rc.vo = vo
	return rc, nil
}

// VO returns the video output driven by this context; the playback core
// queues its frames there.
func (rc *Context) VO() *videoout.VO {
	return rc.vo
}

// SetParameter updates one parameter after construction.
func (rc *Context) SetParameter(ctx context.Context, p Param) error {
	logger.Debugf(ctx, "SetParameter: %s", p.Type)
	switch p.Type {
	case ParamFlipY:
		v, err := paramBool(p)
		if err != nil {
			return err
		}
		rc.locker.Do(ctx, func() { rc.flipY = v })
		return nil
	case ParamICCProfile:
		v, err := paramBytes(p)
		if err != nil {
			return err
		}
		rc.locker.Do(ctx, func() { rc.iccProfile = v })
		rc.vo.Event(types.EventICCProfileChanged)
		return nil
	case ParamAmbientLight:
		v, err := paramInt(p)
		if err != nil {
			return err
		}
		rc.locker.Do(ctx, func() { rc.ambientLux = v })
		rc.vo.Event(types.EventAmbientLightingChanged)
		return nil
	}
	return types.ErrNotImplemented{
		What: fmt.Sprintf("runtime parameter %s", p.Type),
	}
}

// SetUpdateCallback installs the "look at me" notification. It is called
// from the VO worker; it must never call back into the context (use
// Update from another goroutine instead). If a frame is already pending
// the callback fires immediately.
func (rc *Context) SetUpdateCallback(ctx context.Context, fn func()) {
	var fire bool
	rc.locker.Do(ctx, func() {
		rc.updateCB = fn
		fire = fn != nil && rc.pending != nil && !rc.cbArmed
		if fire {
			rc.cbArmed = true
		}
	})
	if fire {
		fn()
	}
}

// Update acknowledges the update callback and reports what the embedder
// must do; UpdateFrame obliges exactly one Render call. Callbacks which
// fired while the embedder was busy are batched into a single Update.
func (rc *Context) Update(ctx context.Context) UpdateFlags {
	return xsync.DoR1(ctx, &rc.locker, func() UpdateFlags {
		rc.cbArmed = false
		var flags UpdateFlags
		if rc.pending != nil {
			flags |= UpdateFrame
		}
		return flags
	})
}

// NextFrameInfo describes the pending frame, if any.
func (rc *Context) NextFrameInfo(ctx context.Context) FrameInfo {
	return xsync.DoR1(ctx, &rc.locker, func() FrameInfo {
		if rc.pending == nil {
			return FrameInfo{}
		}
		info := FrameInfo{
			Flags:        FrameInfoPresent,
			TargetTimeUS: rc.pending.PTS,
		}
		if rc.pending.Redraw {
			info.Flags |= FrameInfoRedraw
		}
		if rc.pending.Repeat {
			info.Flags |= FrameInfoRepeat
		}
		if rc.pending.DisplaySynced {
			info.Flags |= FrameInfoBlockVsync
		}
		return info
	})
}

// Render draws the pending frame (or re-renders the last one when none
// is pending) through the backend and blocks until the frame's target
// time unless that was disabled. Each Render must be paired, in order,
// with exactly one buffer swap on the embedder's side.
func (rc *Context) Render(ctx context.Context, params ...Param) (_err error) {
	logger.Tracef(ctx, "Render")
	defer func() { logger.Tracef(ctx, "/Render: %v", _err) }()
	if rc.IsClosed() {
		return types.ErrDestroyed{}
	}
	opts := RenderOptions{
		BlockForTargetTime: true,
		FlipY:              rc.flipY,
	}
	for _, p := range params {
		switch p.Type {
		case ParamInvalid:
		case ParamBlockForTargetTime:
			v, err := paramBool(p)
			if err != nil {
				return err
			}
			opts.BlockForTargetTime = v
		case ParamSkipRendering:
			v, err := paramBool(p)
			if err != nil {
				return err
			}
			opts.SkipRendering = v
		case ParamFlipY:
			v, err := paramBool(p)
			if err != nil {
				return err
			}
			opts.FlipY = v
		case ParamSoftwareTarget:
			v, ok := p.Data.(*SoftwareTarget)
			if !ok {
				return types.ErrInvalidParameter{
					Param: p.Type.String(),
					Err:   fmt.Errorf("expected a *SoftwareTarget, got %T", p.Data),
				}
			}
			opts.SoftwareTarget = v
		default:
			return types.ErrNotImplemented{
				What: fmt.Sprintf("render parameter %s", p.Type),
			}
		}
	}

	var (
		f           *frame.Frame
		fromPending bool
	)
	rc.locker.Do(ctx, func() {
		if rc.pending != nil {
			f = rc.pending
			rc.pending = nil
			fromPending = true
			return
		}
		if rc.lastFrame != nil {
			f = rc.lastFrame.Ref()
			f.Redraw = true
			f.Repeat = true
		}
	})

	var err error
	if f != nil && !opts.SkipRendering {
		err = rc.api.Render(ctx, f, opts)
	}
	// SkipRendering is timed identically to a real render
	if f != nil && opts.BlockForTargetTime && f.PTS > 0 {
		if wait := types.UntilUS(f.PTS); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-rc.CloseChan():
				err = types.ErrDestroyed{}
			case <-ctx.Done():
				err = ctx.Err()
			}
			t.Stop()
		}
	}

	rc.locker.Do(ctx, func() {
		switch {
		case fromPending:
			if rc.IsClosed() {
				// Free already swept lastFrame; do not resurrect it
				recycleRef(f)
				return
			}
			if rc.lastFrame != nil {
				recycleRef(rc.lastFrame)
			}
			rc.lastFrame = f
		case f != nil:
			recycleRef(f)
		}
	})

	// release the worker's flip wait
	select {
	case rc.renderedCh <- struct{}{}:
	default:
	}
	return err
}

// ReportSwap feeds the true swap time of the last Render back into the
// vsync estimator. It is optional, but once used it should be called for
// every swap or the timing estimate degrades. It is a no-op while no
// video is active.
func (rc *Context) ReportSwap(ctx context.Context) {
	if rc.IsClosed() {
		return
	}
	if !rc.vo.HasFrame(ctx) {
		return
	}
	rc.vo.ReportSwap(ctx)
}

// Free destroys the context and its VO. It may be called at any time; a
// Render running concurrently on another thread fails with
// types.ErrDestroyed. Free is idempotent.
func (rc *Context) Free(ctx context.Context) {
	logger.Debugf(ctx, "Free")
	defer func() { logger.Debugf(ctx, "/Free") }()
	rc.ClosureSignaler.Close(ctx)
	if rc.vo != nil {
		rc.vo.Destroy(ctx)
	}
	if err := rc.api.Close(ctx); err != nil {
		logger.Errorf(ctx, "unable to close the '%s' backend: %v", rc.api.Name(), err)
	}
	if rc.core != nil {
		rc.core.UnbindRenderContext(ctx, rc)
	}
	rc.locker.Do(ctx, func() {
		if rc.pending != nil {
			recycleRef(rc.pending)
			rc.pending = nil
		}
		if rc.lastFrame != nil {
			recycleRef(rc.lastFrame)
			rc.lastFrame = nil
		}
	})
}

// voCloseChan returns the channel closed when the bridged VO shuts
// down. The bridge only presents frames after construction finished, so
// rc.vo is always set by the time this is called.
func (rc *Context) voCloseChan() <-chan struct{} {
	return rc.vo.CloseChan()
}

// recycleRef recycles a Ref copy: the images are shared with the VO's
// current frame, so they are never released here.
func recycleRef(f *frame.Frame) {
	if f.Frames != nil {
		f.Frames.Clear()
	}
	f.Recycle()
}

// offerFrame is the worker-side handoff: the bridge driver got a frame
// to present and the embedder must be notified (coalescing repeated
// notifications until the next Update).
func (rc *Context) offerFrame(ctx context.Context, f *frame.Frame) {
	var cb func()
	rc.locker.Do(ctx, func() {
		if rc.pending != nil {
			recycleRef(rc.pending)
		}
		rc.pending = f.Ref()
		if !rc.cbArmed && rc.updateCB != nil {
			rc.cbArmed = true
			cb = rc.updateCB
		}
	})
	if cb != nil {
		cb()
	}
}

func (rc *Context) discardPending(ctx context.Context) {
	rc.locker.Do(ctx, func() {
		if rc.pending != nil {
			recycleRef(rc.pending)
			rc.pending = nil
		}
	})
}

func (rc *Context) lastImage(ctx context.Context) frame.Image {
	return xsync.DoR1(ctx, &rc.locker, func() frame.Image {
		if rc.lastFrame == nil {
			return nil
		}
		return rc.lastFrame.Current()
	})
}

// ICCProfile returns the profile provided by the embedder (nil if none).
func (rc *Context) ICCProfile(ctx context.Context) []byte {
	return xsync.DoR1(ctx, &rc.locker, func() []byte {
		return rc.iccProfile
	})
}

// AmbientLux returns the ambient illuminance provided by the embedder.
func (rc *Context) AmbientLux(ctx context.Context) int {
	return xsync.DoR1(ctx, &rc.locker, func() int {
		return rc.ambientLux
	})
}
