// Package driver defines the fixed operation contract behind a video
// output. New backends are added by implementing Abstract and
// registering a Factory; engine internals are never subclassed.
package driver

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
)

// Caps are static capability bits of a driver; read-only after
// construction.
type Caps uint32

const (
	// CapRotate90 is set when the driver handles ImageParams.Rotate in 90
	// degree steps itself.
	CapRotate90 Caps = 1 << iota
	// CapFramedrop is set when the driver does framedrop itself; the
	// engine then defers all drop decisions to it. Untimed/encoding
	// drivers never drop.
	CapFramedrop
	// CapNoRetain is set when the driver does not allow images to be
	// retained past the DrawFrame call.
	CapNoRetain
)

// Info describes a driver's static properties.
type Info struct {
	Name        string
	Description string

	// Encode is set for encoding drivers (no display attached).
	Encode bool

	// InitiallyBlocked requires waiting for types.EventInitialUnblock
	// before the first frame can be sent. Reconfig calls are allowed
	// meanwhile. Encode mode uses this; the playback core implicitly
	// checks it via IsReadyForFrame.
	InitiallyBlocked bool

	// Untimed disables video timing entirely: frames are pushed as
	// quickly as possible, never dropped and never redrawn.
	Untimed bool

	Caps Caps
}

// EventSink is what the engine hands to a driver so it can signal
// asynchronous conditions. Both methods are safe to call from any
// thread; Wakeup in particular must never be used to call back into any
// other engine operation.
type EventSink interface {
	Event(types.Event)
	Wakeup()
}

// Abstract is the fixed operation set of a display backend.
//
// Lifecycle: uninitialized → Preinit → (Reconfig ⇄ rendering)* → Uninit.
// Except where noted, all operations are called from the single thread
// which owns the video output.
type Abstract interface {
	fmt.Stringer

	// Info returns the static descriptor; it must not change after
	// construction.
	Info() Info

	// Preinit initializes the backend. A failure is a hard local failure:
	// the engine falls back to the next candidate driver.
	Preinit(ctx context.Context, sink EventSink) error

	// QueryFormat reports whether images with the given pixel format are
	// supported (i.e. whether Reconfig with it would succeed).
	QueryFormat(ctx context.Context, pixelFormat string) bool

	// Reconfig initializes or reconfigures the output for the given
	// parameters. It may be called repeatedly while configured; it must
	// be idempotent with respect to already-matching parameters.
	Reconfig(ctx context.Context, params types.ImageParams) error

	// Control handles a typed request. Unhandled requests return
	// types.ErrNotImplemented (the engine emulates some of them, e.g.
	// redraw).
	Control(ctx context.Context, req Request, data any) error

	// DrawFrame renders the given frame to the backbuffer. It is also
	// called for repeats and redraws. The frame is owned by the caller,
	// but the driver may inspect its lookahead window and retain image
	// references unless CapNoRetain is set.
	DrawFrame(ctx context.Context, f *frame.Frame) error

	// FlipPage presents the backbuffer. Called exactly once after each
	// DrawFrame (or DrawImage).
	FlipPage(ctx context.Context) error

	// WaitEvents waits for backend events until the given monotonic µs
	// deadline, or until Wakeup interrupts it. Drivers without an own
	// event loop just sleep here on an internal wakeup channel.
	WaitEvents(ctx context.Context, untilUS int64) error

	// Wakeup interrupts WaitEvents. It behaves like a binary semaphore:
	// if no WaitEvents is in progress, the next call returns
	// immediately. It must be thread-safe and must not call any other
	// driver or engine function.
	Wakeup()

	// Uninit closes the driver and restores the original state of the
	// system. Terminal: no operation may be called afterwards.
	Uninit(ctx context.Context)
}

// LegacyDrawer is the legacy single-image render path: drivers implement
// either DrawImage (plus FlipPage) or the lookahead-aware DrawFrame,
// never meaningfully both. When a driver implements LegacyDrawer, the
// engine feeds it the current image only and emulates redraw by
// re-sending it.
type LegacyDrawer interface {
	DrawImage(ctx context.Context, img frame.Image) error
}

// ImageAllocator is the optional direct-rendering hook: the returned
// image's stride must be a multiple of strideAlign (a power of two >=
// 1). When absent, the engine falls back to an internally allocated
// buffer. Called on the owning thread only.
type ImageAllocator interface {
	GetImage(
		ctx context.Context,
		params types.ImageParams,
		strideAlign int,
	) (frame.Image, error)
}

// ThreadSafeImageAllocator is the variant of ImageAllocator which may be
// called from any thread; the only guarantee it can rely upon is that
// Uninit has not returned yet. A driver sets at most one of the two
// hooks.
type ThreadSafeImageAllocator interface {
	GetImageTS(
		ctx context.Context,
		params types.ImageParams,
		strideAlign int,
	) (frame.Image, error)
}
