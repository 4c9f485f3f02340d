package frame

import (
	"fmt"

	"github.com/xaionaro-go/videoout/pool"
)

// Frame describes one presentable image plus its timing metadata and a
// lookahead window of future images.
//
// A Frame is immutable once queued: ownership transfers to the frame
// queue on enqueue, then transiently to the driver while it is being
// rendered.
type Frame struct {
	// PTS is the monotonic microsecond timestamp when the frame should be
	// shown; 0 means "present immediately".
	PTS int64

	// Duration is the intended frame duration in microseconds (may be
	// approximate).
	Duration int64

	// VsyncInterval is the estimated distance between two vsync events at
	// enqueue time, in microseconds.
	VsyncInterval float64

	// VsyncOffset is the "ideal" display time within the vsync.
	VsyncOffset float64

	// IdealFrameDuration is the "ideal" frame duration across repeats
	// (can differ from NumVsyncs*VsyncInterval by up to a vsync); it is
	// valid for the entire frame, i.e. not changed for repeats.
	IdealFrameDuration float64

	// NumVsyncs is how often the frame will be repeated (not counting
	// pure redraws).
	NumVsyncs int

	// Redraw is set when this is not a new decode but a re-show of the
	// current frame (e.g. while paused, or after an option change).
	Redraw bool

	// Repeat is set when the frame is an exact duplicate of the previous
	// one, even if the underlying image reference differs. A repeated
	// frame can also be redrawn, in which case Repeat && Redraw.
	Repeat bool

	// Still is set when no motion is expected (e.g. paused).
	Still bool

	// DisplaySynced is set in push-as-fast-as-possible mode with implied
	// vsync blocking.
	DisplaySynced bool

	// CanDrop allows the engine to drop this frame when the output is
	// behind.
	CanDrop bool

	// Frames is the lookahead window; Frames.At(0) is the current image.
	// The image in slot n has ID FrameID+n.
	Frames *Ring

	// FrameID identifies the current image. It is never 0 while the frame
	// holds an image and is strictly increasing across the stream: drops,
	// seeks and reconfigures never reuse or rewind an ID. Instant redraws
	// keep the ID of the frame they re-show.
	FrameID uint64
}

// Current returns the image to present (nil in the no-image idle case,
// where a driver is expected to paint a black background).
func (f *Frame) Current() Image {
	if f.Frames == nil {
		return nil
	}
	return f.Frames.At(0)
}

// NumFrames returns the size of the filled lookahead window (including
// the current image).
func (f *Frame) NumFrames() int {
	if f.Frames == nil {
		return 0
	}
	return f.Frames.Len()
}

func (f *Frame) String() string {
	if f == nil {
		return "Frame(nil)"
	}
	return fmt.Sprintf(
		"Frame(id:%d, pts:%d, dur:%d, vsyncs:%d, redraw:%t, repeat:%t, still:%t, dsync:%t, candrop:%t, look:%d)",
		f.FrameID, f.PTS, f.Duration, f.NumVsyncs,
		f.Redraw, f.Repeat, f.Still, f.DisplaySynced, f.CanDrop,
		f.NumFrames(),
	)
}

var framePool = pool.NewPool(
	func() *Frame { return &Frame{} },
	func(f *Frame) { *f = Frame{} },
)

// NewFromPool returns a zero Frame from the internal pool.
func NewFromPool() *Frame {
	return framePool.Get()
}

// Recycle returns the Frame object (not the images) to the pool. The
// caller must not touch the frame afterwards.
func (f *Frame) Recycle() {
	framePool.Put(f)
}

// ReleaseOwned releases the frame's current image (the single reference
// the frame owns; lookahead slots belong to later frames) and clears the
// window. Redraw/repeat copies made via Ref must never call it, or the
// shared image would be released twice.
func (f *Frame) ReleaseOwned() {
	img := f.Current()
	if f.Frames != nil {
		f.Frames.Clear()
	}
	if img != nil {
		releaseImage(img)
	}
}

// Ref returns a shallow copy of the frame which shares the image
// references; used to derive redraw/repeat frames from the last shown
// one.
func (f *Frame) Ref() *Frame {
	c := NewFromPool()
	*c = *f
	if f.Frames != nil {
		c.Frames = f.Frames.Clone()
	}
	return c
}
