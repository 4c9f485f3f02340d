// Package videoout implements the presentation side of a video player:
// it accepts decoded frames from a playback core, queues them with a
// lookahead window, decides when each frame should appear (dropping or
// repeating as needed), and hands them to a pluggable display driver.
//
// All driver calls and all mutation of queue/timing state are
// serialized on a single worker goroutine per VO; other threads talk to
// it only through the public operations.
package videoout

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/vsync"
	"github.com/xaionaro-go/xsync"
)

// Config tunes a VO at construction time.
type Config struct {
	// QueueCapacity bounds the frame queue; QueueFrame reports
	// types.ErrNotReady when it is full. Default: 1 (the producer keeps
	// at most one undisplayed frame in flight).
	QueueCapacity int

	// TimingOffsetUS is how far ahead of a frame's PTS rendering starts
	// (the "headroom" the render path gets). Default: 50000 (50ms).
	TimingOffsetUS int64

	// LookaheadCapacity caps the per-frame lookahead window. Default:
	// frame.DefaultLookahead.
	LookaheadCapacity int

	// VsyncSampleCount sizes the vsync estimator's sample ring. Default:
	// vsync.DefaultSampleCount.
	VsyncSampleCount int

	// OnWakeup, when set, is invoked (from arbitrary threads, possibly
	// the worker) whenever the playback core should look at the VO
	// again: new events are pending or IsReadyForFrame may have flipped
	// to true. It must not call back into any VO operation.
	OnWakeup func()
}

func (cfg Config) withDefaults() Config {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1
	}
	if cfg.TimingOffsetUS <= 0 {
		cfg.TimingOffsetUS = 50_000
	}
	if cfg.LookaheadCapacity <= 0 {
		cfg.LookaheadCapacity = frame.DefaultLookahead
	}
	if cfg.VsyncSampleCount <= 0 {
		cfg.VsyncSampleCount = vsync.DefaultSampleCount
	}
	return cfg
}

// New binds the given driver to a new VO for the driver's whole
// lifetime: it runs Preinit and starts the worker. On a Preinit failure
// the driver is not started and the error is returned (wrapped into
// driver.ErrProbeFailed).
func New(
	ctx context.Context,
	cfg Config,
	d driver.Abstract,
) (_ *VO, _err error) {
	logger.Debugf(ctx, "New: %s", d)
	defer func() { logger.Debugf(ctx, "/New: %v", _err) }()
	cfg = cfg.withDefaults()
	vo := newVO(cfg, d)
	ctx = belt.WithField(ctx, "vo_driver", d.Info().Name)
	if err := d.Preinit(ctx, vo.eventSink()); err != nil {
		return nil, driver.ErrProbeFailed{Name: d.Info().Name, Err: err}
	}
	vo.startServing(ctx)
	return vo, nil
}

// InitBest tries the given driver names in order (or every registered
// driver in priority order when names is empty) and returns the first
// VO whose driver passes Preinit. A Preinit failure is a hard local
// failure of that candidate only.
func InitBest(
	ctx context.Context,
	cfg Config,
	names ...string,
) (_ *VO, _err error) {
	logger.Debugf(ctx, "InitBest: %v", names)
	defer func() { logger.Debugf(ctx, "/InitBest: %v", _err) }()
	if len(names) == 0 {
		names = driver.Names(ctx)
	}
	tried := make([]string, 0, len(names))
	for idx, name := range names {
		factory, err := driver.Get(ctx, name)
		if err != nil {
			logger.Warnf(ctx, "skipping driver '%s': %v", name, err)
			continue
		}
		tried = append(tried, name)
		probing := idx != len(names)-1
		vo, err := New(ctx, cfg, factory(ctx))
		if err != nil {
			level := logger.LevelError
			if probing {
				level = logger.LevelDebug
			}
			logger.Logf(ctx, level, "unable to preinit driver '%s': %v", name, err)
			continue
		}
		return vo, nil
	}
	return nil, driver.ErrNoDriver{Tried: tried}
}

// Core is the attachment point of one playback core. It exists to make
// the "at most one render context per core" rule an explicit ownership
// token instead of process-wide state.
type Core struct {
	locker        xsync.Mutex
	renderContext any
}

// BindRenderContext claims the core's render-context slot. It fails when
// the slot is already taken.
func (c *Core) BindRenderContext(ctx context.Context, token any) error {
	return xsync.DoR1(ctx, &c.locker, func() error {
		if c.renderContext != nil {
			return fmt.Errorf("this core already has a render context")
		}
		c.renderContext = token
		return nil
	})
}

// UnbindRenderContext releases the slot; it is a no-op if the token does
// not match (e.g. after a racing re-bind).
func (c *Core) UnbindRenderContext(ctx context.Context, token any) {
	c.locker.Do(ctx, func() {
		if c.renderContext == token {
			c.renderContext = nil
		}
	})
}

// RenderContext returns the currently bound token (nil if none).
func (c *Core) RenderContext(ctx context.Context) any {
	return xsync.DoR1(ctx, &c.locker, func() any {
		return c.renderContext
	})
}
