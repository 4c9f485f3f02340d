package vsync

import (
	"context"

	"go.uber.org/atomic"

	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/xsync"
)

// An interval sample longer than this is considered a stall (e.g. the
// window was hidden), not a vsync measurement.
const maxPlausibleIntervalUS = 500_000

// Estimator derives the display's vsync interval and jitter from swap
// times reported by the backend (or the embedding application).
//
// Mutation follows the dispatcher ownership rule: only the thread which
// currently owns the video output may call ReportSwap/SeedInterval/Reset.
// The accessors are lock-free and may be called from anywhere.
type Estimator struct {
	locker xsync.Mutex

	intervals *SampleStats

	lastSwapUS  atomic.Int64
	numSwaps    atomic.Int64
	nominalUS   atomic.Float64
	estimatedUS atomic.Float64
	jitterUS    atomic.Float64
}

func NewEstimator(sampleCount int) *Estimator {
	return &Estimator{
		intervals: NewSampleStats(sampleCount),
	}
}

// SeedInterval sets the nominal interval (e.g. from the display's
// advertised FPS). It is used until enough real samples arrive, and
// again after Reset.
func (e *Estimator) SeedInterval(ctx context.Context, intervalUS float64) {
	logger.Debugf(ctx, "SeedInterval: %f", intervalUS)
	e.nominalUS.Store(intervalUS)
}

// ReportSwap feeds one real presentation time (monotonic µs) into the
// statistics. Swap times must be reported in chronological order; the
// estimator does not try to repair reordered reports.
func (e *Estimator) ReportSwap(ctx context.Context, timeUS int64) {
	e.locker.Do(ctx, func() {
		last := e.lastSwapUS.Load()
		e.lastSwapUS.Store(timeUS)
		e.numSwaps.Add(1)
		if last == 0 {
			return
		}
		interval := float64(timeUS - last)
		if interval <= 0 || interval > maxPlausibleIntervalUS {
			logger.Tracef(ctx, "ReportSwap: ignoring implausible interval %f", interval)
			return
		}
		e.intervals.Add(interval)
		e.estimatedUS.Store(e.intervals.Avg())
		e.jitterUS.Store(e.intervals.StdDev())
	})
}

// EstimatedIntervalUS returns the estimated vsync interval in µs; the
// nominal seed when too few samples arrived yet; 0 when nothing is
// known at all.
func (e *Estimator) EstimatedIntervalUS() float64 {
	if v := e.estimatedUS.Load(); v > 0 {
		return v
	}
	return e.nominalUS.Load()
}

// JitterUS returns the estimated vsync jitter in µs.
func (e *Estimator) JitterUS() float64 {
	return e.jitterUS.Load()
}

// LastSwapUS returns the last reported swap time (0 if none was
// reported since the last Reset).
func (e *Estimator) LastSwapUS() int64 {
	return e.lastSwapUS.Load()
}

// NumSwaps returns how many swaps were reported since the last Reset.
func (e *Estimator) NumSwaps() int64 {
	return e.numSwaps.Load()
}

// DisplayFPS returns the estimated display refresh rate, or 0 when
// unknown.
func (e *Estimator) DisplayFPS() float64 {
	interval := e.EstimatedIntervalUS()
	if interval <= 0 {
		return 0
	}
	return 1e6 / interval
}

// Reset discards the measurement history (not just pauses it): the ring,
// the last swap time and the derived estimates all revert to the seed
// state. Called on seek.
func (e *Estimator) Reset(ctx context.Context) {
	logger.Debugf(ctx, "Reset")
	e.locker.Do(ctx, func() {
		e.intervals.Reset()
		e.lastSwapUS.Store(0)
		e.numSwaps.Store(0)
		e.estimatedUS.Store(0)
		e.jitterUS.Store(0)
	})
}
