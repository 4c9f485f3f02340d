package vsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimatorAveragesSwapIntervals(t *testing.T) {
	ctx := context.Background()
	e := NewEstimator(0)

	require.Zero(t, e.EstimatedIntervalUS())
	e.SeedInterval(ctx, 16_666)
	require.Equal(t, 16_666.0, e.EstimatedIntervalUS())

	base := int64(1_000_000)
	for i := int64(0); i < 10; i++ {
		e.ReportSwap(ctx, base+i*16_000)
	}
	require.Equal(t, int64(10), e.NumSwaps())
	require.Equal(t, base+9*16_000, e.LastSwapUS())
	require.InDelta(t, 16_000, e.EstimatedIntervalUS(), 1)
	require.InDelta(t, 0, e.JitterUS(), 1)
	require.InDelta(t, 62.5, e.DisplayFPS(), 0.1)
}

func TestEstimatorIgnoresStalls(t *testing.T) {
	ctx := context.Background()
	e := NewEstimator(0)

	base := int64(1_000_000)
	e.ReportSwap(ctx, base)
	e.ReportSwap(ctx, base+16_000)
	before := e.EstimatedIntervalUS()

	// a 600ms gap is a stall (hidden window), not a vsync measurement
	e.ReportSwap(ctx, base+16_000+600_000)
	require.Equal(t, before, e.EstimatedIntervalUS())

	// and a non-positive interval is dropped too
	e.ReportSwap(ctx, base)
	require.Equal(t, before, e.EstimatedIntervalUS())
}

func TestEstimatorResetRevertsToSeed(t *testing.T) {
	ctx := context.Background()
	e := NewEstimator(4)
	e.SeedInterval(ctx, 16_666)

	base := int64(1_000_000)
	for i := int64(0); i < 5; i++ {
		e.ReportSwap(ctx, base+i*20_000)
	}
	require.InDelta(t, 20_000, e.EstimatedIntervalUS(), 1)

	e.Reset(ctx)
	require.Equal(t, 16_666.0, e.EstimatedIntervalUS())
	require.Zero(t, e.NumSwaps())
	require.Zero(t, e.LastSwapUS())
	require.Zero(t, e.JitterUS())
}

func TestSampleStatsBoundedRing(t *testing.T) {
	s := NewSampleStats(4)
	for _, v := range []float64{10, 20, 30, 40} {
		s.Add(v)
	}
	require.Equal(t, 4, s.Count())
	require.Equal(t, 40.0, s.Last())
	require.Equal(t, 25.0, s.Avg())
	require.Equal(t, 40.0, s.Peak())

	// pushing past capacity evicts the oldest sample
	s.Add(50)
	require.Equal(t, 4, s.Count())
	require.Equal(t, 35.0, s.Avg())
	require.Equal(t, 50.0, s.Peak())

	s.Reset()
	require.Zero(t, s.Count())
	require.Zero(t, s.Avg())
}
