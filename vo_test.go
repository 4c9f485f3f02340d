package videoout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
)

type drawRecord struct {
	FrameID uint64
	Redraw  bool
	Repeat  bool
}

// recDriver records every frame it is asked to draw.
type recDriver struct {
	info     driver.Info
	wakeupCh chan struct{}

	mu           sync.Mutex
	drawn        []drawRecord
	flips        int
	handleRedraw bool
	redraws      int
}

var _ driver.Abstract = (*recDriver)(nil)

func newRecDriver(info driver.Info) *recDriver {
	return &recDriver{
		info:     info,
		wakeupCh: make(chan struct{}, 1),
	}
}

func (d *recDriver) String() string    { return d.info.Name }
func (d *recDriver) Info() driver.Info { return d.info }

func (d *recDriver) Wakeup() {
	select {
	case d.wakeupCh <- struct{}{}:
	default:
	}
}

func (d *recDriver) Preinit(ctx context.Context, sink driver.EventSink) error {
	return nil
}

func (d *recDriver) QueryFormat(ctx context.Context, pixelFormat string) bool {
	return pixelFormat != ""
}

func (d *recDriver) Reconfig(ctx context.Context, params types.ImageParams) error {
	return nil
}

func (d *recDriver) Control(ctx context.Context, req driver.Request, data any) error {
	switch req {
	case driver.RequestReset, driver.RequestPause, driver.RequestResume:
		return nil
	case driver.RequestRedrawFrame:
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.handleRedraw {
			d.redraws++
			return nil
		}
	}
	return types.ErrNotImplemented{What: req.String()}
}

func (d *recDriver) DrawFrame(ctx context.Context, f *frame.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drawn = append(d.drawn, drawRecord{
		FrameID: f.FrameID,
		Redraw:  f.Redraw,
		Repeat:  f.Repeat,
	})
	return nil
}

func (d *recDriver) FlipPage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flips++
	return nil
}

func (d *recDriver) WaitEvents(ctx context.Context, untilUS int64) error {
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

func (d *recDriver) Uninit(ctx context.Context) {}

func (d *recDriver) records() []drawRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]drawRecord, len(d.drawn))
	copy(out, d.drawn)
	return out
}

type nopImage struct{}

func (nopImage) Params() types.ImageParams {
	return types.ImageParams{PixelFormat: "rgb0", Width: 16, Height: 16}
}

func newTestFrame(pts int64, canDrop bool) *frame.Frame {
	f := frame.NewFromPool()
	f.PTS = pts
	f.Duration = 16_000
	f.CanDrop = canDrop
	f.Frames = frame.NewRing(1)
	f.Frames.Push(nopImage{})
	return f
}

func newTestVO(t *testing.T, info driver.Info) (*VO, *recDriver) {
	ctx := context.Background()
	d := newRecDriver(info)
	vo, err := New(ctx, Config{}, d)
	require.NoError(t, err)
	t.Cleanup(func() { vo.Destroy(ctx) })
	err = vo.Reconfig(ctx, types.ImageParams{PixelFormat: "rgb0", Width: 16, Height: 16})
	require.NoError(t, err)
	return vo, d
}

func queueWhenReady(t *testing.T, vo *VO, f *frame.Frame) {
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if vo.IsReadyForFrame(ctx, f.PTS) {
			err := vo.QueueFrame(ctx, f)
			if err == nil {
				return
			}
			require.ErrorAs(t, err, &types.ErrNotReady{})
		}
		require.True(t, time.Now().Before(deadline), "timed out waiting for the queue")
		time.Sleep(time.Millisecond)
	}
}

func waitForRecords(t *testing.T, d *recDriver, n int) []drawRecord {
	deadline := time.Now().Add(5 * time.Second)
	for {
		recs := d.records()
		if len(recs) >= n {
			return recs
		}
		require.True(t, time.Now().Before(deadline), "timed out waiting for %d draws, got %d", n, len(recs))
		time.Sleep(time.Millisecond)
	}
}

func TestFrameIDsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec"})

	base := types.NowUS()
	for i := int64(0); i < 3; i++ {
		queueWhenReady(t, vo, newTestFrame(base+i*16_000, false))
	}
	require.NoError(t, vo.WaitFrame(ctx))

	recs := waitForRecords(t, d, 3)
	require.Len(t, recs, 3)
	first := recs[0].FrameID
	require.NotZero(t, first)
	for i, rec := range recs {
		require.Equal(t, first+uint64(i), rec.FrameID)
		require.False(t, rec.Redraw)
		require.False(t, rec.Repeat)
	}
	require.Zero(t, vo.DropCount())
	require.Zero(t, vo.DelayedCount())
}

func TestEmptyQueueRedrawsPreviousFrame(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec"})

	queueWhenReady(t, vo, newTestFrame(types.NowUS(), false))
	require.NoError(t, vo.WaitFrame(ctx))
	recs := waitForRecords(t, d, 1)

	vo.Redraw(ctx)
	recs = waitForRecords(t, d, 2)
	require.True(t, recs[1].Redraw)
	require.True(t, recs[1].Repeat)
	require.Equal(t, recs[0].FrameID, recs[1].FrameID)
	require.Zero(t, vo.DropCount())
}

func TestLateDroppableFramesAreDropped(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec"})

	// establish a swap time so the engine has a vsync reference
	queueWhenReady(t, vo, newTestFrame(types.NowUS(), false))
	require.NoError(t, vo.WaitFrame(ctx))

	for i := 0; i < 5; i++ {
		queueWhenReady(t, vo, newTestFrame(types.NowUS()-200_000, true))
		require.NoError(t, vo.WaitFrame(ctx))
	}

	require.GreaterOrEqual(t, vo.DropCount(), uint64(2))
	recs := d.records()
	for i := 1; i < len(recs); i++ {
		require.Greater(t, recs[i].FrameID, recs[i-1].FrameID)
	}
}

func TestCanDropFalseIsNeverDropped(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec"})

	queueWhenReady(t, vo, newTestFrame(types.NowUS(), false))
	require.NoError(t, vo.WaitFrame(ctx))

	for i := 0; i < 5; i++ {
		queueWhenReady(t, vo, newTestFrame(types.NowUS()-200_000, false))
		require.NoError(t, vo.WaitFrame(ctx))
	}
	require.Zero(t, vo.DropCount())
	waitForRecords(t, d, 6)
}

func TestSeekResetKeepsDropCounterAndIDs(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec"})

	queueWhenReady(t, vo, newTestFrame(types.NowUS(), false))
	require.NoError(t, vo.WaitFrame(ctx))
	queueWhenReady(t, vo, newTestFrame(types.NowUS()-200_000, true))
	require.NoError(t, vo.WaitFrame(ctx))
	dropsBefore := vo.DropCount()

	// feed the estimator a real measurable interval
	vo.ReportSwap(ctx)
	time.Sleep(5 * time.Millisecond)
	vo.ReportSwap(ctx)
	require.NotZero(t, vo.EstimatedVsyncIntervalUS())

	require.NoError(t, vo.SeekReset(ctx))
	require.Equal(t, dropsBefore, vo.DropCount())
	require.Zero(t, vo.EstimatedVsyncIntervalUS())
	require.False(t, vo.HasFrame(ctx))

	recsBefore := d.records()
	lastID := recsBefore[len(recsBefore)-1].FrameID
	queueWhenReady(t, vo, newTestFrame(types.NowUS(), false))
	require.NoError(t, vo.WaitFrame(ctx))
	recs := waitForRecords(t, d, len(recsBefore)+1)
	require.Greater(t, recs[len(recs)-1].FrameID, lastID)
}

func TestBackpressureOnFullQueue(t *testing.T) {
	ctx := context.Background()
	vo, _ := newTestVO(t, driver.Info{Name: "rec"})

	// far in the future: the worker will not consume it for a while
	farPTS := types.NowUS() + 60_000_000
	require.NoError(t, vo.QueueFrame(ctx, newTestFrame(farPTS, false)))

	require.False(t, vo.IsReadyForFrame(ctx, farPTS+16_000))
	f := newTestFrame(farPTS+16_000, false)
	err := vo.QueueFrame(ctx, f)
	require.ErrorAs(t, err, &types.ErrNotReady{})
	f.ReleaseOwned()
	f.Recycle()

	require.True(t, vo.StillDisplaying(ctx))
}

func TestInitiallyBlockedDriver(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec", InitiallyBlocked: true})

	f := newTestFrame(types.NowUS(), false)
	err := vo.QueueFrame(ctx, f)
	require.ErrorAs(t, err, &types.ErrNotReady{})

	vo.Event(types.EventInitialUnblock)
	queueWhenReady(t, vo, f)
	require.NoError(t, vo.WaitFrame(ctx))
	waitForRecords(t, d, 1)
}

func TestDriverSideRedrawSkipsDrawing(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec"})

	queueWhenReady(t, vo, newTestFrame(types.NowUS(), false))
	require.NoError(t, vo.WaitFrame(ctx))
	waitForRecords(t, d, 1)

	d.mu.Lock()
	d.handleRedraw = true
	d.mu.Unlock()

	vo.Redraw(ctx)
	deadline := time.Now().Add(5 * time.Second)
	for {
		d.mu.Lock()
		redraws, flips := d.redraws, d.flips
		d.mu.Unlock()
		if redraws >= 1 && flips >= 2 {
			break
		}
		require.True(t, time.Now().Before(deadline), "timed out waiting for the driver-side redraw")
		time.Sleep(time.Millisecond)
	}
	// the driver repainted itself: no second draw call
	require.Len(t, d.records(), 1)
}

func TestInitialUnblockEventIsDrainable(t *testing.T) {
	ctx := context.Background()
	vo, _ := newTestVO(t, driver.Info{Name: "rec", InitiallyBlocked: true})

	require.False(t, vo.IsReadyForFrame(ctx, types.NowUS()))
	vo.Event(types.EventInitialUnblock)
	got := vo.QueryAndResetEvents(types.EventsUser)
	require.NotZero(t, got&types.EventInitialUnblock)
	// draining the bit does not re-block the output
	require.True(t, vo.IsReadyForFrame(ctx, types.NowUS()))
}

func TestQueryAndResetEvents(t *testing.T) {
	vo, _ := newTestVO(t, driver.Info{Name: "rec"})

	vo.Event(types.EventResize | types.EventExpose)
	got := vo.QueryAndResetEvents(types.EventsUser)
	require.Equal(t, types.EventResize, got)
	require.Zero(t, vo.QueryAndResetEvents(types.EventsUser))
	require.Equal(t, types.EventExpose, vo.QueryAndResetEvents(types.EventExpose))
}

func TestUntimedDriverPushesImmediately(t *testing.T) {
	ctx := context.Background()
	vo, d := newTestVO(t, driver.Info{Name: "rec", Untimed: true})

	// a far-future PTS is ignored by an untimed driver
	queueWhenReady(t, vo, newTestFrame(types.NowUS()+60_000_000, true))
	require.NoError(t, vo.WaitFrame(ctx))
	waitForRecords(t, d, 1)
	require.Zero(t, vo.DropCount())
}

func TestDestroyFailsPendingOperations(t *testing.T) {
	ctx := context.Background()
	d := newRecDriver(driver.Info{Name: "rec"})
	vo, err := New(ctx, Config{}, d)
	require.NoError(t, err)

	vo.Destroy(ctx)

	f := newTestFrame(types.NowUS(), false)
	err = vo.QueueFrame(ctx, f)
	require.ErrorAs(t, err, &types.ErrDestroyed{})
	f.ReleaseOwned()
	f.Recycle()

	err = vo.Control(ctx, driver.RequestCheckEvents, nil)
	require.ErrorAs(t, err, &types.ErrDestroyed{})

	// idempotent
	vo.Destroy(ctx)
}

func TestInitBestFallsThroughFailingDrivers(t *testing.T) {
	ctx := context.Background()
	_, err := InitBest(ctx, Config{}, "no-such-driver")
	require.ErrorAs(t, err, &driver.ErrNoDriver{})
}
