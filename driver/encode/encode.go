// Package encode implements an encoding driver: instead of driving a
// display it pushes every accepted frame into an FFmpeg encoder and
// writes the resulting packets to an io.Writer.
//
// It only accepts images which carry an *astiav.Frame payload (see
// AstiavImage); producers which decode through FFmpeg get this for free.
package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/xaionaro-go/videoout/driver"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/logger"
	"github.com/xaionaro-go/videoout/types"
	"github.com/xaionaro-go/xsync"
)

type Config struct {
	// CodecName is the FFmpeg encoder name, e.g. "libx264" or
	// "mjpeg".
	CodecName string

	// PixelFormat is the encoder's input pixel format; when unset it is
	// taken from the first frame.
	PixelFormat astiav.PixelFormat

	// Writer receives the encoded packets (raw elementary stream).
	Writer io.Writer
}

// AstiavImage is the image payload contract of this driver.
type AstiavImage interface {
	frame.Image
	AstiavFrame() *astiav.Frame
}

type Driver struct {
	locker xsync.Mutex
	cfg    Config
	sink   driver.EventSink

	params       types.ImageParams
	configured   bool
	unblocked    bool
	codec        *astiav.Codec
	codecContext *astiav.CodecContext

	wakeupCh chan struct{}

	written uint64
}

var _ driver.Abstract = (*Driver)(nil)

func New(cfg Config) *Driver {
	return &Driver{
		cfg:      cfg,
		wakeupCh: make(chan struct{}, 1),
	}
}

func (d *Driver) String() string {
	return fmt.Sprintf("encode(%s)", d.cfg.CodecName)
}

func (d *Driver) Info() driver.Info {
	return driver.Info{
		Name:             "encode",
		Description:      "frame encoder (no display)",
		Encode:           true,
		InitiallyBlocked: true,
		Untimed:          true,
	}
}

func (d *Driver) Preinit(ctx context.Context, sink driver.EventSink) error {
	logger.Debugf(ctx, "Preinit")
	if sink == nil {
		return fmt.Errorf("an event sink is required")
	}
	if d.cfg.Writer == nil {
		return types.ErrInvalidParameter{
			Param: "writer",
			Err:   fmt.Errorf("a packet writer is required"),
		}
	}
	d.codec = astiav.FindEncoderByName(d.cfg.CodecName)
	if d.codec == nil {
		return types.ErrUnsupported{
			Reason: fmt.Sprintf("unknown encoder '%s'", d.cfg.CodecName),
		}
	}
	d.sink = sink
	return nil
}

func (d *Driver) QueryFormat(ctx context.Context, pixelFormat string) bool {
	return pixelFormat != ""
}

func (d *Driver) Reconfig(ctx context.Context, params types.ImageParams) (_err error) {
	logger.Debugf(ctx, "Reconfig: %s", params)
	defer func() { logger.Debugf(ctx, "/Reconfig: %v", _err) }()
	return xsync.DoA2R1(ctx, &d.locker, d.reconfig, ctx, params)
}

func (d *Driver) reconfig(ctx context.Context, params types.ImageParams) error {
	if d.configured && d.params.Equal(params) {
		return nil
	}
	if !params.IsValid() {
		return types.ErrInvalidParameter{
			Param: "params",
			Err:   fmt.Errorf("%s", params),
		}
	}
	if d.codecContext != nil {
		d.drain(ctx)
		d.codecContext.Free()
		d.codecContext = nil
	}
	d.codecContext = astiav.AllocCodecContext(d.codec)
	if d.codecContext == nil {
		return fmt.Errorf("unable to allocate a codec context for '%s'", d.cfg.CodecName)
	}
	d.codecContext.SetWidth(params.Width)
	d.codecContext.SetHeight(params.Height)
	d.codecContext.SetTimeBase(astiav.NewRational(1, 1_000_000))
	if d.cfg.PixelFormat != astiav.PixelFormatNone {
		d.codecContext.SetPixelFormat(d.cfg.PixelFormat)
	} else {
		d.codecContext.SetPixelFormat(astiav.PixelFormatYuv420P)
	}
	if err := d.codecContext.Open(d.codec, nil); err != nil {
		d.codecContext.Free()
		d.codecContext = nil
		return fmt.Errorf("unable to open encoder '%s': %w", d.cfg.CodecName, err)
	}
	d.params = params
	d.configured = true
	if !d.unblocked {
		d.unblocked = true
		d.sink.Event(types.EventInitialUnblock)
	}
	return nil
}

func (d *Driver) Control(ctx context.Context, req driver.Request, data any) error {
	logger.Tracef(ctx, "Control: %s", req)
	switch req {
	case driver.RequestReset, driver.RequestPause, driver.RequestResume,
		driver.RequestCheckEvents:
		return nil
	}
	return types.ErrNotImplemented{What: req.String()}
}

func (d *Driver) DrawFrame(ctx context.Context, f *frame.Frame) (_err error) {
	logger.Tracef(ctx, "DrawFrame: %s", f)
	defer func() { logger.Tracef(ctx, "/DrawFrame: %v", _err) }()
	return xsync.DoA2R1(ctx, &d.locker, d.drawFrame, ctx, f)
}

func (d *Driver) drawFrame(ctx context.Context, f *frame.Frame) error {
	if !d.configured {
		return fmt.Errorf("the driver is not configured")
	}
	if f.Redraw || f.Repeat {
		// an encoder wants each image exactly once
		return nil
	}
	img := f.Current()
	if img == nil {
		return nil
	}
	src, ok := img.(AstiavImage)
	if !ok {
		return types.ErrUnsupported{
			Reason: fmt.Sprintf("image %T carries no *astiav.Frame", img),
		}
	}
	avFrame := src.AstiavFrame()
	avFrame.SetPts(f.PTS)
	if err := d.codecContext.SendFrame(avFrame); err != nil {
		return fmt.Errorf("unable to send a frame to the encoder: %w", err)
	}
	return d.receivePackets(ctx)
}

func (d *Driver) receivePackets(ctx context.Context) error {
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	for {
		err := d.codecContext.ReceivePacket(pkt)
		switch {
		case err == nil:
		case errors.Is(err, astiav.ErrEagain), errors.Is(err, astiav.ErrEof):
			return nil
		default:
			return fmt.Errorf("unable to receive a packet from the encoder: %w", err)
		}
		data := pkt.Data()
		if _, err := d.cfg.Writer.Write(data); err != nil {
			return fmt.Errorf("unable to write an encoded packet: %w", err)
		}
		d.written += uint64(len(data))
		pkt.Unref()
	}
}

func (d *Driver) drain(ctx context.Context) {
	if d.codecContext == nil {
		return
	}
	if err := d.codecContext.SendFrame(nil); err != nil {
		logger.Debugf(ctx, "unable to send the flush frame: %v", err)
		return
	}
	if err := d.receivePackets(ctx); err != nil {
		logger.Errorf(ctx, "unable to drain the encoder: %v", err)
	}
}

func (d *Driver) FlipPage(ctx context.Context) error {
	// nothing is presented; the "flip" happened when the packet was
	// written
	return nil
}

func (d *Driver) WaitEvents(ctx context.Context, untilUS int64) error {
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

func (d *Driver) Wakeup() {
	select {
	case d.wakeupCh <- struct{}{}:
	default:
	}
}

// BytesWritten returns how many encoded bytes went to the writer so far.
func (d *Driver) BytesWritten(ctx context.Context) uint64 {
	return xsync.DoR1(ctx, &d.locker, func() uint64 {
		return d.written
	})
}

func (d *Driver) Uninit(ctx context.Context) {
	logger.Debugf(ctx, "Uninit")
	defer func() { logger.Debugf(ctx, "/Uninit") }()
	d.locker.Do(ctx, func() {
		if d.codecContext != nil {
			d.drain(ctx)
			d.codecContext.Free()
			d.codecContext = nil
		}
		d.configured = false
	})
}
