package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/videoout"
	_ "github.com/xaionaro-go/videoout/driver/null"
	"github.com/xaionaro-go/videoout/driver/software"
	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	driverNames := pflag.String("vo", "", "comma-separated list of drivers to try (empty: all, by priority)")
	width := pflag.Int("width", 1280, "frame width")
	height := pflag.Int("height", 720, "frame height")
	fps := pflag.Float64("fps", 60, "production frame rate")
	frameCount := pflag.Int("frames", 600, "how many frames to push")
	canDrop := pflag.Bool("can-drop", true, "allow the engine to drop late frames")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) {
			l.Error(http.ListenAndServe(*netPprofAddr, nil))
		})
	}

	var names []string
	if *driverNames != "" {
		names = strings.Split(*driverNames, ",")
	}

	cfg := videoout.Config{}
	l.Debugf("config: %s", spew.Sdump(cfg))

	vo, err := videoout.InitBest(ctx, cfg, names...)
	if err != nil {
		l.Fatal(err)
	}
	defer vo.Destroy(ctx)
	l.Infof("using driver '%s'", vo.Driver().Info().Name)

	params := types.ImageParams{
		PixelFormat: "rgb0",
		Width:       *width,
		Height:      *height,
	}
	if err := vo.Reconfig(ctx, params); err != nil {
		l.Fatal(err)
	}

	frameDurUS := int64(1e6 / *fps)
	startUS := types.NowUS() + frameDurUS

	t := time.NewTicker(time.Second)
	defer t.Stop()
	observability.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fmt.Printf(
					"dropped:%s delayed:%s vsync:%.0fus jitter:%.0fus\n",
					humanize.Comma(int64(vo.DropCount())),
					humanize.Comma(int64(vo.DelayedCount())),
					vo.EstimatedVsyncIntervalUS(),
					vo.VsyncJitterUS(),
				)
			}
		}
	})

	for i := 0; i < *frameCount; i++ {
		pts := startUS + int64(i)*frameDurUS
		for !vo.IsReadyForFrame(ctx, pts) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
		img, err := vo.GetImage(ctx, params, 64)
		if err != nil {
			l.Fatal(err)
		}
		paint(img, i)
		f := frame.NewFromPool()
		f.PTS = pts
		f.Duration = frameDurUS
		f.CanDrop = *canDrop
		f.Frames = frame.NewRing(vo.NumReqFrames(ctx))
		f.Frames.Push(img)
		if err := vo.QueueFrame(ctx, f); err != nil {
			l.Errorf("unable to queue the frame: %v", err)
			f.ReleaseOwned()
			f.Recycle()
		}
	}

	if err := vo.WaitFrame(ctx); err != nil {
		l.Error(err)
	}
	if sw, ok := vo.Driver().(*software.Driver); ok {
		l.Infof("blits: %d, flips: %d", sw.BlitCount.Load(), sw.FlipCount.Load())
	}
	fmt.Printf(
		"done: %s frames, %s dropped, %s delayed\n",
		humanize.Comma(int64(*frameCount)),
		humanize.Comma(int64(vo.DropCount())),
		humanize.Comma(int64(vo.DelayedCount())),
	)
}

func paint(img frame.Image, step int) {
	b, ok := img.(*frame.BytesImage)
	if !ok {
		return
	}
	data, stride := b.Bytes()
	p := b.Params()
	for y := 0; y < p.Height; y++ {
		row := data[y*stride:]
		for x := 0; x < p.Width; x++ {
			row[x*4+0] = byte(x + step)
			row[x*4+1] = byte(y + step)
			row[x*4+2] = byte(step)
			row[x*4+3] = 0xff
		}
	}
}
