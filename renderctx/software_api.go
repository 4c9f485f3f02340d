package renderctx

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/videoout/frame"
	"github.com/xaionaro-go/videoout/types"
)

func init() {
	RegisterAPI("software", func(ctx context.Context, params []Param) (API, error) {
		return &softwareAPI{}, nil
	})
}

// softwareAPI blits the frame's current image into the embedder-provided
// target buffer. It needs images which expose their pixel bytes (the
// fallback frame.BytesImage does).
type softwareAPI struct{}

var _ API = (*softwareAPI)(nil)

func (a *softwareAPI) Name() string {
	return "software"
}

type pixelSource interface {
	Bytes() (data []byte, stride int)
}

func (a *softwareAPI) Render(
	ctx context.Context,
	f *frame.Frame,
	opts RenderOptions,
) error {
	dst := opts.SoftwareTarget
	if dst == nil {
		return types.ErrInvalidParameter{
			Param: ParamSoftwareTarget.String(),
			Err:   fmt.Errorf("the software backend needs a target buffer per render call"),
		}
	}
	if dst.Stride < dst.Width*4 || len(dst.Pixels) < dst.Stride*dst.Height {
		return types.ErrInvalidParameter{
			Param: ParamSoftwareTarget.String(),
			Err:   fmt.Errorf("the target buffer is too small"),
		}
	}
	img := f.Current()
	if img == nil {
		for i := range dst.Pixels {
			dst.Pixels[i] = 0
		}
		return nil
	}
	src, ok := img.(pixelSource)
	if !ok {
		return types.ErrUnsupported{
			Reason: fmt.Sprintf("image %T does not expose pixel bytes", img),
		}
	}
	data, stride := src.Bytes()
	params := img.Params()
	w := min(params.Width, dst.Width)
	h := min(params.Height, dst.Height)
	for y := 0; y < h; y++ {
		dstY := y
		if opts.FlipY {
			dstY = dst.Height - 1 - y
		}
		copy(
			dst.Pixels[dstY*dst.Stride:dstY*dst.Stride+w*4],
			data[y*stride:y*stride+w*4],
		)
	}
	return nil
}

func (a *softwareAPI) Close(ctx context.Context) error {
	return nil
}
