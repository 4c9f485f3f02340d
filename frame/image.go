// Package frame provides the value objects travelling through a video
// output: the presentable Image and the Frame which carries one image
// (plus a lookahead window) together with its timing metadata.
package frame

import (
	"fmt"

	"github.com/xaionaro-go/videoout/types"
)

// Image is one presentable picture. The engine treats it as fully opaque:
// pixel access (if any) is negotiated directly between the producer and
// the driver via optional interfaces.
type Image interface {
	Params() types.ImageParams
}

// Releaser is an optional Image capability: the engine calls Release
// exactly once when it drops its own reference to the image (frame
// dropped, queue flushed, or the image replaced as the current frame).
//
// A consumer which retained a separate reference (e.g. a screenshot
// path) may keep using the image afterwards; such retained images never
// delay the driver's Uninit.
type Releaser interface {
	Release()
}

func releaseImage(img Image) {
	if r, ok := img.(Releaser); ok {
		r.Release()
	}
}

// BytesImage is the engine's fallback image allocation: a packed 32bpp
// buffer with a stride aligned as requested. It is used when the driver
// provides no direct-rendering hook.
type BytesImage struct {
	ImageParams types.ImageParams
	Stride      int
	Data        []byte
}

var _ Image = (*BytesImage)(nil)

func (img *BytesImage) Params() types.ImageParams {
	return img.ImageParams
}

// Bytes exposes the pixel bytes and the stride; software blitters rely
// on it.
func (img *BytesImage) Bytes() (data []byte, stride int) {
	return img.Data, img.Stride
}

// AllocBytesImage allocates a BytesImage with the stride rounded up to a
// multiple of strideAlign. strideAlign must be a power of two >= 1.
//
// The fallback allocator assumes packed 32-bit pixels; drivers which need
// a different layout implement their own allocation hook instead.
func AllocBytesImage(
	params types.ImageParams,
	strideAlign int,
) (*BytesImage, error) {
	if strideAlign < 1 || strideAlign&(strideAlign-1) != 0 {
		return nil, types.ErrInvalidParameter{
			Param: "stride_align",
			Err:   fmt.Errorf("%d is not a power of two >= 1", strideAlign),
		}
	}
	if !params.IsValid() {
		return nil, types.ErrInvalidParameter{
			Param: "params",
			Err:   fmt.Errorf("invalid image parameters: %s", params),
		}
	}
	stride := (params.Width*4 + strideAlign - 1) &^ (strideAlign - 1)
	return &BytesImage{
		ImageParams: params,
		Stride:      stride,
		Data:        make([]byte, stride*params.Height),
	}, nil
}
