package types

import (
	"fmt"
)

// ImageParams is the configuration snapshot of a video output: what kind
// of images the driver is expected to accept until the next reconfigure.
//
// The VO replaces its copy wholesale on Reconfig; between reconfigures it
// is read-only.
type ImageParams struct {
	// PixelFormat is an opaque format name (the engine itself never
	// interprets it, it only forwards it to QueryFormat).
	PixelFormat string

	Width  int
	Height int

	// Rotate is the rotation in degrees (a multiple of 90); drivers
	// without CapRotate90 reject anything but 0.
	Rotate int
}

func (p ImageParams) Equal(other ImageParams) bool {
	return p == other
}

func (p ImageParams) IsValid() bool {
	return p.Width > 0 && p.Height > 0 && p.PixelFormat != ""
}

func (p ImageParams) String() string {
	return fmt.Sprintf("%dx%d[%s]r%d", p.Width, p.Height, p.PixelFormat, p.Rotate)
}
