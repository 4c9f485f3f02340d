package renderctx

import (
	"fmt"

	"github.com/xaionaro-go/videoout/types"
)

// ParamType selects what a Param carries. The zero value is an explicit
// "not set" sentinel so that a slice of params can be scanned without
// extra bookkeeping.
type ParamType int

const (
	ParamInvalid ParamType = iota

	// ParamAPIType (string) selects the rendering backend; required at
	// construction.
	ParamAPIType

	// ParamAdvancedControl (bool) makes the embedder promise to drive
	// Update promptly; in exchange the engine's anti-deadlock timeout is
	// waived.
	ParamAdvancedControl

	// ParamFlipY (bool) flips the output vertically.
	ParamFlipY

	// ParamICCProfile ([]byte) provides the display's ICC profile.
	ParamICCProfile

	// ParamAmbientLight (int) provides the ambient illuminance in lux.
	ParamAmbientLight

	// ParamBlockForTargetTime (bool) controls whether Render blocks until
	// the frame's target time; enabled by default.
	ParamBlockForTargetTime

	// ParamSkipRendering (bool) makes Render consume the pending frame
	// without drawing anything; timed identically to a real render.
	ParamSkipRendering

	// ParamSoftwareTarget (*SoftwareTarget) is the destination buffer of
	// the built-in software backend; required per Render call.
	ParamSoftwareTarget
)

func (t ParamType) String() string {
	switch t {
	case ParamInvalid:
		return "invalid"
	case ParamAPIType:
		return "api_type"
	case ParamAdvancedControl:
		return "advanced_control"
	case ParamFlipY:
		return "flip_y"
	case ParamICCProfile:
		return "icc_profile"
	case ParamAmbientLight:
		return "ambient_light"
	case ParamBlockForTargetTime:
		return "block_for_target_time"
	case ParamSkipRendering:
		return "skip_rendering"
	case ParamSoftwareTarget:
		return "software_target"
	}
	return fmt.Sprintf("unknown_param_%d", int(t))
}

// Param is one typed parameter of a construction, SetParameter or Render
// call.
type Param struct {
	Type ParamType
	Data any
}

// SoftwareTarget is where the built-in software backend draws: a packed
// 32bpp buffer owned by the embedder.
type SoftwareTarget struct {
	Width  int
	Height int
	Stride int
	Pixels []byte
}

func paramString(p Param) (string, error) {
	s, ok := p.Data.(string)
	if !ok {
		return "", types.ErrInvalidParameter{
			Param: p.Type.String(),
			Err:   fmt.Errorf("expected a string, got %T", p.Data),
		}
	}
	return s, nil
}

func paramBool(p Param) (bool, error) {
	switch v := p.Data.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	}
	return false, types.ErrInvalidParameter{
		Param: p.Type.String(),
		Err:   fmt.Errorf("expected a bool, got %T", p.Data),
	}
}

func paramInt(p Param) (int, error) {
	v, ok := p.Data.(int)
	if !ok {
		return 0, types.ErrInvalidParameter{
			Param: p.Type.String(),
			Err:   fmt.Errorf("expected an int, got %T", p.Data),
		}
	}
	return v, nil
}

func paramBytes(p Param) ([]byte, error) {
	v, ok := p.Data.([]byte)
	if !ok {
		return nil, types.ErrInvalidParameter{
			Param: p.Type.String(),
			Err:   fmt.Errorf("expected a byte slice, got %T", p.Data),
		}
	}
	return v, nil
}
