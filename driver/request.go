package driver

import (
	"fmt"
)

// Request is a typed control code passed through Control. The data
// argument's type is documented per request.
type Request int

const (
	// RequestReset signals a device reset (seek).
	RequestReset Request = iota + 1
	// RequestPause signals a playback pause.
	RequestPause
	// RequestResume signals a playback start/resume.
	RequestResume
	// RequestRedrawFrame asks to repeat the previous draw. Optional;
	// emulated by the engine if unhandled.
	RequestRedrawFrame
	// RequestCheckEvents asks the driver to process pending backend
	// events.
	RequestCheckEvents
	// RequestUpdateRenderOpts tells the driver rendering options changed.
	RequestUpdateRenderOpts
	// RequestScreenshot asks for the window contents; data:
	// *frame.Image.
	RequestScreenshot
	// RequestGetDisplayFPS asks for the display's advertised refresh
	// rate; data: *float64.
	RequestGetDisplayFPS
	// RequestGetICCProfile asks for the current ICC profile blob; data:
	// *[]byte.
	RequestGetICCProfile
	// RequestGetAmbientLux asks for the ambient light level; data: *int.
	RequestGetAmbientLux
)

func (r Request) String() string {
	switch r {
	case RequestReset:
		return "reset"
	case RequestPause:
		return "pause"
	case RequestResume:
		return "resume"
	case RequestRedrawFrame:
		return "redraw_frame"
	case RequestCheckEvents:
		return "check_events"
	case RequestUpdateRenderOpts:
		return "update_render_opts"
	case RequestScreenshot:
		return "screenshot"
	case RequestGetDisplayFPS:
		return "get_display_fps"
	case RequestGetICCProfile:
		return "get_icc_profile"
	case RequestGetAmbientLux:
		return "get_ambient_lux"
	}
	return fmt.Sprintf("unknown_request_%d", int(r))
}
