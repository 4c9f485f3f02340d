package types

// Event is a bitmask of asynchronous conditions signalled by a display
// driver (or the windowing backend behind it) towards the playback core.
//
// Bits are set from arbitrary threads and drained by the playback core
// with an atomic query-and-reset operation (see videoout.VO.QueryAndResetEvents).
type Event uint32

const (
	// EventExpose: the output needs to be redrawn.
	EventExpose Event = 1 << iota
	// EventResize: the output needs to update state to a new window size.
	EventResize
	// EventICCProfileChanged: the ICC profile needs to be reloaded.
	EventICCProfileChanged
	// EventWinState: some other window state changed (position, fps, ...).
	EventWinState
	// EventAmbientLightingChanged: ambient light conditions changed and
	// need to be reloaded.
	EventAmbientLightingChanged
	// EventFullscreenState: the fullscreen state changed via external
	// influence.
	EventFullscreenState
	// EventInitialUnblock: an initially-blocked driver (encode mode) became
	// ready to accept its first frame. Part of EventsUser so that
	// IsReadyForFrame works properly.
	EventInitialUnblock
)

// EventsUser is the set of events the playback core is usually
// interested in.
const EventsUser = EventResize | EventWinState | EventFullscreenState |
	EventInitialUnblock

// Has reports whether all bits of `mask` are set.
func (e Event) Has(mask Event) bool {
	return e&mask == mask
}
