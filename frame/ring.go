package frame

// Ring is a bounded arena-backed ring of images: slot 0 is the current
// image, slot n is the image n logical frames ahead (the lookahead
// window a pipelining driver may inspect).
//
// Capacity is fixed at construction; the zero Ring is not usable.
type Ring struct {
	slots  []Image
	start  int
	length int
}

// DefaultLookahead is the default ring capacity (current image plus up
// to 9 future images).
const DefaultLookahead = 10

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		slots: make([]Image, capacity),
	}
}

func (r *Ring) Len() int {
	return r.length
}

func (r *Ring) Cap() int {
	return len(r.slots)
}

// At returns the image in the given slot; slot 0 is the current image.
// It returns nil if the slot is beyond the filled window.
func (r *Ring) At(i int) Image {
	if i < 0 || i >= r.length {
		return nil
	}
	return r.slots[(r.start+i)%len(r.slots)]
}

// Push appends a future image to the window. It reports false (and keeps
// the ring unchanged) when the ring is full.
func (r *Ring) Push(img Image) bool {
	if r.length >= len(r.slots) {
		return false
	}
	r.slots[(r.start+r.length)%len(r.slots)] = img
	r.length++
	return true
}

// Advance pops and returns slot 0; slot 1 becomes the current image.
func (r *Ring) Advance() Image {
	if r.length == 0 {
		return nil
	}
	img := r.slots[r.start]
	r.slots[r.start] = nil
	r.start = (r.start + 1) % len(r.slots)
	r.length--
	return img
}

// Clear drops all slots. Slots beyond 0 are non-owning peeks at future
// frames, so clearing never releases images; each image is released once
// by whoever owns the frame it is current in.
func (r *Ring) Clear() {
	for r.length > 0 {
		r.Advance()
	}
	r.start = 0
}

// Clone returns a ring sharing the same image references.
func (r *Ring) Clone() *Ring {
	c := NewRing(len(r.slots))
	for i := 0; i < r.length; i++ {
		c.Push(r.At(i))
	}
	return c
}
