package reactor

// BufSize is the per-direction staging buffer size (§3, RW_BUFSIZE in
// the original).
const BufSize = 512

// NoPeer marks a slot with no paired descriptor (the listener and the
// control-channel FIFO are never paired).
const NoPeer = -1

// HandlerFunc is called by the reactor when fd becomes ready in the
// direction it was registered for. The reactor passes fd explicitly
// instead of binding the function to a receiver, per the redesign note
// in spec.md §9: the handler closes over whatever receiver it needs.
type HandlerFunc func(fd int)

// Slot is the per-descriptor state the reactor tracks: its handlers, its
// paired peer (if any), and the 512-byte staging buffer used by the
// forwarding discipline (§3).
//
// Invariant: ReadFn != nil iff fd is in the read-interest set, and
// likewise for WriteFn/write-interest. Reset clears a slot in place
// (no handlers, Peer set to NoPeer, empty buffer) so a reused
// descriptor starts clean.
type Slot struct {
	ReadFn  HandlerFunc
	WriteFn HandlerFunc
	Peer    int
	Buf     [BufSize]byte
	Len     int
}

// Reset clears a slot in place: handlers and buffer are zeroed and Peer
// becomes NoPeer. The abstract requirement from the
// original (an in-place reconstruction of a C++ object) is satisfied
// here with an explicit method rather than pointer tricks.
func (s *Slot) Reset() {
	*s = Slot{Peer: NoPeer}
}

func newSlot(peer int) *Slot {
	return &Slot{Peer: peer}
}
