package framing

// NewTickTag is the distinguished stitched-frame tag that terminates a
// tick frame.
const NewTickTag = 10

// TickFrame is a run of encrypted stitched frames (Prefix), terminated by
// a distinguished stitched frame whose tag is NewTickTag.
type TickFrame struct {
	Prefix      []StitchedFrame
	Terminating StitchedFrame
}

// PrefixLen returns the total size in bytes of all prefix frame payloads,
// not including the terminating tick. The decryptor's fast path skips the
// cipher forward by exactly this many bytes.
func (t TickFrame) PrefixLen() int {
	n := 0
	for _, f := range t.Prefix {
		n += f.Payload.Len()
	}
	return n
}

// TickFrameConstructor accumulates stitched frames in arrival order and
// groups them into tick frames whenever a NewTick-tagged frame arrives.
type TickFrameConstructor struct {
	prefix []StitchedFrame
}

// NewTickFrameConstructor returns an empty TickFrameConstructor.
func NewTickFrameConstructor() *TickFrameConstructor {
	return &TickFrameConstructor{}
}

// Insert appends frame to the pending prefix. If frame is tagged
// NewTickTag, it instead atomically detaches the pending prefix, emits a
// TickFrame combining it with frame, and clears the prefix. At most one
// TickFrame is produced per call, reported via the bool return.
func (c *TickFrameConstructor) Insert(frame StitchedFrame) (TickFrame, bool) {
	if frame.Tag != NewTickTag {
		c.prefix = append(c.prefix, frame)
		return TickFrame{}, false
	}

	tick := TickFrame{Prefix: c.prefix, Terminating: frame}
	c.prefix = nil
	return tick, true
}

// Reset discards any un-emitted prefix.
func (c *TickFrameConstructor) Reset() {
	c.prefix = nil
}
