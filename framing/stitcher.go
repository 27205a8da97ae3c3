// Package framing reassembles length-prefixed application-layer frames
// out of arbitrary TCP payload fragments, then groups the result into
// tick frames terminated by a periodic NewTick frame.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yawning/tickcap/bytebuffer"
)

// ErrMalformedFrame describes a length-prefixed frame whose declared
// length is below 5 -- not enough to hold the 4-byte length prefix and a
// tag byte. The byte range is dropped; the stitcher is not aborted.
var ErrMalformedFrame = errors.New("framing: malformed frame length")

// StitchedFrame is one application-layer frame after length-prefix
// reassembly: a one-byte type tag and the payload bytes that followed the
// length prefix and tag in the wire frame, still encrypted.
type StitchedFrame struct {
	Tag     byte
	Payload *bytebuffer.Buffer
}

// Stitcher accumulates raw TCP payload bytes and emits complete,
// length-prefixed frames as they become available. It is stateless
// modulo its internal queue.
type Stitcher struct {
	queue []byte
}

// NewStitcher returns an empty Stitcher.
func NewStitcher() *Stitcher {
	return &Stitcher{}
}

// Insert appends data to the queue and extracts every complete frame it
// now holds. A frame's declared length includes the 4-byte length prefix
// itself; the tag is the first byte after the prefix and the payload is
// everything after the tag. A declared length below 5 is malformed: the
// byte range is dropped and reported via onMalformed (which may be nil)
// rather than stalling or aborting the stream.
func (s *Stitcher) Insert(data []byte, onMalformed func(err error)) []StitchedFrame {
	s.queue = append(s.queue, data...)

	var out []StitchedFrame
	consumed := 0
	for {
		remaining := s.queue[consumed:]
		if len(remaining) < 4 {
			break
		}
		length := int(binary.BigEndian.Uint32(remaining[:4]))
		if length < 0 || len(remaining) < length {
			break
		}

		if length < 5 {
			if onMalformed != nil {
				onMalformed(fmt.Errorf("%w: declared length %d", ErrMalformedFrame, length))
			}
			// A declared length under 5 cannot hold a tag byte, and a
			// length under 4 doesn't even cover its own prefix: drop at
			// least the 4-byte prefix we just read so the queue always
			// shrinks, even for a malformed length of 0.
			drop := length
			if drop < 4 {
				drop = 4
			}
			consumed += drop
			continue
		}

		frame := remaining[:length]
		consumed += length
		payload := append([]byte(nil), frame[5:]...)
		out = append(out, StitchedFrame{
			Tag:     frame[4],
			Payload: bytebuffer.New(payload),
		})
	}

	s.queue = append([]byte(nil), s.queue[consumed:]...)
	return out
}

// Reset empties the queue.
func (s *Stitcher) Reset() {
	s.queue = nil
}
