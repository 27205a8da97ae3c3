package framing

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// encodeFrame builds a wire-format length-prefixed frame: a 4-byte
// big-endian length (including itself and the tag), the tag, and payload.
func encodeFrame(tag byte, payload []byte) []byte {
	length := uint32(4 + 1 + len(payload))
	buf := make([]byte, 0, length)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, length)
	buf = append(buf, lenBytes...)
	buf = append(buf, tag)
	buf = append(buf, payload...)
	return buf
}

// TestStitcherFramesArbitraryChunks: for any concatenation of
// well-formed frames split into arbitrary chunks and delivered in order,
// the stitcher emits exactly those frames in order, and the queue is
// empty iff input ended on a frame boundary.
func TestStitcherFramesArbitraryChunks(t *testing.T) {
	var all []byte
	all = append(all, encodeFrame(10, []byte("tick"))...)
	all = append(all, encodeFrame(62, []byte{0, 0, 0, 1})...)
	all = append(all, encodeFrame(44, []byte("hello world"))...)

	// Split into small, uneven chunks to exercise arbitrary fragmentation.
	var frames []StitchedFrame
	chunkSizes := []int{1, 3, 7, 2, 50, 1000}
	i := 0
	s := NewStitcher()
	for _, sz := range chunkSizes {
		if i >= len(all) {
			break
		}
		end := i + sz
		if end > len(all) {
			end = len(all)
		}
		frames = append(frames, s.Insert(all[i:end], nil)...)
		i = end
	}
	if i < len(all) {
		frames = append(frames, s.Insert(all[i:], nil)...)
	}

	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	wantTags := []byte{10, 62, 44}
	for idx, f := range frames {
		if f.Tag != wantTags[idx] {
			t.Fatalf("frame %d tag = %d, want %d", idx, f.Tag, wantTags[idx])
		}
	}
	if !bytes.Equal(frames[2].Payload.Bytes(), []byte("hello world")) {
		t.Fatalf("frame 2 payload = %q, want %q", frames[2].Payload.Bytes(), "hello world")
	}
	if len(s.queue) != 0 {
		t.Fatalf("queue not empty after frame-aligned input: %d bytes left", len(s.queue))
	}
}

func TestStitcherPartialFrameLeavesQueueNonEmpty(t *testing.T) {
	frame := encodeFrame(1, []byte("payload"))
	s := NewStitcher()
	out := s.Insert(frame[:len(frame)-2], nil)
	if len(out) != 0 {
		t.Fatalf("got %d frames from a truncated input, want 0", len(out))
	}
	if len(s.queue) == 0 {
		t.Fatalf("queue empty after partial frame, want pending bytes")
	}
}

func TestStitcherMalformedFrameDropped(t *testing.T) {
	// A frame whose declared length is exactly 4 -- the length prefix
	// and nothing else -- has no room for a tag byte, so it is
	// malformed (declared length < 5) and must be dropped, not stall
	// the stitcher waiting for bytes that will never come.
	malformed := make([]byte, 4)
	binary.BigEndian.PutUint32(malformed, 4)

	var all []byte
	all = append(all, malformed...)
	all = append(all, encodeFrame(20, []byte("ok"))...)

	var reported error
	s := NewStitcher()
	out := s.Insert(all, func(err error) { reported = err })

	if reported == nil {
		t.Fatalf("expected onMalformed callback to fire")
	}
	if len(out) != 1 || out[0].Tag != 20 {
		t.Fatalf("got %v, want exactly one frame tagged 20", out)
	}
}

// TestStitcherZeroLengthFrameMakesProgress guards against a declared
// length of 0 (or any value under 4) stalling Insert forever: dropping
// "that byte range" must still shrink the queue by at least the 4-byte
// prefix that announced it.
func TestStitcherZeroLengthFrameMakesProgress(t *testing.T) {
	zero := make([]byte, 4)
	binary.BigEndian.PutUint32(zero, 0)

	var all []byte
	all = append(all, zero...)
	all = append(all, encodeFrame(20, []byte("ok"))...)

	var reported error
	s := NewStitcher()
	out := s.Insert(all, func(err error) { reported = err })

	if reported == nil {
		t.Fatalf("expected onMalformed callback to fire")
	}
	if len(out) != 1 || out[0].Tag != 20 {
		t.Fatalf("got %v, want exactly one frame tagged 20", out)
	}
	if len(s.queue) != 0 {
		t.Fatalf("queue not empty after fully-consumed input: %d bytes left", len(s.queue))
	}
}
