package bytebuffer

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadNRoundTrip(t *testing.T) {
	data := []byte("hello, world")
	b := New(data)
	if got := b.Bytes(); !bytes.Equal(got, data) {
		t.Fatalf("Bytes() = %v, want %v", got, data)
	}

	got, err := b.ReadN(5)
	if err != nil {
		t.Fatalf("ReadN: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("ReadN = %q, want %q", got, "hello")
	}

	peeked, err := b.PeekN(2)
	if err != nil {
		t.Fatalf("PeekN: %v", err)
	}
	if string(peeked) != ", " {
		t.Fatalf("PeekN = %q, want %q", peeked, ", ")
	}
	// PeekN must not advance the cursor.
	again, err := b.PeekN(2)
	if err != nil || string(again) != ", " {
		t.Fatalf("second PeekN = %q, %v; want unchanged", again, err)
	}
}

func TestShortReadLeavesCursorUnchanged(t *testing.T) {
	b := New([]byte{1, 2, 3})
	if _, err := b.ReadN(3); err != nil {
		t.Fatalf("ReadN(3): %v", err)
	}
	before := b.Remaining()
	if _, err := b.ReadN(1); !errors.Is(err, ErrShortRead) {
		t.Fatalf("ReadN past end: err = %v, want ErrShortRead", err)
	}
	if b.Remaining() != before {
		t.Fatalf("cursor moved on short read: remaining %d, want %d", b.Remaining(), before)
	}
}

func TestScalarReads(t *testing.T) {
	b := New([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x3f, 0x80, 0x00, 0x00})
	u16, err := b.ReadU16()
	if err != nil || u16 != 1 {
		t.Fatalf("ReadU16 = %d, %v; want 1, nil", u16, err)
	}
	u32, err := b.ReadU32()
	if err != nil || u32 != 2 {
		t.Fatalf("ReadU32 = %d, %v; want 2, nil", u32, err)
	}
	f32, err := b.ReadF32()
	if err != nil || f32 != 1.0 {
		t.Fatalf("ReadF32 = %v, %v; want 1.0, nil", f32, err)
	}
}

// TestBoolNonZeroConvention: any non-zero byte is true, matching
// observed traffic, not the strict 0x01-only convention used by some
// sibling tooling in the wider ecosystem.
func TestBoolNonZeroConvention(t *testing.T) {
	b := New([]byte{0x00, 0x01, 0x7f, 0xff})
	for _, want := range []bool{false, true, true, true} {
		got, err := b.ReadBool()
		if err != nil {
			t.Fatalf("ReadBool: %v", err)
		}
		if got != want {
			t.Fatalf("ReadBool = %v, want %v", got, want)
		}
	}
}

func TestReadString(t *testing.T) {
	var raw []byte
	raw = append(raw, 0x00, 0x05) // length prefix
	raw = append(raw, "nexus"...)
	b := New(raw)
	s, err := b.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if s != "nexus" {
		t.Fatalf("ReadString = %q, want %q", s, "nexus")
	}
	if b.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", b.Remaining())
	}
}

func TestReadStringInvalidUTF8(t *testing.T) {
	raw := []byte{0x00, 0x02, 0xff, 0xfe}
	b := New(raw)
	if _, err := b.ReadString(); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("ReadString: err = %v, want ErrInvalidUTF8", err)
	}
}

// TestVarintRoundTrip: for any representable signed integer, encode then
// decode yields the same value, exercised at the septet boundary cases.
func TestVarintRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -63, 64, -64, 8191, -8191, 8192, -8192,
		1 << 32, -(1 << 32), (1 << 62), -(1 << 62)}
	for _, v := range cases {
		enc := WriteVarint(v)
		b := New(enc)
		got, err := b.ReadVarint()
		if err != nil {
			t.Fatalf("ReadVarint(%d encoded as %x): %v", v, enc, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %x -> %d", v, enc, got)
		}
		if b.Remaining() != 0 {
			t.Fatalf("varint %d left %d trailing bytes", v, b.Remaining())
		}
	}
}

// TestVarintBitLayout pins down the exact continuation-byte layout: sign
// in bit 6 of byte 0, six value bits in byte 0, seven value bits per
// subsequent byte, continuation in bit 7, septets assembled
// little-endian. Under that layout 8192 is 0x80 0x80 0x01 and
// 0x80 0x80 0x02 decodes to 16384.
func TestVarintBitLayout(t *testing.T) {
	enc := WriteVarint(8192)
	want := []byte{0x80, 0x80, 0x01}
	if !bytes.Equal(enc, want) {
		t.Fatalf("WriteVarint(8192) = %x, want %x", enc, want)
	}

	b := New([]byte{0x80, 0x80, 0x02})
	got, err := b.ReadVarint()
	if err != nil {
		t.Fatalf("ReadVarint: %v", err)
	}
	if got != 16384 {
		t.Fatalf("ReadVarint(0x80 0x80 0x02) = %d, want 16384", got)
	}
}

func TestReadVarintArray(t *testing.T) {
	var raw []byte
	raw = append(raw, WriteVarint(3)...)
	raw = append(raw, WriteVarint(1)...)
	raw = append(raw, WriteVarint(-2)...)
	raw = append(raw, WriteVarint(300)...)

	b := New(raw)
	got, err := b.ReadVarintArray()
	if err != nil {
		t.Fatalf("ReadVarintArray: %v", err)
	}
	want := []int64{1, -2, 300}
	if len(got) != len(want) {
		t.Fatalf("ReadVarintArray = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ReadVarintArray[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPeekEquivalentToReadThenPeek(t *testing.T) {
	data := []byte("the quick brown fox")
	b1 := New(data)
	n, err := b1.ReadN(3)
	if err != nil {
		t.Fatal(err)
	}
	m, err := b1.PeekN(4)
	if err != nil {
		t.Fatal(err)
	}
	combined := append(append([]byte{}, n...), m...)

	b2 := New(data)
	direct, err := b2.PeekN(7)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(combined, direct) {
		t.Fatalf("read_n(3) then peek_n(4) = %q, want peek_n(7) = %q", combined, direct)
	}
}
