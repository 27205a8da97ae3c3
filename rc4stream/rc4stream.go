// Package rc4stream implements a stateful RC4 keystream generator with the
// operations the decryptor needs that the standard library's crypto/rc4
// does not expose: forward skip without emitting output, a read-only
// keystream peek (clone-and-advance without mutating the original), reset
// to the post-key-scheduling state, reverse-to-offset, and the cold-path
// cipher-alignment search.
//
// crypto/rc4.Cipher only exposes XORKeyStream, which cannot be un-advanced,
// cloned, or inspected without consuming output -- exactly the operations
// a passive observer needs to recover from capture loss. That is why the
// generator is hand-rolled here rather than pulled from a library.
package rc4stream

import "errors"

// ErrReverseUnderflow is returned by Reverse when asked to rewind further
// than the cipher has advanced since the last Reset. This indicates a
// programmer error in the caller's bookkeeping and should be treated as
// fatal.
var ErrReverseUnderflow = errors.New("rc4stream: reverse underflow")

// ErrNotFound is returned by AlignToTick when the search budget is
// exhausted without finding a matching keystream window.
var ErrNotFound = errors.New("rc4stream: alignment window not found")

// Cipher is an RC4 keystream generator plus the bookkeeping needed to
// rewind, clone, and realign it.
type Cipher struct {
	key       []byte
	state     [256]byte
	initState [256]byte
	i, j      int
	offset    uint64
}

// New runs the standard RC4 key-scheduling algorithm over key and returns a
// Cipher positioned at offset 0.
func New(key []byte) *Cipher {
	if len(key) == 0 {
		panic("rc4stream: empty key")
	}

	c := &Cipher{key: append([]byte(nil), key...)}
	for i := 0; i < 256; i++ {
		c.state[i] = byte(i)
	}

	j := 0
	for i := 0; i < 256; i++ {
		j = (j + int(c.state[i]) + int(key[i%len(key)])) & 0xff
		c.state[i], c.state[j] = c.state[j], c.state[i]
	}
	c.initState = c.state
	return c
}

// Clone returns an independent copy of the cipher at its current position.
// The permutation is a plain 256-byte array, so this is a cheap value copy,
// not a handle to shared storage.
func (c *Cipher) Clone() *Cipher {
	clone := *c
	return &clone
}

// Offset returns the number of keystream bytes emitted (via Skip or Apply)
// since the last Reset.
func (c *Cipher) Offset() uint64 {
	return c.offset
}

// step performs one RC4 PRGA round (the i/j update and permutation swap)
// and returns the keystream byte that round produces. Skip uses this for
// its mutation side effect only; Apply and PeekKeystream use the return
// value too.
func (c *Cipher) step() byte {
	c.i = (c.i + 1) & 0xff
	c.j = (c.j + int(c.state[c.i])) & 0xff
	c.state[c.i], c.state[c.j] = c.state[c.j], c.state[c.i]
	return c.state[(int(c.state[c.i])+int(c.state[c.j]))&0xff]
}

// Skip advances the generator by exactly n bytes, mutating the permutation
// and indices as RC4 prescribes, and increments Offset() by n.
func (c *Cipher) Skip(n int) {
	for k := 0; k < n; k++ {
		c.step()
		c.offset++
	}
}

// Apply returns a new byte sequence equal to input, with bytes at
// positions >= offset XORed against successive keystream bytes; it
// advances the generator accordingly. Bytes before offset are copied
// through unmodified and do not consume keystream.
func (c *Cipher) Apply(offset int, input []byte) []byte {
	out := make([]byte, len(input))
	copy(out, input)
	for i := offset; i < len(input); i++ {
		out[i] ^= c.step()
		c.offset++
	}
	return out
}

// PeekKeystream returns n keystream bytes without mutating the receiver:
// semantically a clone, advance the clone, and discard it.
func (c *Cipher) PeekKeystream(n int) []byte {
	clone := c.Clone()
	out := make([]byte, n)
	for i := range out {
		out[i] = clone.step()
	}
	return out
}

// Reset restores the post-KSA state exactly; Offset() becomes 0.
func (c *Cipher) Reset() {
	c.state = c.initState
	c.i, c.j = 0, 0
	c.offset = 0
}

// Reverse requires n <= Offset(); it is equivalent to Reset() followed by
// Skip(Offset() - n). It returns ErrReverseUnderflow otherwise.
func (c *Cipher) Reverse(n uint64) error {
	if n > c.offset {
		return ErrReverseUnderflow
	}
	target := c.offset - n
	c.Reset()
	c.Skip(int(target))
	return nil
}

// alignCribLen is the number of leading encrypted NewTick payload bytes
// AlignToTick inspects.
const alignCribLen = 7

// AlignToTick is the cold-path keystream search. Given the first seven
// encrypted bytes of a suspected NewTick payload, it finds the smallest
// k >= 0 such that skipping k keystream bytes from the current position
// yields a 7-byte window matching the high-order bytes of tick_id,
// tick_time, and server_current_time, which are assumed small (tick_id
// and server_current_time below 2^16, tick_time below 2^24). Constraining five of the seven
// bytes gives a false-match probability of 2^-40 per candidate window.
// maxBytes bounds the search (see decryptor.Policy; the production
// default is 1e8).
//
// If a server ever ships tick intervals >= 2^24 ms (~4.6 hours), the
// tick_time assumption breaks and alignment silently fails; nothing this
// function can detect or work around.
//
// On success the cipher is left positioned immediately before the
// matching window; the caller applies the keystream to read the actual
// tick fields. On ErrNotFound the cipher is restored to the position the
// search started from (the caller is expected to Reset and retry on the
// next tick frame).
func (c *Cipher) AlignToTick(crib []byte, maxBytes int) error {
	if len(crib) < alignCribLen {
		panic("rc4stream: AlignToTick requires at least 7 crib bytes")
	}

	start := c.offset
	for n := 0; n < maxBytes; n++ {
		w := c.PeekKeystream(alignCribLen)
		if w[0] == crib[0] && w[1] == crib[1] &&
			w[4] == crib[4] && w[5] == crib[5] && w[6] == crib[6] {
			return nil
		}
		c.Skip(1)
	}
	if err := c.Reverse(c.offset - start); err != nil {
		panic("rc4stream: exhausted alignment cannot rewind to its own start")
	}
	return ErrNotFound
}
