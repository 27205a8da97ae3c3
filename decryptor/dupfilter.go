package decryptor

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"github.com/yawning/tickcap/csrand"
)

// maxDigestCacheSize bounds the full-ciphertext duplicate cache. Tick
// frames arrive roughly once per server tick (commonly a few hundred
// milliseconds); at 200 ms per tick this many entries covers roughly a
// quarter of an hour of history.
const maxDigestCacheSize = 4096

// digestCache remembers the SipHash-2-4 digest of every terminating tick
// ciphertext it has seen, so the decryptor can flag a duplicate even when
// it is not adjacent to the previous-tick record (the 4-byte comparison
// against that record only catches back-to-back repeats). Collisions
// are treated as matches; the probability is negligible.
type digestCache struct {
	mu         sync.Mutex
	key0, key1 uint64
	seen       map[uint64]*list.Element
	fifo       *list.List
}

func newDigestCache() (*digestCache, error) {
	var key [16]byte
	if err := csrand.Bytes(key[:]); err != nil {
		return nil, err
	}
	return &digestCache{
		key0: binary.BigEndian.Uint64(key[0:8]),
		key1: binary.BigEndian.Uint64(key[8:16]),
		seen: make(map[uint64]*list.Element),
		fifo: list.New(),
	}, nil
}

// seenBefore reports whether buf's digest has been recorded already, and
// records it if not.
func (c *digestCache) seenBefore(buf []byte) bool {
	h := siphash.Hash(c.key0, c.key1, buf)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[h]; ok {
		return true
	}

	if c.fifo.Len() >= maxDigestCacheSize {
		oldest := c.fifo.Front()
		c.fifo.Remove(oldest)
		delete(c.seen, oldest.Value.(uint64))
	}

	elem := c.fifo.PushBack(h)
	c.seen[h] = elem
	return false
}

// reset purges the entire cache; called alongside the cipher on a
// factory-level reset.
func (c *digestCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[uint64]*list.Element)
	c.fifo = list.New()
}
