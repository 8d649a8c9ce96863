package graph

import "math/bits"

// Bitset is a fixed-size set of flags packed into 64-bit words.
type Bitset []uint64

// NewBitset returns a bitset of n flags, all set to val.
func NewBitset(n int, val bool) Bitset {
	b := make(Bitset, (n+63)/64)
	if val {
		for i := range b {
			b[i] = ^uint64(0)
		}
		if rem := n % 64; rem != 0 {
			b[len(b)-1] = (uint64(1) << rem) - 1
		}
	}
	return b
}

func (b Bitset) Get(i int) bool { return b[i>>6]&(1<<(uint(i)&63)) != 0 }

func (b Bitset) Set(i int) { b[i>>6] |= 1 << (uint(i) & 63) }

func (b Bitset) Clear(i int) { b[i>>6] &^= 1 << (uint(i) & 63) }

// Count returns the number of set flags.
func (b Bitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b Bitset) Clone() Bitset {
	return append(Bitset(nil), b...)
}
