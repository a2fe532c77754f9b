package transfer

// Checksum is the 32-bit additive byte sum declared in FILE_END.
// It wraps on overflow and catches truncation, not tampering.
func Checksum(chunks [][]byte) uint32 {
	var sum uint32
	for _, chunk := range chunks {
		for _, b := range chunk {
			sum += uint32(b)
		}
	}
	return sum
}

// bitset tracks which chunk indexes have arrived
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i int) {
	b[i/64] |= 1 << (uint(i) % 64)
}

func (b bitset) has(i int) bool {
	return b[i/64]&(1<<(uint(i)%64)) != 0
}
