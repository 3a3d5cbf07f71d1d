package chain

import "github.com/holiman/uint256"

// CompactToTarget expands compact difficulty bits into the 256-bit target.
// Returns zero for targets that are negative or overflow 256 bits.
func CompactToTarget(bits uint32) *uint256.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff

	// Sign bit set means a negative target, which no valid header carries
	if bits&0x00800000 != 0 {
		return uint256.NewInt(0)
	}

	target := uint256.NewInt(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, 8*uint(3-exponent))
	} else {
		shift := 8 * uint(exponent-3)
		if shift > 232 {
			// Overflows 256 bits
			return uint256.NewInt(0)
		}
		target.Lsh(target, shift)
	}
	return target
}

// WorkForBits returns the expected number of hashes to find one block at the
// given difficulty: floor(2^256 / (target+1)), computed as
// (~target / (target+1)) + 1 to stay within 256-bit arithmetic.
func WorkForBits(bits uint32) *uint256.Int {
	target := CompactToTarget(bits)
	if target.IsZero() {
		return uint256.NewInt(0)
	}
	num := new(uint256.Int).Not(target)
	den := new(uint256.Int).AddUint64(target, 1)
	num.Div(num, den)
	return num.AddUint64(num, 1)
}
