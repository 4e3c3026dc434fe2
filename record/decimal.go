package record

// Packed decimal layout: 2w nibbles for a w byte column, the last
// nibble carries the sign (0xC positive, 0xD negative), the rest hold
// the digits right aligned with leading zeros. Capacity is therefore
// 2w-1 digits.

const (
	signPositive = 0xC
	signNegative = 0xD
)

func encodeDecimal(dst []byte, column string, n int64) error {
	sign := byte(signPositive)
	u := uint64(n)
	if n < 0 {
		sign = signNegative
		u = uint64(-n)
	}

	digits := len(dst)*2 - 1
	nibbles := make([]byte, digits)
	for i := digits - 1; i >= 0; i-- {
		nibbles[i] = byte(u % 10)
		u /= 10
	}
	if u != 0 {
		return encErrf(column, "%d exceeds %d digits", n, digits)
	}

	for i := range dst {
		hi := nibbles[i*2]
		var lo byte
		if i == len(dst)-1 {
			lo = sign
		} else {
			lo = nibbles[i*2+1]
		}
		dst[i] = hi<<4 | lo
	}
	return nil
}

func decodeDecimal(src []byte, column string) (int64, error) {
	var n int64
	digits := len(src)*2 - 1
	for i := 0; i < digits; i++ {
		var d byte
		if i%2 == 0 {
			d = src[i/2] >> 4
		} else {
			d = src[i/2] & 0x0F
		}
		if d > 9 {
			return 0, encErrf(column, "invalid digit nibble %x", d)
		}
		n = n*10 + int64(d)
	}

	switch src[len(src)-1] & 0x0F {
	case signNegative, 0xB:
		return -n, nil
	default:
		return n, nil
	}
}
