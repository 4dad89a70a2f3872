package compress

import "github.com/pkg/errors"

// LZ4AK is a vendor variant of the LZ4 block format: the two nibbles of each
// sequence token are swapped (literal length in the low nibble) and match
// offsets are stored big-endian. Length extension bytes are unchanged.

// FromLZ4AK rewrites an LZ4AK block into a standard LZ4 block that
// decompresses to size bytes.
func FromLZ4AK(src []byte, size int) ([]byte, error) {
	return swapSequences(src, size, true)
}

// ToLZ4AK rewrites a standard LZ4 block into the LZ4AK layout.
func ToLZ4AK(src []byte) ([]byte, error) {
	return swapSequences(src, -1, false)
}

// swapSequences walks the sequences of src, swapping token nibbles and
// offset byte order. fromAK selects which nibble holds the literal length.
// size < 0 means the end of the block is found from the input length only.
func swapSequences(src []byte, size int, fromAK bool) ([]byte, error) {
	out := append([]byte(nil), src...)
	ip, op := 0, 0
	for ip < len(out) {
		token := out[ip]
		lit, match := int(token>>4), int(token&0xF)
		if fromAK {
			lit, match = match, lit
		}
		out[ip] = token<<4 | token>>4
		ip++

		if lit == 0xF {
			n, next, err := extLength(out, ip)
			if err != nil {
				return nil, err
			}
			lit += n
			ip = next
		}
		ip += lit
		op += lit
		if ip > len(out) {
			return nil, errors.Errorf("lz4ak: literal run overruns input at %d", ip-lit)
		}
		if ip == len(out) || (size >= 0 && op >= size) {
			break
		}

		if ip+2 > len(out) {
			return nil, errors.Errorf("lz4ak: truncated match offset at %d", ip)
		}
		out[ip], out[ip+1] = out[ip+1], out[ip]
		ip += 2

		if match == 0xF {
			n, next, err := extLength(out, ip)
			if err != nil {
				return nil, err
			}
			match += n
			ip = next
		}
		op += match + 4
	}
	return out, nil
}

// extLength reads LZ4 length continuation bytes: each adds up to 255 and a
// byte below 255 ends the run.
func extLength(b []byte, ip int) (int, int, error) {
	n := 0
	for {
		if ip >= len(b) {
			return 0, ip, errors.New("lz4ak: truncated length extension")
		}
		v := b[ip]
		ip++
		n += int(v)
		if v != 0xFF {
			return n, ip, nil
		}
	}
}
