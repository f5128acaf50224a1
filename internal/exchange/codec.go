package exchange

import "bytes"

// Placeholder is returned for a signaled result whose content is empty.
const Placeholder = "-"

// Encode lays answer out in a buffer of the given capacity: at most
// capacity-1 bytes of text, a NUL terminator, then zero fill. Bytes outside
// printable ASCII are replaced with '?'.
func Encode(answer string, capacity int) []byte {
	if capacity <= 0 {
		return nil
	}
	buf := make([]byte, capacity)
	n := min(len(answer), capacity-1)
	for i := 0; i < n; i++ {
		buf[i] = asciiOrMark(answer[i])
	}
	return buf
}

// Decode reads text up to the first NUL. A buffer that starts with NUL, or is
// empty, decodes to Placeholder; one with no NUL is taken whole.
func Decode(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if len(buf) == 0 {
		return Placeholder
	}
	out := make([]byte, len(buf))
	for i, c := range buf {
		out[i] = asciiOrMark(c)
	}
	return string(out)
}

func asciiOrMark(c byte) byte {
	if c < 0x20 || c > 0x7e {
		return '?'
	}
	return c
}
