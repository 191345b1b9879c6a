package util

import (
	"crypto/rand"
	"encoding/binary"
)

// tokenAlphabet holds characters allowed in SIP tokens that need no quoting anywhere.
const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandToken returns a random lowercase alphanumeric token of length n
// suitable for tags and branch suffixes.
func RandToken(n int) string {
	var seed [8]byte
	out := make([]byte, n)
	for i := 0; i < n; {
		rand.Read(seed[:]) //nolint:errcheck // crypto/rand.Read never fails since go1.24
		v := binary.LittleEndian.Uint64(seed[:])
		// 12 base-36 digits fit into 62 bits without bias worth caring about
		for j := 0; j < 12 && i < n; j++ {
			out[i] = tokenAlphabet[v%uint64(len(tokenAlphabet))]
			v /= uint64(len(tokenAlphabet))
			i++
		}
	}
	return string(out)
}
