package trie

// Hex-prefix (HP) encoding as specified in the Ethereum Yellow Paper, Appendix C.
//
// Nibble sequences are encoded with a prefix that encodes both the parity of
// the sequence length and a "terminator" flag that distinguishes leaf nodes
// from extension nodes.
//
// Hex nibble representation uses values 0x0-0xf for data nibbles and 0x10
// (the terminator) to mark the end of a leaf key.

const terminatorByte = 16

// compactToHex converts compact (hex-prefix) encoded bytes back to the
// hex nibble sequence. If the compact encoding represents a leaf, the
// returned nibble sequence includes the terminator. The second result is
// false when the flag nibble is not a valid HP prefix.
func compactToHex(compact []byte) ([]byte, bool) {
	if len(compact) == 0 {
		return nil, false
	}
	flags := compact[0] >> 4
	if flags > 3 {
		return nil, false
	}
	// Even-length keys carry a zero padding nibble.
	if flags&1 == 0 && compact[0]&0x0f != 0 {
		return nil, false
	}
	base := keybytesToHex(compact)
	base = base[:len(base)-1]
	chop := 2 - int(flags&1)
	out := make([]byte, 0, len(base)-chop+1)
	out = append(out, base[chop:]...)
	if flags&2 != 0 {
		out = append(out, terminatorByte)
	}
	return out, true
}

// keybytesToHex converts a raw byte key to a hex nibble sequence, appending
// a terminator nibble (0x10) at the end.
func keybytesToHex(str []byte) []byte {
	l := len(str)*2 + 1
	nibbles := make([]byte, l)
	for i, b := range str {
		nibbles[i*2] = b / 16
		nibbles[i*2+1] = b % 16
	}
	nibbles[l-1] = terminatorByte
	return nibbles
}

// hasTerm returns true if the hex nibble sequence ends with the terminator.
func hasTerm(s []byte) bool {
	return len(s) > 0 && s[len(s)-1] == terminatorByte
}

// hasPrefix reports whether key starts with prefix.
func hasPrefix(key, prefix []byte) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
