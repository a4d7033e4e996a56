package websocket

import "encoding/binary"

// applyMask XORs data in place against the four-byte key, cycling the key
// every four bytes (RFC 6455 Section 5.3):
//
//	transformed-octet-i = original-octet-i XOR masking-key-octet-(i mod 4)
//
// Applying the same key twice restores the original bytes, so this one
// function both masks and unmasks.
//
// The key phase follows the position within data: data[0] is always masked
// with key[0], whatever the slice's offset in its backing array. The bulk of
// the buffer is masked four bytes at a time as a machine word loaded through
// encoding/binary (which has no alignment requirement), and any trailing
// remainder is masked one byte at a time. Per spec.md's Design Notes, this
// trades the original implementation's raw (and alignment-unsafe) word
// reads for a portable version that is correct for any buffer alignment.
func applyMask(data []byte, key [4]byte) {
	if len(data) == 0 {
		return
	}

	keyWord := binary.LittleEndian.Uint32(key[:])

	i := 0
	// Head: mask byte-wise until data[i:] starts aligned with the start of
	// a fresh 4-byte mask cycle. i starts at 0, which already begins a
	// cycle, so this loop does not run.
	for ; i < len(data) && i%4 != 0; i++ {
		data[i] ^= key[i%4]
	}

	// Body: mask a full machine word at a time. Each word lines up with the
	// key cycle exactly because i is a multiple of 4 here.
	for ; i+4 <= len(data); i += 4 {
		word := binary.LittleEndian.Uint32(data[i : i+4])
		binary.LittleEndian.PutUint32(data[i:i+4], word^keyWord)
	}

	// Tail: fewer than 4 bytes left.
	for ; i < len(data); i++ {
		data[i] ^= key[i%4]
	}
}
