package websocket

import "testing"

// TestApplyMask_Involution covers spec.md §8 invariant 2: masking twice
// with the same key is the identity transform, for payload lengths that
// exercise every alignment applyMask's word-at-a-time loop can hit.
func TestApplyMask_Involution(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}

	for size := 0; size < 16; size++ {
		original := make([]byte, size)
		for i := range original {
			original[i] = byte(i * 7)
		}

		got := make([]byte, size)
		copy(got, original)
		applyMask(got, key)
		applyMask(got, key)

		for i := range original {
			if got[i] != original[i] {
				t.Fatalf("size %d: byte %d = 0x%X, want 0x%X (mask not involutive)", size, i, got[i], original[i])
			}
		}
	}
}

// TestApplyMask_KnownVector cross-checks applyMask against the byte-wise
// reference definition in RFC 6455 Section 5.3:
//
//	transformed-octet[i] = original-octet[i] XOR masking-key-octet[i MOD 4]
func TestApplyMask_KnownVector(t *testing.T) {
	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	data := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	want := make([]byte, len(data))
	for i, b := range data {
		want[i] = b ^ key[i%4]
	}

	got := make([]byte, len(data))
	copy(got, data)
	applyMask(got, key)

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = 0x%X, want 0x%X", i, got[i], want[i])
		}
	}
}

// TestApplyMask_Unaligned verifies masking a slice carved out of a larger
// buffer at a non-word-aligned offset still follows the RFC's
// position-based key rotation, which the original source's raw-word
// optimization got wrong (see spec.md §9 Design Notes).
func TestApplyMask_Unaligned(t *testing.T) {
	key := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	backing := make([]byte, 20)
	for i := range backing {
		backing[i] = byte(i)
	}

	// Slice starting at offset 3, so sub[0] is not word-aligned in the
	// backing array; the key phase at sub[0] is still key[0].
	sub := backing[3:13]
	want := make([]byte, len(sub))
	for i, b := range sub {
		want[i] = b ^ key[i%4]
	}

	applyMask(sub, key)

	for i := range want {
		if sub[i] != want[i] {
			t.Errorf("byte %d = 0x%X, want 0x%X", i, sub[i], want[i])
		}
	}
}
