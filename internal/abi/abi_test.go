package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackPtrLen(t *testing.T) {
	tests := []struct {
		name   string
		ptr    uint32
		length uint32
		want   uint64
	}{
		{
			name:   "typical values",
			ptr:    0x12345678,
			length: 0xABCDEF00,
			want:   (uint64(0x12345678) << PtrHighBits) | uint64(0xABCDEF00),
		},
		{
			name:   "zero pointer zero length",
			ptr:    0,
			length: 0,
			want:   0,
		},
		{
			name:   "max pointer",
			ptr:    0xFFFFFFFF,
			length: 1,
			want:   (uint64(0xFFFFFFFF) << PtrHighBits) | 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := PackPtrLen(tt.ptr, tt.length)
			assert.Equal(t, tt.want, packed, "packed value mismatch")

			gotPtr, gotLen := UnpackPtrLen(packed)
			assert.Equal(t, tt.ptr, gotPtr, "unpacked pointer mismatch")
			assert.Equal(t, tt.length, gotLen, "unpacked length mismatch")
		})
	}
}

func TestPackPtrLen_PanicsOnNullPointerWithLength(t *testing.T) {
	assert.Panics(t, func() {
		PackPtrLen(0, 100)
	}, "expected panic for null pointer with non-zero length")
}

func TestUnpackPtrLen_PanicsOnInvalidPacked(t *testing.T) {
	assert.Panics(t, func() {
		// ptr=0, len=1
		UnpackPtrLen(uint64(1))
	}, "expected panic for invalid packed value")
}

func TestFreeStatusText(t *testing.T) {
	assert.Equal(t, "ok", FreeStatusText(FreeOK))
	assert.Equal(t, "unknown", FreeStatusText(FreeUnknown))
	assert.Equal(t, "size_mismatch", FreeStatusText(FreeSizeMismatch))
	assert.Equal(t, "status_9", FreeStatusText(9))
}

func BenchmarkPackUnpackRoundtrip(b *testing.B) {
	ptr := uint32(0x12345678)
	length := uint32(256)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		packed := PackPtrLen(ptr, length)
		p, l := UnpackPtrLen(packed)
		_, _ = p, l
	}
}
