package guest

import (
	"strings"
	"testing"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/internal/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	const capacity = 64

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "ascii", text: "something2"},
		{name: "multibyte", text: "héllo, 世界 🌍"},
		{name: "exactly capacity", text: strings.Repeat("x", capacity)},
		{name: "newlines", text: "line one\nline two\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArena()
			ptr, err := a.Allocate(capacity)
			require.NoError(t, err)

			n, err := EncodeInto(a, tt.text, ptr)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(tt.text)), n)

			got, err := Decode(a, ptr, n)
			require.NoError(t, err)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestCodec_EncodeOverCapacity(t *testing.T) {
	a := NewArena()
	ptr, err := a.Allocate(4)
	require.NoError(t, err)
	_, err = EncodeInto(a, "abcd", ptr)
	require.NoError(t, err)

	_, err = EncodeInto(a, "abcde", ptr)
	var capErr *domainerrors.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, uint32(4), capErr.Capacity)
	assert.Equal(t, uint64(5), capErr.Requested)

	got, err := Decode(a, ptr, 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", got, "failed encode must not write")
}

func TestCodec_EncodeUnknownPointer(t *testing.T) {
	a := NewArena()
	_, err := EncodeInto(a, "x", 4096)
	var ptrErr *domainerrors.InvalidPointerError
	assert.ErrorAs(t, err, &ptrErr)

	n, err := EncodeInto(a, "", 4096)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCodec_DecodeInvalidUTF8(t *testing.T) {
	a := NewArena()
	ptr, err := a.Allocate(8)
	require.NoError(t, err)
	view, err := a.View(ptr, 5)
	require.NoError(t, err)
	copy(view, []byte{'o', 'k', 0xff, 'x', 'y'})

	_, err = Decode(a, ptr, 5)
	var decErr *domainerrors.DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, 2, decErr.Offset)

	raw, err := DecodeBytes(a, ptr, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{'o', 'k', 0xff, 'x', 'y'}, raw)
}

func TestCodec_DecodeBeyondCapacity(t *testing.T) {
	a := NewArena()
	ptr, err := a.Allocate(8)
	require.NoError(t, err)

	_, err = Decode(a, ptr, 9)
	var capErr *domainerrors.CapacityError
	assert.ErrorAs(t, err, &capErr)
}

func TestCodec_DecodeEmpty(t *testing.T) {
	got, err := Decode(NewArena(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCodec_EncodeNew(t *testing.T) {
	a := NewArena()
	packed, err := EncodeNew(a, []byte("fresh"))
	require.NoError(t, err)

	ptr, length := abi.UnpackPtrLen(packed)
	got, err := Decode(a, ptr, length)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	require.NoError(t, a.Deallocate(ptr, length))

	packed, err = EncodeNew(a, nil)
	require.NoError(t, err)
	assert.Zero(t, packed)
}
