//go:build wasip1

package guest

import (
	"testing"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_AllocateDeallocate(t *testing.T) {
	h := NewHeap(0)

	ptr, err := h.Allocate(1024)
	require.NoError(t, err)
	require.NotZero(t, ptr)

	count, total := h.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, uint64(1024), total)

	n, err := EncodeInto(h, "hello world", ptr)
	require.NoError(t, err)
	s, err := Decode(h, ptr, n)
	require.NoError(t, err)
	assert.Equal(t, "hello world", s)

	require.NoError(t, h.Deallocate(ptr, 1024))

	var freeErr *domainerrors.InvalidFreeError
	assert.ErrorAs(t, h.Deallocate(ptr, 1024), &freeErr)
}

func TestHeap_Limit(t *testing.T) {
	h := NewHeap(1024)

	ptr, err := h.Allocate(512)
	require.NoError(t, err)

	_, err = h.Allocate(1024)
	var oom *domainerrors.OutOfMemoryError
	assert.ErrorAs(t, err, &oom)

	require.NoError(t, h.Deallocate(ptr, 512))
	count, _ := h.Stats()
	assert.Zero(t, count)
}
