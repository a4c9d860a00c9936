package guesttest

import (
	"context"
	"testing"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule_Call(t *testing.T) {
	ctx := context.Background()
	m, err := New(WithName("t"))
	require.NoError(t, err)

	results, err := m.Call(ctx, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, results)
	assert.Equal(t, 1, m.Calls("add"))
	assert.Equal(t, "t", m.Name())

	_, err = m.Call(ctx, "nope")
	var missing *domainerrors.MissingExportError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nope", missing.Name)
}

func TestModule_Overrides(t *testing.T) {
	m, err := New(
		WithExport("add", func(context.Context, ...uint64) ([]uint64, error) { panic("boom") }),
		WithoutExport("echo_string"),
		WithoutExport("memory"),
	)
	require.NoError(t, err)

	_, err = m.Call(context.Background(), "add", 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add trapped: boom")

	assert.False(t, m.HasExport("echo_string"))
	assert.Nil(t, m.Memory())
}

func TestModule_GrowthAndClose(t *testing.T) {
	ctx := context.Background()
	m, err := New(WithGrowthPerCall(2))
	require.NoError(t, err)

	before := m.Arena().Memory().Pages()
	_, err = m.Call(ctx, "add", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, before+2, m.Arena().Memory().Pages())

	require.NoError(t, m.Close(ctx))
	_, err = m.Call(ctx, "add", 1, 1)
	assert.Error(t, err)
}

func TestModule_LegacyDeallocate(t *testing.T) {
	ctx := context.Background()
	m, err := New(WithLegacyDeallocate())
	require.NoError(t, err)

	ptr, err := m.Call(ctx, "allocate", 16)
	require.NoError(t, err)
	results, err := m.Call(ctx, "deallocate", ptr[0], 16)
	require.NoError(t, err)
	assert.Empty(t, results)
}
