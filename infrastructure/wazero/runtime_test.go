package wazero

import (
	"bytes"
	"context"
	"testing"
	"time"

	domainerrors "github.com/reglet-dev/wasm-remap/domain/errors"
	"github.com/reglet-dev/wasm-remap/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
)

func newTestRuntime(t *testing.T, opts ...RuntimeOption) *Runtime {
	t.Helper()
	ctx := context.Background()
	rt, err := NewRuntime(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	return rt
}

func TestInstantiate_StubsUnresolvedImport(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.Instantiate(ctx, testutil.TrapModule("env", "missing"), InstantiateConfig{Name: "trap"})
	require.NoError(t, err)

	require.Len(t, mod.Imports(), 1)
	b := mod.Imports()[0]
	assert.Equal(t, "env", b.Module)
	assert.Equal(t, "missing", b.Name)
	assert.Equal(t, ResolutionStub, b.Resolution)
	assert.Equal(t, "() -> ()", b.Signature())

	results, err := mod.Call(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, results)

	_, err = mod.Call(ctx, "use_missing")
	unresolved := testutil.RequireErrorAs[*domainerrors.UnresolvedImportError](t, err)
	assert.Equal(t, "env", unresolved.Module)
	assert.Equal(t, "missing", unresolved.Name)
}

func TestInstantiate_StrictImports(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Instantiate(context.Background(), testutil.TrapModule("env", "missing"), InstantiateConfig{StrictImports: true})
	unresolved := testutil.RequireErrorAs[*domainerrors.UnresolvedImportError](t, err)
	assert.Equal(t, "env", unresolved.Module)
	assert.Contains(t, err.Error(), "strict imports")
}

func TestInstantiate_ProvidedModuleLacksFunction(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Instantiate(context.Background(), testutil.TrapModule("remap_host", "nope"), InstantiateConfig{})
	unresolved := testutil.RequireErrorAs[*domainerrors.UnresolvedImportError](t, err)
	assert.Equal(t, "nope", unresolved.Name)
	assert.Contains(t, err.Error(), `module "remap_host" does not export "nope"`)
}

func TestInstantiate_ReusesStubModule(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	first, err := rt.Instantiate(ctx, testutil.TrapModule("env", "a"), InstantiateConfig{Name: "first"})
	require.NoError(t, err)

	second, err := rt.Instantiate(ctx, testutil.TrapModule("env", "a"), InstantiateConfig{Name: "second"})
	require.NoError(t, err)
	assert.Equal(t, ResolutionStub, second.Imports()[0].Resolution)

	bindings, err := rt.Imports(ctx, testutil.TrapModule("env", "b"))
	require.NoError(t, err)
	assert.Equal(t, ResolutionUnresolved, bindings[0].Resolution)

	// env is rebuilt with both functions; earlier guests keep working.
	third, err := rt.Instantiate(ctx, testutil.TrapModule("env", "b"), InstantiateConfig{Name: "third"})
	require.NoError(t, err)
	assert.Equal(t, ResolutionStub, third.Imports()[0].Resolution)

	fourth, err := rt.Instantiate(ctx, testutil.TrapModule("env", "a"), InstantiateConfig{Name: "fourth"})
	require.NoError(t, err)
	assert.Equal(t, ResolutionStub, fourth.Imports()[0].Resolution)

	for _, mod := range []*Module{first, third, fourth} {
		results, err := mod.Call(ctx, "ok")
		require.NoError(t, err, mod.Name())
		assert.Equal(t, []uint64{42}, results)
	}

	_, err = third.Call(ctx, "use_missing")
	unresolved := testutil.RequireErrorAs[*domainerrors.UnresolvedImportError](t, err)
	assert.Equal(t, "b", unresolved.Name)
}

func TestInstantiate_HostImportsDoNotWedgeRuntime(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	_, err := rt.Instantiate(ctx, testutil.TrapModule("remap_host", "nope"), InstantiateConfig{})
	require.Error(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := rt.Instantiate(ctx, testutil.WASIModule(""), InstantiateConfig{Name: "wasi"})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("instantiate blocked after a failed link")
	}
}

func TestInstantiate_GuestStderr(t *testing.T) {
	ctx := context.Background()
	var stderr bytes.Buffer
	rt := newTestRuntime(t, WithGuestStderr(&stderr))

	mod, err := rt.Instantiate(ctx, testutil.WASIModule("to fd 2"), InstantiateConfig{})
	require.NoError(t, err)
	require.Len(t, mod.Imports(), 1)
	assert.Equal(t, ResolutionWASI, mod.Imports()[0].Resolution)

	results, err := mod.Call(ctx, "add", 40, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, results)
	assert.Equal(t, "to fd 2", stderr.String())
}

func TestImports_Classification(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	tests := []struct {
		name   string
		module string
		fn     string
		want   Resolution
	}{
		{"host", "remap_host", "log_message", ResolutionHost},
		{"wasi", "wasi_snapshot_preview1", "sched_yield", ResolutionWASI},
		{"unresolved", "env", "missing", ResolutionUnresolved},
		{"missing", "remap_host", "nope", ResolutionMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bindings, err := rt.Imports(ctx, testutil.TrapModule(tt.module, tt.fn))
			require.NoError(t, err)
			require.Len(t, bindings, 1)
			assert.Equal(t, tt.want, bindings[0].Resolution)
			assert.Equal(t, tt.module+"."+tt.fn+"() -> () ["+string(tt.want)+"]", bindings[0].String())
		})
	}
}

func TestInstantiate_InvalidBinary(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Instantiate(context.Background(), []byte("not wasm"), InstantiateConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wazero: compile")
}

func TestModule_AllocateWriteInvokeRead(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.Instantiate(ctx, testutil.BumpModule(), InstantiateConfig{Name: "bump"})
	require.NoError(t, err)
	assert.Equal(t, "bump", mod.Name())
	assert.Empty(t, mod.Imports())

	for _, export := range []string{"allocate", "deallocate", "read_string", "echo_string"} {
		assert.True(t, mod.HasExport(export), export)
	}
	assert.False(t, mod.HasExport("return_string"))

	mem := mod.Memory()
	require.NotNil(t, mem)
	assert.Equal(t, uint32(65536), mem.Size())

	first, err := mod.Call(ctx, "allocate", 16)
	require.NoError(t, err)
	second, err := mod.Call(ctx, "allocate", 16)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1024}, first)
	assert.Equal(t, []uint64{1040}, second)

	require.True(t, mem.Write(1024, []byte("hello")))
	echoed, err := mod.Call(ctx, "echo_string", 1024, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1029}, echoed)

	n, err := mod.Call(ctx, "read_string", 1024, 5)
	require.NoError(t, err)
	data, ok := mod.Memory().Read(1024, uint32(n[0])) //nolint:gosec // test value
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))

	freed, err := mod.Call(ctx, "deallocate", 1024, 16)
	require.NoError(t, err)
	assert.Empty(t, freed)

	require.NoError(t, mod.Close(ctx))
	assert.True(t, mod.Closed())
}

func TestModule_MissingExport(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t)

	mod, err := rt.Instantiate(ctx, testutil.BumpModule(), InstantiateConfig{})
	require.NoError(t, err)
	assert.Contains(t, mod.Name(), "guest-")

	_, err = mod.Call(ctx, "add", 1, 2)
	missing := testutil.RequireErrorAs[*domainerrors.MissingExportError](t, err)
	assert.Equal(t, "add", missing.Name)
}

func TestModule_NoMemory(t *testing.T) {
	rt := newTestRuntime(t)

	mod, err := rt.Instantiate(context.Background(), testutil.TrapModule("env", "missing"), InstantiateConfig{})
	require.NoError(t, err)
	assert.Nil(t, mod.Memory())
}

func TestModule_CallTimeoutClosesModule(t *testing.T) {
	rt := newTestRuntime(t)

	mod, err := rt.Instantiate(context.Background(), testutil.BumpModule(), InstantiateConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = mod.Call(ctx, "run_script", 1024, 0)
	require.Error(t, err)
	assert.True(t, mod.Closed())
}

func TestNewRuntime_Options(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t,
		WithMemoryLimitPages(1),
		WithCompilationCacheDir(t.TempDir()),
	)

	mod, err := rt.Instantiate(ctx, testutil.BumpModule(), InstantiateConfig{})
	require.NoError(t, err)
	assert.Equal(t, uint32(65536), mod.Memory().Size())
}

func TestBinding_Signature(t *testing.T) {
	b := Binding{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI64},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	assert.Equal(t, "(i32, i64) -> (i32)", b.Signature())
}
