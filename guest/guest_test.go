package guest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/reglet-dev/wasm-remap/domain/entities"
	"github.com/reglet-dev/wasm-remap/internal/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedHandler answers every request with the same bytes.
type fixedHandler struct {
	response []byte
	failure  []byte
	seen     []string
}

func (h *fixedHandler) Handle(_ context.Context, request []byte) []byte {
	h.seen = append(h.seen, string(request))
	return h.response
}

func (h *fixedHandler) HandleError(err error) []byte {
	if h.failure != nil {
		return h.failure
	}
	data, _ := json.Marshal(entities.NewDiagnosticResponse([]string{err.Error()}, err.Error(), err.Error()))
	return data
}

func newTestGuest(opts ...Option) *Guest {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(NewArena(), opts...)
}

// writeInput allocates capacity bytes and writes s at the start.
func writeInput(t *testing.T, g *Guest, s string, capacity uint32) uint32 {
	t.Helper()
	ptr := g.Allocate(capacity)
	_, err := EncodeInto(g.Allocator(), s, ptr)
	require.NoError(t, err)
	return ptr
}

func readOutput(t *testing.T, g *Guest, ptr, length uint32) string {
	t.Helper()
	s, err := Decode(g.Allocator(), ptr, length)
	require.NoError(t, err)
	return s
}

func TestGuest_Add(t *testing.T) {
	g := newTestGuest()
	assert.Equal(t, uint32(4), g.Add(2, 2))
	assert.Equal(t, uint32(0), g.Add(0xFFFFFFFF, 1))
	assert.Equal(t, uint32(0xFFFFFFFF), g.Add(0xFFFFFFFE, 1))
}

func TestGuest_EchoString(t *testing.T) {
	g := newTestGuest()
	assert.Equal(t, uint32(1034), g.EchoString(1024, 10))
}

func TestGuest_ReadString(t *testing.T) {
	g := newTestGuest()
	ptr := writeInput(t, g, "something", 9)
	assert.Equal(t, uint32(9), g.ReadString(ptr, 9))

	view, err := g.Allocator().View(ptr, 1)
	require.NoError(t, err)
	view[0] = 0xff
	assert.Zero(t, g.ReadString(ptr, 9), "invalid UTF-8 reads as 0")
}

func TestGuest_ReturnString(t *testing.T) {
	g := newTestGuest()
	input := "something2"
	want := "Incoming: something2\n" + ReturnStringSuffix

	ptr := writeInput(t, g, input, uint32(len(want)))
	n := g.ReturnString(ptr, uint32(len(input)))
	require.Equal(t, uint32(len(want)), n)
	assert.Equal(t, want, readOutput(t, g, ptr, n))
}

func TestGuest_ReturnStringTooSmall(t *testing.T) {
	g := newTestGuest()
	ptr := writeInput(t, g, "tiny", 4)
	assert.Zero(t, g.ReturnString(ptr, 4))
	assert.Equal(t, "tiny", readOutput(t, g, ptr, 4))
}

func TestGuest_DeallocateStatus(t *testing.T) {
	g := newTestGuest()
	ptr := g.Allocate(32)

	assert.Equal(t, uint32(abi.FreeSizeMismatch), g.Deallocate(ptr, 16))
	assert.Equal(t, uint32(abi.FreeOK), g.Deallocate(ptr, 32))
	assert.Equal(t, uint32(abi.FreeUnknown), g.Deallocate(ptr, 32))
}

func TestGuest_AllocatePanicsWhenExhausted(t *testing.T) {
	g := New(NewArena(WithPages(1, 1)))
	assert.Panics(t, func() { g.Allocate(2 * abi.PageSize) })
}

func TestGuest_RunScriptInPlace(t *testing.T) {
	response := []byte(`{"kind":"success","output":{"x":1},"result":1}`)
	h := &fixedHandler{response: response}
	g := newTestGuest(WithScriptHandler(h))

	request := `{"event":{},"program":".x = 1"}`
	ptr := writeInput(t, g, request, 256)

	n := g.RunScript(ptr, uint32(len(request)))
	require.Equal(t, uint32(len(response)), n)
	assert.Equal(t, string(response), readOutput(t, g, ptr, n))
	assert.Equal(t, []string{request}, h.seen)
}

func TestGuest_RunScriptOverflowFallsBack(t *testing.T) {
	h := &fixedHandler{
		response: []byte(strings.Repeat("x", 512)),
		failure:  []byte(`{"kind":"diagnostic"}`),
	}
	g := newTestGuest(WithScriptHandler(h))

	request := `{"event":{},"program":"."}`
	ptr := writeInput(t, g, request, 64)

	n := g.RunScript(ptr, uint32(len(request)))
	assert.Equal(t, `{"kind":"diagnostic"}`, readOutput(t, g, ptr, n))
}

func TestGuest_RunScriptNothingFits(t *testing.T) {
	h := &fixedHandler{response: []byte(strings.Repeat("x", 64))}
	g := newTestGuest(WithScriptHandler(h))

	ptr := writeInput(t, g, "{}", 2)
	assert.Zero(t, g.RunScript(ptr, 2))
}

func TestGuest_RunScriptDecodeFailure(t *testing.T) {
	h := &fixedHandler{response: []byte("unused")}
	g := newTestGuest(WithScriptHandler(h))

	ptr := g.Allocate(512)
	view, err := g.Allocator().View(ptr, 3)
	require.NoError(t, err)
	copy(view, []byte{'{', 0xc3, '}'})

	n := g.RunScript(ptr, 3)
	require.NotZero(t, n)
	assert.Empty(t, h.seen)

	var resp entities.Response
	require.NoError(t, json.Unmarshal([]byte(readOutput(t, g, ptr, n)), &resp))
	assert.Equal(t, entities.ResponseKindDiagnostic, resp.Kind())
}

func TestGuest_RunScriptPacked(t *testing.T) {
	response := []byte(`{"kind":"success","output":null,"result":null}`)
	g := newTestGuest(WithScriptHandler(&fixedHandler{response: response}))

	request := `{"event":null,"program":"1"}`
	ptr := writeInput(t, g, request, uint32(len(request)))

	packed := g.RunScriptPacked(ptr, uint32(len(request)))
	outPtr, outLen := abi.UnpackPtrLen(packed)
	assert.NotEqual(t, ptr, outPtr)
	assert.Equal(t, string(response), readOutput(t, g, outPtr, outLen))
	assert.Equal(t, request, readOutput(t, g, ptr, uint32(len(request))), "request buffer untouched")

	assert.Equal(t, uint32(abi.FreeOK), g.Deallocate(outPtr, outLen))
	assert.Equal(t, uint32(abi.FreeOK), g.Deallocate(ptr, uint32(len(request))))
	count, _ := g.Allocator().(*Arena).Stats()
	assert.Zero(t, count)
}

func TestGuest_RunScriptWithoutHandler(t *testing.T) {
	g := newTestGuest()
	ptr := writeInput(t, g, "{}", 512)

	n := g.RunScript(ptr, 2)
	var resp entities.Response
	require.NoError(t, json.Unmarshal([]byte(readOutput(t, g, ptr, n)), &resp))
	require.NotNil(t, resp.Diagnostic)
	assert.Contains(t, resp.Diagnostic.Msg, "script engine not configured")
}
