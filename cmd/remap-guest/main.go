//go:build wasip1

// Command remap-guest is the reference guest module. It exports the boundary
// functions over a Go heap allocator and runs remap programs with run_script.
//
// Build:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o remap-guest.wasm ./cmd/remap-guest
//
// Run with the host CLI:
//
//	runrun run --module remap-guest.wasm --program '.x = 1' --event event.json
package main

import (
	"log/slog"

	"github.com/reglet-dev/wasm-remap/application/endpoint"
	"github.com/reglet-dev/wasm-remap/guest"
	"github.com/reglet-dev/wasm-remap/infrastructure/remap"
	_ "github.com/reglet-dev/wasm-remap/log" // route slog records to the host
)

var g = newGuest()

func newGuest() *guest.Guest {
	heap := guest.NewHeap(guest.DefaultHeapLimit)

	engine, err := remap.NewEngine()
	if err != nil {
		slog.Error("remap-guest: script engine unavailable", "error", err)
		return guest.New(heap)
	}
	return guest.New(heap, guest.WithScriptHandler(endpoint.New(engine)))
}

func main() {}

//go:wasmexport allocate
func allocate(size uint32) uint32 {
	return g.Allocate(size)
}

//go:wasmexport deallocate
func deallocate(ptr, size uint32) uint32 {
	return g.Deallocate(ptr, size)
}

//go:wasmexport add
func add(a, b uint32) uint32 {
	return g.Add(a, b)
}

//go:wasmexport echo_string
func echoString(ptr, length uint32) uint32 {
	return g.EchoString(ptr, length)
}

//go:wasmexport read_string
func readString(ptr, length uint32) uint32 {
	return g.ReadString(ptr, length)
}

//go:wasmexport return_string
func returnString(ptr, length uint32) uint32 {
	return g.ReturnString(ptr, length)
}

//go:wasmexport run_script
func runScript(ptr, length uint32) uint32 {
	return g.RunScript(ptr, length)
}

//go:wasmexport run_script_packed
func runScriptPacked(ptr, length uint32) uint64 {
	return g.RunScriptPacked(ptr, length)
}
