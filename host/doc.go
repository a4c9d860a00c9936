// Package host loads remap guests and exchanges requests with them.
//
// An Executor owns a wazero runtime. Load instantiates a guest, binding imports
// the host does not provide to trap stubs, and returns an Instance. Every
// Instance operation follows the same sequence: allocate a guest buffer of
// max(len(request), BufferCapacity) bytes, write the request, invoke the
// export, copy the response out of a fresh memory view and deallocate the
// buffer. The buffer is released on every path except after a trap, which
// closes the instance.
//
//	exec, err := host.NewExecutor(ctx, host.WithCallTimeout(time.Second))
//	if err != nil {
//	    return err
//	}
//	defer exec.Close(ctx)
//
//	inst, err := exec.LoadFile(ctx, "remap-guest.wasm")
//	if err != nil {
//	    return err
//	}
//	resp, err := inst.RunScript(ctx, ".x = 1", map[string]any{})
package host
