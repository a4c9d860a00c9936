package testutil

// Hand-encoded WebAssembly binaries for engine tests. Only the handful of
// opcodes the fixtures need are used.

const (
	i32 = 0x7f
	i64 = 0x7e

	opCall      = 0x10
	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Const  = 0x41
	opI64Const  = 0x42
	opI32Add    = 0x6a
	opDrop      = 0x1a
	opLoop      = 0x03
	opBr        = 0x0c
	opEnd       = 0x0b
	blockEmpty  = 0x40

	kindFunc   = 0x00
	kindMemory = 0x02
)

// TrapModule imports importModule.importName as a () -> () function and exports
// "use_missing", which calls it, and "ok", which returns 42 without touching it.
func TrapModule(importModule, importName string) []byte {
	return module(
		section(1, vec(
			funcType(nil, nil),
			funcType(nil, []byte{i32}),
		)),
		section(2, vec(
			concat(name(importModule), name(importName), []byte{kindFunc, 0}),
		)),
		section(3, vec([]byte{0}, []byte{1})),
		section(7, vec(
			export("use_missing", kindFunc, 1),
			export("ok", kindFunc, 2),
		)),
		section(10, vec(
			body(opCall, 0, opEnd),
			body(opI32Const, 42, opEnd),
		)),
	)
}

// BumpModule is a minimal guest with one page of memory and a bump allocator
// starting at 1024:
//
//	allocate(size i32) -> i32         returns the old top and bumps it
//	deallocate(ptr, size i32)         no result, does nothing
//	read_string(ptr, len i32) -> i32  returns len
//	echo_string(ptr, len i32) -> i32  returns ptr + len
//	run_script(ptr, len i32) -> i32   never returns
func BumpModule() []byte {
	return module(
		section(1, vec(
			funcType([]byte{i32}, []byte{i32}),
			funcType([]byte{i32, i32}, nil),
			funcType([]byte{i32, i32}, []byte{i32}),
		)),
		section(3, vec([]byte{0}, []byte{1}, []byte{2}, []byte{2}, []byte{2})),
		section(5, vec([]byte{0x00, 0x01})),
		section(6, vec([]byte{i32, 0x01, opI32Const, 0x80, 0x08, opEnd})),
		section(7, vec(
			export("memory", kindMemory, 0),
			export("allocate", kindFunc, 0),
			export("deallocate", kindFunc, 1),
			export("read_string", kindFunc, 2),
			export("echo_string", kindFunc, 3),
			export("run_script", kindFunc, 4),
		)),
		section(10, vec(
			body(opGlobalGet, 0, opGlobalGet, 0, opLocalGet, 0, opI32Add, opGlobalSet, 0, opEnd),
			body(opEnd),
			body(opLocalGet, 1, opEnd),
			body(opLocalGet, 0, opLocalGet, 1, opI32Add, opEnd),
			body(opLoop, blockEmpty, opBr, 0, opEnd, opI32Const, 0, opEnd),
		)),
	)
}

// LoggingModule stores payload at offset 16 of its memory and exports "log",
// which passes it to remap_host.log_message as a packed ptr+len.
func LoggingModule(payload []byte) []byte {
	const offset = 16
	packed := int64(offset)<<32 | int64(len(payload))
	return module(
		section(1, vec(
			funcType([]byte{i64}, nil),
			funcType(nil, nil),
		)),
		section(2, vec(
			concat(name("remap_host"), name("log_message"), []byte{kindFunc, 0}),
		)),
		section(3, vec([]byte{1})),
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(
			export("memory", kindMemory, 0),
			export("log", kindFunc, 1),
		)),
		section(10, vec(
			body(concat([]byte{opI64Const}, sleb(packed), []byte{opCall, 0, opEnd})...),
		)),
		section(11, vec(
			concat([]byte{0x00, opI32Const, offset, opEnd}, name(string(payload))),
		)),
	)
}

// WASIModule imports wasi_snapshot_preview1.fd_write and exports the boundary
// memory, allocate and deallocate plus:
//
//	add(a, b i32) -> i32   writes stderrLine to fd 2, then returns a + b
func WASIModule(stderrLine string) []byte {
	const msgOffset = 16
	iovec := concat(le32(msgOffset), le32(uint32(len(stderrLine))), make([]byte, 8)) //nolint:gosec // fixtures are tiny
	return module(
		section(1, vec(
			funcType([]byte{i32, i32, i32, i32}, []byte{i32}),
			funcType([]byte{i32}, []byte{i32}),
			funcType([]byte{i32, i32}, nil),
			funcType([]byte{i32, i32}, []byte{i32}),
		)),
		section(2, vec(
			concat(name("wasi_snapshot_preview1"), name("fd_write"), []byte{kindFunc, 0}),
		)),
		section(3, vec([]byte{1}, []byte{2}, []byte{3})),
		section(5, vec([]byte{0x00, 0x01})),
		section(6, vec([]byte{i32, 0x01, opI32Const, 0x80, 0x08, opEnd})),
		section(7, vec(
			export("memory", kindMemory, 0),
			export("allocate", kindFunc, 1),
			export("deallocate", kindFunc, 2),
			export("add", kindFunc, 3),
		)),
		section(10, vec(
			body(opGlobalGet, 0, opGlobalGet, 0, opLocalGet, 0, opI32Add, opGlobalSet, 0, opEnd),
			body(opEnd),
			// fd_write(2, iovs=0, iovs_len=1, nwritten=8)
			body(opI32Const, 2, opI32Const, 0, opI32Const, 1, opI32Const, 8, opCall, 0, opDrop,
				opLocalGet, 0, opLocalGet, 1, opI32Add, opEnd),
		)),
		section(11, vec(
			concat([]byte{0x00, opI32Const, 0, opEnd}, name(string(iovec)+stderrLine)),
		)),
	)
}

func module(sections ...[]byte) []byte {
	return concat(append([][]byte{{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}}, sections...)...)
}

func section(id byte, content []byte) []byte {
	return concat([]byte{id}, uleb(uint32(len(content))), content) //nolint:gosec // fixtures are tiny
}

func vec(items ...[]byte) []byte {
	return concat(append([][]byte{uleb(uint32(len(items)))}, items...)...) //nolint:gosec // fixtures are tiny
}

func funcType(params, results []byte) []byte {
	return concat([]byte{0x60}, vec(bytesOf(params)...), vec(bytesOf(results)...))
}

func export(n string, kind, index byte) []byte {
	return concat(name(n), []byte{kind, index})
}

// body encodes a function body without locals.
func body(code ...byte) []byte {
	return concat(uleb(uint32(len(code)+1)), []byte{0x00}, code) //nolint:gosec // fixtures are tiny
}

func name(s string) []byte {
	return concat(uleb(uint32(len(s))), []byte(s)) //nolint:gosec // fixtures are tiny
}

func bytesOf(b []byte) [][]byte {
	out := make([][]byte, len(b))
	for i := range b {
		out[i] = b[i : i+1]
	}
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
