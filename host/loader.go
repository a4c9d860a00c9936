package host

import (
	"context"
	"fmt"
	"io"
	"os"
)

// LoadFile reads a wasm binary from path and loads it.
func (e *Executor) LoadFile(ctx context.Context, path string) (*Instance, error) {
	wasmBytes, err := ReadModule(path, e.cfg.MaxModuleSize)
	if err != nil {
		return nil, err
	}
	return e.Load(ctx, wasmBytes)
}

// ReadModule reads a wasm binary of at most maxSize bytes.
func ReadModule(path string, maxSize int64) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("host: open module: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("host: stat module: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("host: %s is a directory", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("host: module %s is %d bytes, limit is %d", path, info.Size(), maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("host: read module: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("host: module %s exceeds %d bytes", path, maxSize)
	}
	return data, nil
}
