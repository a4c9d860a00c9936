// Package guest implements the guest side of the boundary protocol: the arena
// that hands out landing zones in linear memory, the checked string codec over
// those zones, and the exported operations a host drives with (ptr, len) pairs.
//
// The same code runs inside a wasip1 module (see cmd/remap-guest) and natively
// over a simulated LinearMemory, which is how the host package tests it.
package guest
