// Package abi defines the pointer+length conventions shared by the guest and
// the host: export names, packing of (ptr, len) pairs and status codes.
package abi

import "fmt"

// PtrHighBits is the shift applied to the pointer half of a packed value.
const PtrHighBits = 32

// PageSize is the size of one WebAssembly linear memory page.
const PageSize = 65536

// HostModule is the import module name under which the host exposes its functions.
const HostModule = "remap_host"

// Guest export names.
const (
	ExportMemory          = "memory"
	ExportInitialize      = "_initialize"
	ExportAllocate        = "allocate"
	ExportDeallocate      = "deallocate"
	ExportAdd             = "add"
	ExportEchoString      = "echo_string"
	ExportReadString      = "read_string"
	ExportReturnString    = "return_string"
	ExportRunScript       = "run_script"
	ExportRunScriptPacked = "run_script_packed"
)

// ImportLogMessage is the host function guests call to emit a log record.
const ImportLogMessage = "log_message"

// Deallocate status codes returned by the guest's deallocate export.
const (
	FreeOK           uint32 = 0
	FreeUnknown      uint32 = 1
	FreeSizeMismatch uint32 = 2
)

// PackPtrLen packs a pointer and length into a single uint64.
// Pointer is stored in the high 32 bits, length in the low 32 bits.
// Panics if ptr is 0 and length > 0, indicating an invalid state.
func PackPtrLen(ptr, length uint32) uint64 {
	if ptr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: invalid pack - null pointer (0x0) with non-zero length (%d)", length))
	}
	return (uint64(ptr) << PtrHighBits) | uint64(length)
}

// UnpackPtrLen unpacks a uint64 into its original pointer and length.
// Panics if ptr is 0 and length > 0, indicating an invalid packed value.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> PtrHighBits) //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed)             //nolint:gosec // G115: packed format stores 32-bit values
	if ptr == 0 && length > 0 {
		panic(fmt.Sprintf("abi: invalid unpack - null pointer (0x0) with non-zero length (%d)", length))
	}
	return ptr, length
}

// FreeStatusText describes a deallocate status code.
func FreeStatusText(status uint32) string {
	switch status {
	case FreeOK:
		return "ok"
	case FreeUnknown:
		return "unknown"
	case FreeSizeMismatch:
		return "size_mismatch"
	default:
		return fmt.Sprintf("status_%d", status)
	}
}
