// Package errors provides the typed failures of the guest/host boundary.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/reglet-dev/wasm-remap/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

var (
	// ErrInstanceClosed is returned when a guest instance is used after Close
	// or after a trap left it unusable.
	ErrInstanceClosed = stdErrors.New("guest instance is closed")

	// ErrEmptyResponse is returned when a guest operation reports a zero-length result
	// where a payload was expected.
	ErrEmptyResponse = stdErrors.New("guest returned an empty response")
)

// DetailedError is an interface for custom error types that can convert themselves
// to a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// DecodeError reports bytes at a guest pointer that are not valid UTF-8.
type DecodeError struct {
	Ptr    uint32
	Length uint32
	Offset int // byte offset of the first invalid sequence
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid utf-8 at 0x%x+%d (offset %d)", e.Ptr, e.Length, e.Offset)
}

// ToErrorDetail implements DetailedError.
func (e *DecodeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "decode", Code: "invalid_utf8"}
}

// CapacityError reports a read or write that does not fit in the target allocation.
type CapacityError struct {
	Ptr       uint32
	Capacity  uint32
	Requested uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("buffer 0x%x has capacity %d, %d bytes requested", e.Ptr, e.Capacity, e.Requested)
}

// ToErrorDetail implements DetailedError.
func (e *CapacityError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "capacity", Code: "capacity_exceeded"}
}

// InvalidPointerError reports a pointer that is not the start of a live allocation.
type InvalidPointerError struct {
	Ptr uint32
}

func (e *InvalidPointerError) Error() string {
	return fmt.Sprintf("pointer 0x%x is not a live allocation", e.Ptr)
}

// ToErrorDetail implements DetailedError.
func (e *InvalidPointerError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "pointer", Code: "invalid_pointer"}
}

// Reasons carried by InvalidFreeError.
const (
	FreeReasonUnknown      = "unknown"
	FreeReasonSizeMismatch = "size_mismatch"
)

// InvalidFreeError reports a deallocate call that does not match a live allocation,
// including double frees.
type InvalidFreeError struct {
	Reason string
	Ptr    uint32
	Size   uint32
}

func (e *InvalidFreeError) Error() string {
	return fmt.Sprintf("invalid free of 0x%x (size %d): %s", e.Ptr, e.Size, e.Reason)
}

// ToErrorDetail implements DetailedError.
func (e *InvalidFreeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "free", Code: e.Reason}
}

// OutOfMemoryError reports an allocation the arena cannot satisfy.
type OutOfMemoryError struct {
	Requested uint32
	Current   uint64 // bytes currently allocated
	Limit     uint64 // maximum addressable bytes
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("memory allocation failed: requested %d bytes, current %d bytes, limit %d bytes",
		e.Requested, e.Current, e.Limit)
}

// ToErrorDetail implements DetailedError.
func (e *OutOfMemoryError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "memory", Code: "out_of_memory"}
}

// TrapError reports an engine-level abort of a guest call. No partial result
// survives a trap.
type TrapError struct {
	Err    error
	Export string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("guest call %s trapped: %v", e.Export, e.Err)
}

func (e *TrapError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *TrapError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "trap", Code: e.Export}
}

// UnresolvedImportError is raised when a guest calls an import the host bound
// to a trap stub, or when strict import resolution rejects a module.
type UnresolvedImportError struct {
	Module string
	Name   string
}

func (e *UnresolvedImportError) Error() string {
	return fmt.Sprintf("unresolved import %s.%s", e.Module, e.Name)
}

// ToErrorDetail implements DetailedError.
func (e *UnresolvedImportError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "import", Code: e.Module + "." + e.Name}
}

// MissingExportError reports a required guest export that is absent.
type MissingExportError struct {
	Name string
}

func (e *MissingExportError) Error() string {
	return fmt.Sprintf("guest does not export %q", e.Name)
}

// ToErrorDetail implements DetailedError.
func (e *MissingExportError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "export", Code: e.Name}
}

// ResponseError reports a guest response that could not be read or decoded.
type ResponseError struct {
	Err    error
	Export string
	Length uint32
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("invalid response from %s (%d bytes): %v", e.Export, e.Length, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ResponseError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "response", Code: e.Export}
}
