package gpualloc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the programmer-error class of spec.md §7: these fire
// as panics at the call site (Go's nearest equivalent to a disabled-by-
// default C assert), but are still defined as errors so panic(fmt.Errorf(
// "%w: ...", Err...)) recovers cleanly under test via errors.Is.
var (
	// ErrPoolHasLiveAllocations is the cause of a panic from Pool.ReleaseThis
	// called while allocations remain live in the pool.
	ErrPoolHasLiveAllocations = errors.New("gpualloc: pool destroyed with live allocations")
	// ErrAllocatorHasLiveAllocations is the cause of a panic from
	// Allocator.ReleaseThis called while pools or allocations remain live.
	ErrAllocatorHasLiveAllocations = errors.New("gpualloc: allocator destroyed with live pools or allocations")
	// ErrWrongMetadata names the error of committing an AllocationRequest
	// against a metadata instance other than the one that produced it.
	// Nothing in this module panics with it: the metadata variants' Alloc
	// methods panic with their own messages on a request of the wrong type.
	ErrWrongMetadata = errors.New("gpualloc: allocation request committed against the wrong metadata instance")
	// ErrDefragEnumerationUnsupported's message is returned as an
	// rhi.ResultNotSupported error by defrag.Begin and Pool.LiveAllocations
	// when a pool's block vector uses linear metadata, which rejects the
	// enumeration entry points defragmentation depends on.
	ErrDefragEnumerationUnsupported = errors.New("gpualloc: defragmentation is not supported on linear metadata")
	// ErrNameBufferLeaked names the error of destroying an allocation record
	// that still holds a name buffer obtained through
	// AllocationCallbacks.Alloc. Nothing in this module panics with it:
	// Allocation.ReleaseThis releases the name buffer itself.
	ErrNameBufferLeaked = errors.New("gpualloc: allocation name buffer was not released before destruction")
)

// ValidationError reports a descriptor field that failed validation in
// CreatePool/NewAllocator/CreateVirtualBlock, grounded on the teacher's
// core.ValidationError (core/error.go): resource type, offending field,
// message, and an optional wrapped cause.
type ValidationError struct {
	Resource string
	Field    string
	Message  string
	Cause    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s.%s: %s", e.Resource, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Resource, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func newValidationError(resource, field, message string) *ValidationError {
	return &ValidationError{Resource: resource, Field: field, Message: message}
}
