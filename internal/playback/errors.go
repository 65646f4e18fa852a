package playback

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch/materialization failure.
type ErrorKind int

const (
	// KindNetwork is a transient failure; the user may retry.
	KindNetwork ErrorKind = iota
	// KindUnsupported is a content-level failure that will not succeed
	// on retry (e.g. a container the decoder cannot handle).
	KindUnsupported
	// KindCancelled results from detach or rebind racing a slow fetch.
	// It is never surfaced to the user.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnsupported:
		return "unsupported"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FetchError is the only error type that crosses the cache/item boundary.
type FetchError struct {
	Kind ErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return "fetch: " + e.Kind.String()
	}
	return fmt.Sprintf("fetch: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether a manual retry could succeed.
func (e *FetchError) Retryable() bool { return e.Kind == KindNetwork }

// NewFetchError wraps err with an explicit kind.
func NewFetchError(kind ErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// AsFetchError coerces an arbitrary error into a FetchError.
// Context cancellation maps to cancelled, deadline expiry to network
// (a stalled fetch looks like a dead link to the user), everything else
// to network unless already classified.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return &FetchError{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindNetwork, Err: err}
	}
	return &FetchError{Kind: KindNetwork, Err: err}
}
