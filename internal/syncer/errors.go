package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/session"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
)

// ErrAlreadyRunning is returned when a cycle is requested while another is in flight.
var ErrAlreadyRunning = errors.New("syncer: a sync cycle is already running")

// Kind classifies why a cycle failed.
type Kind int

const (
	KindNoSession Kind = iota + 1
	KindSessionExpired
	KindNetwork
	KindServerRejected
	KindTimeout
	KindLocalStore
	KindMerge
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNoSession:
		return "no-session"
	case KindSessionExpired:
		return "session-expired"
	case KindNetwork:
		return "network"
	case KindServerRejected:
		return "server-rejected"
	case KindTimeout:
		return "timeout"
	case KindLocalStore:
		return "local-store"
	case KindMerge:
		return "merge"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether a later cycle may succeed without user action.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindServerRejected, KindTimeout, KindMerge:
		return true
	default:
		return false
	}
}

// Error is a failed cycle: what went wrong and in which phase.
type Error struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sync failed while %s: %s", e.Phase, e.Kind)
	}
	return fmt.Sprintf("sync failed while %s: %s: %v", e.Phase, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later cycle may succeed without user action.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf returns the kind of a cycle error. Errors raised outside a cycle,
// such as a context that expired while the cycle was queued, are classified
// by their cause. It returns zero for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var storeErr *records.StoreError
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return KindNoSession
	case errors.Is(err, session.ErrSessionExpired), errors.Is(err, syncapi.ErrUnauthorized):
		return KindSessionExpired
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, syncapi.ErrUnavailable):
		return KindNetwork
	case errors.Is(err, syncapi.ErrRejected), errors.Is(err, syncapi.ErrMalformedResponse):
		return KindServerRejected
	case errors.As(err, &storeErr):
		return KindLocalStore
	default:
		return KindNetwork
	}
}

func failure(phase Phase, err error) *Error {
	return &Error{Kind: classify(err), Phase: phase, Err: err}
}
