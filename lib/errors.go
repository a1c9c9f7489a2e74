package lib

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrSyncInProgress = errors.New("a subscriber sync is already running")
)

// ValidationError is a client input problem. It is logged at info level only.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{fmt.Sprintf(format, args...)}
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NoRecipientsError means the requested groups resolved to nobody; the provider was not called.
type NoRecipientsError struct {
	GroupIDs []string
}

func (e *NoRecipientsError) Error() string {
	return fmt.Sprintf("no subscribers found in groups: %s", strings.Join(e.GroupIDs, ", "))
}

// SyncError is a failed provider page fetch. Nothing was written when it is returned.
type SyncError struct {
	Page   int
	Offset int
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync aborted on page %d (offset %d): %v", e.Page, e.Offset, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// InconsistencyError means the provider accepted a notification but its log row could not
// be written.
type InconsistencyError struct {
	ProviderID string
	Err        error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("notification %s was sent but could not be logged: %v", e.ProviderID, e.Err)
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}

// RecordError is one subscriber that failed to reconcile.
type RecordError struct {
	ExternalID string `json:"externalId"`
	Reason     string `json:"reason"`
}
