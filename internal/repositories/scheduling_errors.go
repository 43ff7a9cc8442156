package repositories

import "fmt"

// SchedulingErrorCode enumerates failure reasons for booking operations.
type SchedulingErrorCode string

const (
	// SchedulingErrorUnknown represents an unspecified failure.
	SchedulingErrorUnknown SchedulingErrorCode = "scheduling_unknown"
	// SchedulingErrorInvalidInput indicates the caller supplied invalid arguments.
	SchedulingErrorInvalidInput SchedulingErrorCode = "scheduling_invalid_input"
	// SchedulingErrorSlotConflict indicates the requested slot overlaps an active booking.
	SchedulingErrorSlotConflict SchedulingErrorCode = "scheduling_slot_conflict"
	// SchedulingErrorOrderClosed indicates the target order no longer accepts appointments.
	SchedulingErrorOrderClosed SchedulingErrorCode = "scheduling_order_closed"
	// SchedulingErrorOrderNotEmpty indicates the order still has active appointments.
	SchedulingErrorOrderNotEmpty SchedulingErrorCode = "scheduling_order_not_empty"
	// SchedulingErrorWorkshopMismatch indicates the appointment and order belong to different workshops.
	SchedulingErrorWorkshopMismatch SchedulingErrorCode = "scheduling_workshop_mismatch"
	// SchedulingErrorDuplicateCode indicates an order code collision.
	SchedulingErrorDuplicateCode SchedulingErrorCode = "scheduling_duplicate_code"
	// SchedulingErrorInvalidState indicates a forbidden status transition.
	SchedulingErrorInvalidState SchedulingErrorCode = "scheduling_invalid_state"
)

// SchedulingError wraps booking failures with machine readable codes.
type SchedulingError struct {
	Op      string
	Code    SchedulingErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *SchedulingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError. Scheduling errors never represent missing documents.
func (e *SchedulingError) IsNotFound() bool { return false }

// IsConflict reports whether the error is a contention failure a caller may retry or surface as 409.
func (e *SchedulingError) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case SchedulingErrorSlotConflict, SchedulingErrorOrderClosed, SchedulingErrorOrderNotEmpty,
		SchedulingErrorDuplicateCode, SchedulingErrorInvalidState, SchedulingErrorWorkshopMismatch:
		return true
	}
	return false
}

// IsUnavailable implements RepositoryError.
func (e *SchedulingError) IsUnavailable() bool { return false }

// NewSchedulingError constructs a typed scheduling error.
func NewSchedulingError(code SchedulingErrorCode, message string, err error) *SchedulingError {
	if message == "" {
		message = string(code)
	}
	return &SchedulingError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
