// Package nvmehost implements the host-side protocol engine for an NVMe
// controller: bring-up, the admin queue pair, per-namespace I/O queue
// pairs, and Read/Write/Write-Zeroes submission via PRP or SGL.
package nvmehost

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured nvmehost error with context and errno mapping.
type Error struct {
	Op    string    // Operation that failed (e.g., "IDENTIFY_CONTROLLER", "CREATE_IOSQ")
	CtrlID uint32   // Controller identifier (0 if not applicable)
	NSID  uint32    // Namespace identifier (0 if not applicable)
	Queue int       // Queue id (-1 if not applicable)
	Code  ErrorCode // High-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.CtrlID != 0 {
		parts = append(parts, fmt.Sprintf("ctrl=%d", e.CtrlID))
	}
	if e.NSID != 0 {
		parts = append(parts, fmt.Sprintf("nsid=%d", e.NSID))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nvmehost: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nvmehost: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison against another *Error by category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode enumerates the four error kinds this driver core distinguishes.
type ErrorCode string

const (
	// ErrCodeUnsupportedConfig marks a fatal bring-up condition: the
	// controller does not support a configuration this driver requires
	// (e.g. no NVM command set, MPS out of the controller's supported range).
	ErrCodeUnsupportedConfig ErrorCode = "unsupported configuration"

	// ErrCodeDeviceCommandFailure marks a completion with a nonzero status
	// field: the controller itself rejected or failed a command.
	ErrCodeDeviceCommandFailure ErrorCode = "device command failure"

	// ErrCodeQueueFull marks local capacity exhaustion: the submission
	// queue has no free slot, or the target slot's continuation has not
	// yet been invoked.
	ErrCodeQueueFull ErrorCode = "local queue capacity exhausted"

	// ErrCodePrecondition marks a violated precondition the caller must
	// avoid: a transfer spanning more than two PRP pages, an unsupported
	// discard request, or similar caller misuse.
	ErrCodePrecondition ErrorCode = "precondition violation"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Queue: -1}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error(), Queue: -1}
}

// NewControllerError creates a controller-scoped error.
func NewControllerError(op string, ctrlID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, CtrlID: ctrlID, Code: code, Msg: msg, Queue: -1}
}

// NewNamespaceError creates a namespace-scoped error.
func NewNamespaceError(op string, ctrlID, nsid uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, CtrlID: ctrlID, NSID: nsid, Code: code, Msg: msg, Queue: -1}
}

// NewCompletionError builds a device-command-failure error from an NVMe
// completion status field (the low 15 bits of CQE dw3 bits 17-31).
func NewCompletionError(op string, ctrlID, nsid uint32, status uint16) *Error {
	return &Error{
		Op:     op,
		CtrlID: ctrlID,
		NSID:   nsid,
		Code:   ErrCodeDeviceCommandFailure,
		Msg:    fmt.Sprintf("completion status=0x%04x", status),
		Queue:  -1,
	}
}

// WrapError wraps an existing error with nvmehost context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ne, ok := inner.(*Error); ok {
		return &Error{
			Op: op, CtrlID: ne.CtrlID, NSID: ne.NSID, Queue: ne.Queue,
			Code: ne.Code, Errno: ne.Errno, Msg: ne.Msg, Inner: ne.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op: op, Code: mapErrnoToCode(errno), Errno: errno,
			Msg: errno.Error(), Inner: inner, Queue: -1,
		}
	}

	return &Error{Op: op, Code: ErrCodeDeviceCommandFailure, Msg: inner.Error(), Inner: inner, Queue: -1}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG, syscall.EOPNOTSUPP, syscall.ENOSYS:
		return ErrCodeUnsupportedConfig
	case syscall.EBUSY, syscall.EAGAIN:
		return ErrCodeQueueFull
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeQueueFull
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePrecondition
	default:
		return ErrCodeDeviceCommandFailure
	}
}

// IsCode reports whether err (or a wrapped error) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err (or a wrapped error) carries the given errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
