package executor

import (
	"errors"
	"io/fs"
	"syscall"
)

// ErrorType buckets an execution failure for reporting.
type ErrorType string

const (
	ErrPermissionDenied ErrorType = "permission_denied"
	ErrFileInUse        ErrorType = "file_in_use"
	ErrFileNotFound     ErrorType = "file_not_found"
	ErrDiskFull         ErrorType = "disk_full"
	ErrBackupFailed     ErrorType = "backup_failed"
	ErrDeleteFailed     ErrorType = "delete_failed"
	ErrUnknown          ErrorType = "unknown"
)

// SuggestedAction tells the user what might unblock a failed item.
type SuggestedAction string

const (
	ActionRetry          SuggestedAction = "retry"
	ActionSkip           SuggestedAction = "skip"
	ActionAdminPrivilege SuggestedAction = "admin_privilege"
	ActionCloseApp       SuggestedAction = "close_app"
)

// ClassifyError maps an OS error onto the failure taxonomy.
func ClassifyError(err error) (ErrorType, SuggestedAction) {
	switch {
	case err == nil:
		return ErrUnknown, ActionSkip
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return ErrPermissionDenied, ActionAdminPrivilege
	case errors.Is(err, fs.ErrNotExist):
		return ErrFileNotFound, ActionSkip
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.ETXTBSY):
		return ErrFileInUse, ActionCloseApp
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull, ActionSkip
	default:
		return ErrUnknown, ActionSkip
	}
}

// retryable reports whether a failed attempt is worth repeating.
func retryable(errType ErrorType) bool {
	return errType == ErrPermissionDenied || errType == ErrFileInUse
}
