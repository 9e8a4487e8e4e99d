package errors

import (
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType int

const (
	ErrorTypeConfig ErrorType = iota
	ErrorTypeFileIO
	ErrorTypeDecryption
	ErrorTypeNetwork
	ErrorTypeNotFound
	ErrorTypeAuth
	ErrorTypeStorage
	ErrorTypeTransfer
	ErrorTypeWatcher
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeConfig:
		return "config"
	case ErrorTypeFileIO:
		return "file i/o"
	case ErrorTypeDecryption:
		return "decryption"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeNotFound:
		return "not found"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeStorage:
		return "storage"
	case ErrorTypeTransfer:
		return "transfer"
	case ErrorTypeWatcher:
		return "watcher"
	default:
		return "unknown"
	}
}

// Error lets an ErrorType act as a match target for errors.Is:
//
//	errors.Is(err, apperrors.ErrorTypeDecryption)
func (et ErrorType) Error() string {
	return et.String() + " error"
}

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType
	Operation string
	Path      string
	Message   string
	Err       error
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("%s error in %s [%s]: %s", e.Type, e.Operation, e.Path, msg)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Type, e.Operation, msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrorType of e.
func (e *AppError) Is(target error) bool {
	et, ok := target.(ErrorType)
	return ok && et == e.Type
}

// NewConfigError creates a new configuration error
func NewConfigError(operation, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeConfig,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// NewFileIOError creates a new error for a failed read or write of a container or transfer file
func NewFileIOError(operation, path, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeFileIO,
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// NewDecryptionError creates a new error for a wrong password or corrupt container
func NewDecryptionError(operation, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeDecryption,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// NewNetworkError creates a new error for a failed exchange with the remote service.
// name is the nation the request was about, if any.
func NewNetworkError(operation, name, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeNetwork,
		Operation: operation,
		Path:      name,
		Message:   message,
		Err:       err,
	}
}

// NewNotFoundError creates a new error for a nation the remote service does not know
func NewNotFoundError(operation, name, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Operation: operation,
		Path:      name,
		Message:   message,
	}
}

// NewAuthError creates a new error for a rejected login or restore
func NewAuthError(operation, name, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeAuth,
		Operation: operation,
		Path:      name,
		Message:   message,
	}
}

// NewStorageError creates a new error for a container location backend (smb, s3)
func NewStorageError(operation, path, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeStorage,
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// NewTransferError creates a new import/export error
func NewTransferError(operation, path, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeTransfer,
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// NewWatcherError creates a new watcher error
func NewWatcherError(operation, path, message string, err error) *AppError {
	return &AppError{
		Type:      ErrorTypeWatcher,
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// Sentinels for errors.Is checks against an AppError's type.
var (
	ErrConfig     error = ErrorTypeConfig
	ErrFileIO     error = ErrorTypeFileIO
	ErrDecryption error = ErrorTypeDecryption
	ErrNetwork    error = ErrorTypeNetwork
	ErrNotFound   error = ErrorTypeNotFound
	ErrAuth       error = ErrorTypeAuth
	ErrStorage    error = ErrorTypeStorage
	ErrTransfer   error = ErrorTypeTransfer
)
