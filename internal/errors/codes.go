package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for log unit operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (recoverable, per request)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeOverwrite       ErrorCode = 1001

	// Server errors
	ErrCodeInternal           ErrorCode = 2000
	ErrCodeUnavailable        ErrorCode = 2001
	ErrCodeDiskFull           ErrorCode = 2002
	ErrCodeDiskThrottled      ErrorCode = 2003
	ErrCodeAppendFailed       ErrorCode = 2004
	ErrCodeCorruptedData      ErrorCode = 2007
	ErrCodeIncompatibleFormat ErrorCode = 2009
	ErrCodeDuplicateAddress   ErrorCode = 2010
)

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *StorageError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeOverwrite:
		return codes.AlreadyExists
	case ErrCodeDiskFull:
		return codes.ResourceExhausted
	case ErrCodeDiskThrottled, ErrCodeUnavailable:
		return codes.Unavailable
	case ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeIncompatibleFormat:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func Overwrite(address uint64) *StorageError {
	return NewStorageError(ErrCodeOverwrite, fmt.Sprintf("address %d is already written", address), nil).
		WithDetail("address", address)
}

func DuplicateAddress(address uint64) *StorageError {
	return NewStorageError(ErrCodeDuplicateAddress, fmt.Sprintf("duplicate append at address %d", address), nil).
		WithDetail("address", address)
}

func CorruptedData(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptedData, message, cause)
}

func ChecksumFailed(address uint64, expected, actual uint32) *StorageError {
	return NewStorageError(ErrCodeCorruptedData, fmt.Sprintf("checksum validation failed at address %d: expected %d, got %d", address, expected, actual), nil).
		WithDetail("address", address).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func IncompatibleFormat(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeIncompatibleFormat, message, cause)
}

func AppendFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeAppendFailed, message, cause)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeUnavailable, message, cause)
}

func DiskFull(usagePercent float64, availableBytes uint64) *StorageError {
	return NewStorageError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), nil).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

func DiskThrottled(usagePercent float64) *StorageError {
	return NewStorageError(ErrCodeDiskThrottled, fmt.Sprintf("disk write throttled: %.2f%% used", usagePercent), nil).
		WithDetail("usage_percent", usagePercent)
}

// IsStorageError checks if an error is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsOverwrite reports whether err rejects a write at an occupied address
func IsOverwrite(err error) bool {
	return GetCode(err) == ErrCodeOverwrite
}

// IsFatal reports whether err must halt the component that returned it.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeCorruptedData, ErrCodeIncompatibleFormat, ErrCodeAppendFailed, ErrCodeDuplicateAddress:
		return true
	}
	return false
}
