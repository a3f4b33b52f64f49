package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError annotates an error with the operation and request it failed in.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err; a nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// ErrorFields returns zap fields for err, lifting the innermost operation metadata.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		fields = append(fields, zap.String("failed_operation", opErr.Operation))
		if opErr.RequestID != "" {
			fields = append(fields, zap.String("request_id", opErr.RequestID))
		}
	}
	return fields
}
