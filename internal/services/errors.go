package services

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// OperationError hides a storage failure behind a fixed message. The cause
// stays reachable through Unwrap for logging.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string { return "Failed to " + e.Op }

func (e *OperationError) Unwrap() error { return e.Err }

func userNotFound() error {
	return &NotFoundError{Message: "User not found"}
}
