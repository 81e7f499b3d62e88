package util

import (
	"fmt"

	"github.com/real-rm/golog"
)

// LogError logs an error with component and operation context.
// This helper standardizes error logging across the codebase.
//
// Parameters:
//   - logger: The logger instance to use
//   - component: The component where the error occurred (e.g., "gateway", "channel", "http")
//   - operation: The operation that failed (e.g., "load principal", "subscribe channel")
//   - err: The error that occurred
//   - fields: Additional key-value pairs to include in the log
//
// Example:
//
//	LogError(logger, "gateway", "load principal", err, "principal_id", id)
func LogError(logger *golog.Logger, component, operation string, err error, fields ...interface{}) {
	allFields := []interface{}{"error", err, "component", component}
	allFields = append(allFields, fields...)
	logger.Error(fmt.Sprintf("Failed to %s", operation), allFields...)
}
