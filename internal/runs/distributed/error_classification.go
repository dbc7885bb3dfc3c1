package distributed

import (
	"errors"
	"strings"
)

// ErrorClass categorizes Redis-edge failures
type ErrorClass int

const (
	// ClassUnknown indicates an unclassified error
	ClassUnknown ErrorClass = iota
	// ClassConnection indicates network connectivity failures
	ClassConnection
	// ClassTimeout indicates operations that exceeded time limits
	ClassTimeout
	// ClassOverload indicates Redis memory or connection limits
	ClassOverload
	// ClassAuth indicates authentication or permission failures
	ClassAuth
	// ClassTransient indicates a temporary error that may resolve on retry
	ClassTransient
)

// String returns the string representation of ErrorClass
func (c ErrorClass) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassTimeout:
		return "timeout"
	case ClassOverload:
		return "overload"
	case ClassAuth:
		return "auth"
	case ClassTransient:
		return "transient"
	case ClassUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// ErrorInfo carries the classification verdict for one error
type ErrorInfo struct {
	Class       ErrorClass
	Retryable   bool
	Description string
}

// ErrorClassifier sorts Redis-edge errors into retryable and terminal
// classes. Classification is by message because go-redis and asynq
// surface most transport failures as plain errors.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Classify categorizes an error
func (ec *ErrorClassifier) Classify(err error) *ErrorInfo {
	if err == nil {
		return &ErrorInfo{Class: ClassUnknown, Retryable: false}
	}

	var pressure *RedisPressureError
	if errors.As(err, &pressure) {
		return &ErrorInfo{
			Class:       ClassOverload,
			Retryable:   false,
			Description: "redis memory pressure",
		}
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"connection refused",
		"connection reset by peer",
		"connection closed",
		"no route to host",
		"network unreachable",
	}) {
		return &ErrorInfo{Class: ClassConnection, Retryable: true, Description: "connection failure"}
	}

	if containsAny(errStr, []string{
		"timeout",
		"deadline exceeded",
		"i/o timeout",
	}) {
		return &ErrorInfo{Class: ClassTimeout, Retryable: true, Description: "operation timeout"}
	}

	if containsAny(errStr, []string{
		"oom",
		"maxmemory",
		"out of memory",
		"connection pool exhausted",
		"too many connections",
		"resource temporarily unavailable",
	}) {
		return &ErrorInfo{Class: ClassOverload, Retryable: false, Description: "resource exhaustion"}
	}

	if containsAny(errStr, []string{
		"authentication failed",
		"invalid username or password",
		"noauth",
		"permission denied",
		"access denied",
		"unauthorized",
	}) {
		return &ErrorInfo{Class: ClassAuth, Retryable: false, Description: "authentication or permission error"}
	}

	if containsAny(errStr, []string{
		"temporar",
		"unavailable",
		"try again",
		"broken pipe",
		"connection aborted",
	}) {
		return &ErrorInfo{Class: ClassTransient, Retryable: true, Description: "transient error"}
	}

	return &ErrorInfo{Class: ClassUnknown, Retryable: false, Description: "unknown error"}
}

// Retryable reports whether the error is worth retrying
func (ec *ErrorClassifier) Retryable(err error) bool {
	return ec.Classify(err).Retryable
}

func containsAny(s string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
