package tracker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrObjectNotFound is returned by blob stores when the requested path does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrGenerationExhausted is returned when the repair loop hits its iteration bound.
	ErrGenerationExhausted = errors.New("extraction rule generation exhausted")
)

// NetworkError wraps connection and timeout failures. These are retryable.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.StatusCode, e.URL)
}

// Transient reports whether the status is worth retrying (throttling or server trouble).
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// ModuleErrorKind distinguishes why an extraction module could not produce names.
type ModuleErrorKind string

// Module error kinds.
const (
	ModuleMissing ModuleErrorKind = "missing"
	ModuleLoad    ModuleErrorKind = "load"
	ModuleExecute ModuleErrorKind = "execute"
)

// ModuleError is raised when an extraction module is missing, cannot be loaded, or fails while running.
type ModuleError struct {
	Site SiteID
	Kind ModuleErrorKind
	Err  error
}

func (e *ModuleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("module %s: %s", e.Site, e.Kind)
	}
	return fmt.Sprintf("module %s: %s: %v", e.Site, e.Kind, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// ValidationReason names the check a candidate name list failed.
type ValidationReason string

// Validation reasons.
const (
	ReasonEmptyList   ValidationReason = "empty list"
	ReasonTooFewWords ValidationReason = "must be two words or longer"
	ReasonNotAName    ValidationReason = "invalid name"
	ReasonNotInSource ValidationReason = "not found in source"
)

// ValidationError explains why extracted names were rejected.
type ValidationError struct {
	Reason ValidationReason
	Name   string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmptyList:
		return "validation: empty list"
	case ReasonTooFewWords:
		return fmt.Sprintf("validation: '%s' %s", e.Name, e.Reason)
	default:
		return fmt.Sprintf("validation: %s: %s", e.Reason, e.Name)
	}
}

// ExternalServiceError reports a failure of the code-generation service (quota, auth, transport).
type ExternalServiceError struct {
	Op         string
	StatusCode int
	// Code is the service's error code, e.g. "insufficient_quota".
	Code string
	Err  error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("code generation service %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("code generation service %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Transient reports whether the call may succeed if repeated: transport failures, rate limits and
// server errors. Exhausted quota and rejected credentials are final.
func (e *ExternalServiceError) Transient() bool {
	if e.Code == "insufficient_quota" {
		return false
	}
	switch {
	case e.StatusCode == 0, e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// IsTransientServiceError reports whether err is an ExternalServiceError worth repeating.
func IsTransientServiceError(err error) bool {
	var svcErr *ExternalServiceError
	return errors.As(err, &svcErr) && svcErr.Transient()
}

// IsRetryable classifies errors for the bounded retry combinator.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	return false
}
