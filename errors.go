package anvilbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrUnsupportedDataType is wrapped by configuration errors for a data type an operation
	// does not offer.
	ErrUnsupportedDataType = errors.New("anvil: unsupported data type")

	// ErrUploadStream is the abort cause when an upload source fails while the multipart body
	// is being written.
	ErrUploadStream = errors.New("anvil: upload stream failed")

	// ErrStreamNotReplayable is returned when a throttled request must be resent but one of its
	// stream uploads was already consumed and cannot be rewound.
	ErrStreamNotReplayable = errors.New("anvil: stream upload cannot be replayed")
)

// ConfigurationError reports missing credentials, missing per-operation options or an
// unsupported data type. It is returned before any I/O.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("anvil: configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("anvil: configuration error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SchemaError reports file-like values in GraphQL variables that are not valid uploads.
type SchemaError struct {
	Paths []string
	Err   *multierror.Error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("anvil: invalid upload values at %s: %v",
		strings.Join(e.Paths, ", "), e.Err.ErrorOrNil())
}

func (e *SchemaError) Unwrap() error { return e.Err.ErrorOrNil() }

// TransportError is a failure below HTTP semantics: network errors, cancellation, or an upload
// stream that broke mid-request. It is never retried.
type TransportError struct {
	Op      string
	URL     string
	Cause   error
	Aborted bool
}

func (e *TransportError) Error() string {
	if e.Aborted {
		return fmt.Sprintf("anvil: %s %s aborted: %v", e.Op, e.URL, e.Cause)
	}
	return fmt.Sprintf("anvil: %s %s: %v", e.Op, e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// RemoteError is the error form of a non-2xx Result. The pipeline never returns it; callers
// get it from Result.Err when they prefer error values.
type RemoteError struct {
	StatusCode int
	Errors     []ResponseError
}

func (e *RemoteError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("anvil: remote error (status %d)", e.StatusCode)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		msgs = append(msgs, re.Message)
	}
	return fmt.Sprintf("anvil: remote error (status %d): %s", e.StatusCode, strings.Join(msgs, "; "))
}

// IsConfigurationError returns true if err is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsSchemaError returns true if err is a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsTransportError returns true if err is a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAborted returns true if the call was cancelled by the caller or by a failing upload stream.
func IsAborted(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.Aborted {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrUploadStream)
}
