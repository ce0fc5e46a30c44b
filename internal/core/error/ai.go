package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// ConfigurationErrorMessage is shown when a role cannot be served.
	ConfigurationErrorMessage = "ai configuration error"
	// TransportErrorMessage describes failed calls to a model endpoint.
	TransportErrorMessage = "model request failed"
)

var (
	// ErrConfiguration marks terminal configuration problems such as an
	// unassigned role, a disabled model or a missing credential.
	ErrConfiguration = errors.New("configuration error")
	// ErrMalformedOutput is returned when a model response cannot be parsed,
	// for example tool arguments that are not valid JSON.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Config builds a configuration error. It is never retried.
func Config(format string, args ...any) error {
	return New(fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...)),
		http.StatusPreconditionFailed, ConfigurationErrorMessage)
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// ConcurrencyLimitError is returned when no slot could be claimed for a model.
type ConcurrencyLimitError struct {
	MaxConcurrency int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("service busy, retry later (max %d concurrent requests)", e.MaxConcurrency)
}

// NewConcurrencyLimit wraps a ConcurrencyLimitError for the given cap.
func NewConcurrencyLimit(max int) error {
	return New(&ConcurrencyLimitError{MaxConcurrency: max}, http.StatusTooManyRequests, "service busy")
}

// AsConcurrencyLimit extracts the ConcurrencyLimitError from err.
func AsConcurrencyLimit(err error) (*ConcurrencyLimitError, bool) {
	var cl *ConcurrencyLimitError
	if errors.As(err, &cl) {
		return cl, true
	}
	return nil, false
}

// HTTPError is a non-2xx answer from a model endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Body)
}

// NewHTTP wraps a non-success response.
func NewHTTP(status int, body string) error {
	return New(&HTTPError{Status: status, Body: body}, http.StatusBadGateway, TransportErrorMessage)
}

// WrapTransport maps network and stream failures to a transport-class error.
func WrapTransport(err error) error {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return err
	}
	return New(err, http.StatusBadGateway, TransportErrorMessage)
}

// Malformed reports unparseable model output as a transport-class error.
func Malformed(format string, args ...any) error {
	return New(fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...)),
		http.StatusBadGateway, TransportErrorMessage)
}
