// Package errs defines the shared error taxonomy for grantmatchd.
//
// Components wrap these sentinels with fmt.Errorf("%w: ...") so callers can
// classify failures with errors.Is without depending on concrete types.
package errs

import "errors"

var (
	// ErrValidation indicates malformed caller input (empty text, wrong
	// vector dimensionality, empty batch). Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrProvider indicates a hosted provider call failed or returned an
	// unexpected shape. The original cause is preserved in the chain.
	ErrProvider = errors.New("provider request failed")

	// ErrParse indicates a provider responded successfully but its payload
	// could not be interpreted. Per-item failure in batch contexts.
	ErrParse = errors.New("response parse failed")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// IsValidation reports whether err is a caller-input error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsProvider reports whether err originated in a hosted provider call.
func IsProvider(err error) bool { return errors.Is(err, ErrProvider) }

// IsParse reports whether err is an uninterpretable-payload error.
func IsParse(err error) bool { return errors.Is(err, ErrParse) }

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
