// Package errs holds the error taxonomy shared by the tokenizer, chunker and
// billing packages.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks malformed input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTokenizerFailure marks an unexpected failure inside the tokenizer.
	ErrTokenizerFailure = errors.New("tokenizer failure")
)

// InvalidArgumentError names the offending argument and why it was rejected.
type InvalidArgumentError struct {
	Arg    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("invalid argument: %s", e.Reason)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidArgument) match.
func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// InvalidArgument builds an *InvalidArgumentError with a formatted reason.
func InvalidArgument(arg, format string, args ...any) error {
	return &InvalidArgumentError{Arg: arg, Reason: fmt.Sprintf(format, args...)}
}

// TokenizerFailure wraps err so both ErrTokenizerFailure and the cause match.
func TokenizerFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTokenizerFailure, err)
}
