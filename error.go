package tableorder

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidReference   = errors.New("invalid reference")
	ErrUnknownTable       = fmt.Errorf("%w: unknown table", ErrInvalidReference)
	ErrUnknownItem        = fmt.Errorf("%w: unknown item", ErrInvalidReference)
	ErrInvariantViolation = errors.New("invariant violation")
	ErrInvalidParam       = errors.New("the param is invalid")
	ErrTimeout            = errors.New("timeout")
	ErrShutdown           = errors.New("order engine is shutting down")
	ErrSequenceGap        = errors.New("sequence gap detected")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
)
