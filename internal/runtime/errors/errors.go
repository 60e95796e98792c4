package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired      = sterrors.New("onesided: configuration is required")
	ErrLoggerRequired      = sterrors.New("onesided: logger is required")
	ErrCommRequired        = sterrors.New("onesided: communicator is required")
	ErrHandlerNameRequired = sterrors.New("onesided: handler name is required")
	ErrMessageRequired     = sterrors.New("onesided: message is required")
	ErrDuplicateHandler    = sterrors.New("onesided: handler name already registered")
	ErrUnknownHandler      = sterrors.New("onesided: no handler registered for key")
	ErrUnsupportedType     = sterrors.New("onesided: type is neither fixed-size nor a sequence of fixed-size values")
	ErrShortBuffer         = sterrors.New("onesided: cursor moved past the end of the buffer")
	ErrTooManyMessages     = sterrors.New("onesided: header section is full")
	ErrBufferFull          = sterrors.New("onesided: payload section is full")
	ErrHeaderOnly          = sterrors.New("onesided: buffer holds headers only")
	ErrMessageIndex        = sterrors.New("onesided: message index out of range")
	ErrOutOfBounds         = sterrors.New("onesided: access outside buffer bounds")
	ErrEpochOpen           = sterrors.New("onesided: an epoch is already open on this window")
	ErrEpochClosed         = sterrors.New("onesided: epoch already closed")
	ErrDuplicateTag        = sterrors.New("onesided: duplicate (source, destination, key) tag in exchange")
	ErrUnknownDiscovery    = sterrors.New("onesided: unknown discovery strategy")
	ErrUnknownTransport    = sterrors.New("onesided: unknown transport")
	ErrWindowExists        = sterrors.New("onesided: window already allocated")
	ErrNoWindow            = sterrors.New("onesided: window not allocated")
	ErrSizeMismatch        = sterrors.New("onesided: received size does not match destination")
	ErrCommClosed          = sterrors.New("onesided: communicator closed")
	ErrInvalidRank         = sterrors.New("onesided: rank out of range")
	ErrMessageTooLarge     = sterrors.New("onesided: envelope exceeds transport message size")
	ErrMalformedEnvelope   = sterrors.New("onesided: malformed envelope")
)

// ConfigValidationError reports an invalid configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "onesided: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// RankError is a fatal transport failure observed by a rank. Transport errors
// are never retried; the rank and the failing operation are kept so the
// process can report where the exchange broke.
type RankError struct {
	Rank int
	Op   string
	Err  error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("onesided: rank %d: %s: %v", e.Rank, e.Op, e.Err)
}

func (e *RankError) Unwrap() error {
	return e.Err
}

// NewRankError wraps err with the rank and operation. A nil err yields nil and
// an err that already carries a RankError is returned unchanged.
func NewRankError(rank int, op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RankError
	if sterrors.As(err, &re) {
		return err
	}
	return &RankError{Rank: rank, Op: op, Err: err}
}

// CapacityError reports an allocation that does not fit into a buffer. Err is
// ErrTooManyMessages or ErrBufferFull.
type CapacityError struct {
	Need int
	Have int
	Err  error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: need %d, have %d", e.Err, e.Need, e.Have)
}

func (e *CapacityError) Unwrap() error {
	return e.Err
}
