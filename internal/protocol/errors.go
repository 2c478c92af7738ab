package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for any payload that cannot be decoded into a
	// message. Every decode failure satisfies errors.Is(err, ErrMalformed).
	ErrMalformed = errors.New("malformed packet")

	// ErrUnknownFraming marks payloads whose start/end markers match no known
	// producer class, including a start marker of one class paired with the
	// end marker of the other.
	ErrUnknownFraming = fmt.Errorf("%w: unknown framing", ErrMalformed)

	ErrIDOutOfRange    = errors.New("identifier out of range")
	ErrNegativeReading = errors.New("reading must be non-negative")
	ErrTooLarge        = errors.New("encoded packet exceeds maximum size")
	ErrUnknownKind     = errors.New("unknown message kind")
)
