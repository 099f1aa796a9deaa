package bundle

import (
	"errors"
	"fmt"
)

var (
	ErrCapacity      = errors.New("bundle capacity exceeded")
	ErrMalformed     = errors.New("malformed bundle")
	ErrStringTooLong = errors.New("string too long for wire encoding")
	ErrUnitIndex     = errors.New("unit index out of range")
)

func newErrCapacity(have, adding int) error {
	return fmt.Errorf("%w: bundle may not contain more than %d units (have %d, adding %d)", ErrCapacity, MaxUnits, have, adding)
}
