package transport

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerBusy = errors.New("worker queue is full")
	ErrBadStatus  = errors.New("unexpected http status")
)

func newErrBadStatus(op string, code int) error {
	return fmt.Errorf("%s: %w %d", op, ErrBadStatus, code)
}
