package processor

import "errors"

var ErrNoOutputRoot = errors.New("bundle has no output root")
