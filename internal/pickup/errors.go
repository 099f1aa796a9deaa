package pickup

import "errors"

var ErrUnknownBundle = errors.New("bundle not taken from any open space")
