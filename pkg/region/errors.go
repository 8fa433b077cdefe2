package region

import "errors"

// ErrInvalidGrid is returned when a grid cannot be built from the given
// dimensions or screen rectangle.
var ErrInvalidGrid = errors.New("region: invalid grid")
