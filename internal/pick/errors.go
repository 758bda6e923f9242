package pick

import "errors"

// ErrNoFrame is returned until the first state has been published.
var ErrNoFrame = errors.New("no frame published yet")
