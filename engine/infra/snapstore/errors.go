package snapstore

import "errors"

// Backend-neutral errors every store returns.
var (
	ErrNotFound = errors.New("snapstore: not found")
	ErrClosed   = errors.New("snapstore: closed")
)
