package cache

import "errors"

var (
	ErrNotFound = errors.New("cache: entry not found")
	ErrDecode   = errors.New("cache: cannot decode entry")
	ErrNilRepo  = errors.New("cache: repository is nil")
)

// DecodeError reports a cached payload that could not be decoded into the
// requested type. It matches ErrDecode with errors.Is.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return "cache: decode " + e.Key + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
