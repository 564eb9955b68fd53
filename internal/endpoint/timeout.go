package endpoint

import (
	"errors"
	"os"
)

// timeouter is satisfied by errors that know they are timeouts, the same
// convention net.Error uses.
type timeouter interface {
	Timeout() bool
}

// isTimeout reports whether err represents the read timeout configured on
// the port rather than a real I/O failure, so the reader loop can treat it
// as "poll again" instead of "the device died".
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te timeouter
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
