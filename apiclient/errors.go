package apiclient

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind int

const (
	// KindUnavailable is a transport failure: DNS, refused, timeout.
	KindUnavailable ErrorKind = iota
	// KindUnauthorized is a 401/403 from the upstream.
	KindUnauthorized
	// KindStatus is any other non-2xx status.
	KindStatus
	// KindMalformed is a 2xx whose body could not be decoded.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindUnauthorized:
		return "unauthorized"
	case KindStatus:
		return "status"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

// FetchError is returned by every Client call that fails.
type FetchError struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Kind, e.Endpoint, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Endpoint)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf reports the kind of a FetchError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsUnauthorized is a shorthand for KindOf(err) == KindUnauthorized.
func IsUnauthorized(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUnauthorized
}
