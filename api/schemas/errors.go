package schemas

import "errors"

// Session error taxonomy. Only ErrInvalidURL on the primary target and
// ErrPageLoadTimeout abort a session; the rest are recovered where they occur.
var (
	ErrInvalidURL              = errors.New("invalid url")
	ErrPageLoadTimeout         = errors.New("page load timed out")
	ErrNavigationFailed        = errors.New("navigation failed")
	ErrActionFailure           = errors.New("action failed")
	ErrResponseBodyUnavailable = errors.New("response body unavailable")
	ErrStorage                 = errors.New("storage failure")
	ErrManifestFlushed         = errors.New("manifest already flushed")
	ErrDuplicateResource       = errors.New("duplicate resource")
)
