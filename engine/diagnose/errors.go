package diagnose

import "errors"

// Sentinel errors for diagnosis request failures. Classification is
// first-match-wins: credential rejection, then throttling, then transport,
// then any other service-reported failure, with ErrUnknown as the fallback
// for failures that fit no category.
var (
	ErrNoCredential  = errors.New("no API credential configured")
	ErrInvalidAPIKey = errors.New("API key rejected by service")
	ErrRateLimited   = errors.New("request throttled by service")
	ErrNetwork       = errors.New("cannot reach diagnostic service")
	ErrService       = errors.New("diagnostic service error")
	ErrUnknown       = errors.New("unknown diagnosis failure")
)
