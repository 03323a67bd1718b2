package domain

var (
	ErrEmptyInput         = errString("empty input")
	ErrRateLimited        = errString("RateLimited")
	ErrAbuseDetected      = errString("AbuseDetected")
	ErrBackendUnavailable = errString("BackendUnavailable")
	ErrInvalidVerdict     = errString("invalid verdict")
	ErrNotFound           = errString("not found")
	// ErrDuplicateScan is informational: the identifier is already in history.
	ErrDuplicateScan = errString("duplicate scan")
)

type errString string

func (e errString) Error() string { return string(e) }
