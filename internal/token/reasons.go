// Package token issues, validates and revokes the signed playback tokens
// that gate access to ready assets.
package token

// Stable reason codes. These are the only failure detail that ever reaches
// a caller, raw errors stay server-side.
const (
	ReasonAssetNotReady   = "asset_not_ready"
	ReasonMalformed       = "malformed"
	ReasonBadSignature    = "bad_signature"
	ReasonExpired         = "expired"
	ReasonNotYetValid     = "not_yet_valid"
	ReasonUnknownToken    = "unknown_token"
	ReasonPayloadMismatch = "payload_mismatch"
	ReasonBindingMismatch = "binding_mismatch"
	ReasonRateLimited     = "rate_limited"
)

// ReasonError carries a stable reason code alongside a human message. All
// issuance and validation rejections are one of these, never a bare error.
type ReasonError struct {
	Reason  string
	Message string
}

func (e *ReasonError) Error() string {
	if e.Message == "" {
		return e.Reason
	}

	return e.Reason + ": " + e.Message
}

func reject(reason, message string) error {
	return &ReasonError{Reason: reason, Message: message}
}

// Reason extracts the stable code from err, or internal_error if err is
// not a rejection produced by this package.
func Reason(err error) string {
	if re, ok := err.(*ReasonError); ok {
		return re.Reason
	}

	return "internal_error"
}
