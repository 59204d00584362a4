package api

import (
	"net/http"

	"bitwise74/stream-vault/internal/authz"
	"bitwise74/stream-vault/internal/token"
)

// reasonStatus maps the stable reason codes onto HTTP statuses. Anything
// unknown falls through to 500 so internal failures never masquerade as
// user errors.
func reasonStatus(reason string) int {
	switch reason {
	case token.ReasonMalformed:
		return http.StatusBadRequest
	case token.ReasonBadSignature,
		token.ReasonExpired,
		token.ReasonNotYetValid,
		token.ReasonUnknownToken,
		token.ReasonPayloadMismatch,
		token.ReasonBindingMismatch:
		return http.StatusUnauthorized
	case token.ReasonRateLimited:
		return http.StatusTooManyRequests
	case token.ReasonAssetNotReady:
		return http.StatusConflict
	case authz.ReasonInvalidCollection:
		return http.StatusNotFound
	case authz.ReasonNotEnrolled,
		authz.ReasonCollectionHidden,
		authz.ReasonInsufficientPerms:
		return http.StatusForbidden
	}

	return http.StatusInternalServerError
}
