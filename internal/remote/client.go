// Package remote abstracts the streaming provider the pipeline uploads to.
// The core only depends on the Client interface, the S3 implementation is
// one provider among possible others.
package remote

import (
	"context"
	"errors"
	"time"

	"bitwise74/stream-vault/internal/model"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// ErrNotFound is returned when the provider has no asset under the given
// remote ID. Reconciliation treats it as an orphan signal, never as a
// reason to delete anything locally.
var ErrNotFound = errors.New("remote asset not found")

// UploadResult is what the provider reports after accepting a file.
type UploadResult struct {
	RemoteID     string
	Status       model.Status
	Duration     float64
	ThumbnailURL string
}

// StatusResult mirrors the provider's view of an already uploaded asset.
type StatusResult struct {
	Status       model.Status
	Duration     float64
	ThumbnailURL string
}

// RemoteObject is one entry of the provider's inventory listing.
type RemoteObject struct {
	RemoteID string
	Size     int64
}

type Client interface {
	Upload(ctx context.Context, sourcePath string, metadata map[string]string) (*UploadResult, error)
	GetStatus(ctx context.Context, remoteID string) (*StatusResult, error)
	Delete(ctx context.Context, remoteID string) error
	List(ctx context.Context, pageSize int32) ([]RemoteObject, error)
	SignedURL(ctx context.Context, remoteID string, expiry time.Duration) (string, error)
}

// retryableCodes are provider error codes worth retrying on top of plain
// HTTP 5xx/429 responses
var retryableCodes = map[string]bool{
	"InternalError":       true,
	"ServiceUnavailable":  true,
	"SlowDown":            true,
	"RequestTimeout":      true,
	"Throttling":          true,
	"ThrottlingException": true,
	"TooManyRequests":     true,
}

// IsRetryable reports whether err is a transient remote failure (network
// errors, 5xx, 429). Anything else from the provider is permanent and must
// not be retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		return code >= 500 || code == 429
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.ErrorCode()]
	}

	// Plain transport errors (connection reset, DNS) are worth another try
	return true
}

// IsPermanent reports whether err is a provider rejection that retrying
// can't fix, a 4xx other than 429.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotFound) {
		return true
	}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		return code >= 400 && code < 500 && code != 429
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return !retryableCodes[apiErr.ErrorCode()]
	}

	return false
}
