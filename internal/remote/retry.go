package remote

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retrying wraps a Client with per-call timeouts and a small number of
// internal retries for transient failures only. Uploads move whole video
// files and get the long timeout, everything else the short one.
type Retrying struct {
	Inner Client

	Tries        int
	Backoff      time.Duration
	ShortTimeout time.Duration
	LongTimeout  time.Duration
}

func WithRetries(inner Client) *Retrying {
	return &Retrying{
		Inner:        inner,
		Tries:        3,
		Backoff:      2 * time.Second,
		ShortTimeout: 15 * time.Second,
		LongTimeout:  10 * time.Minute,
	}
}

func (r *Retrying) Upload(ctx context.Context, sourcePath string, metadata map[string]string) (*UploadResult, error) {
	var res *UploadResult

	err := r.do(ctx, r.LongTimeout, "upload", func(ctx context.Context) error {
		var err error
		res, err = r.Inner.Upload(ctx, sourcePath, metadata)
		return err
	})

	return res, err
}

func (r *Retrying) GetStatus(ctx context.Context, remoteID string) (*StatusResult, error) {
	var res *StatusResult

	err := r.do(ctx, r.ShortTimeout, "status", func(ctx context.Context) error {
		var err error
		res, err = r.Inner.GetStatus(ctx, remoteID)
		return err
	})

	return res, err
}

func (r *Retrying) Delete(ctx context.Context, remoteID string) error {
	return r.do(ctx, r.ShortTimeout, "delete", func(ctx context.Context) error {
		return r.Inner.Delete(ctx, remoteID)
	})
}

func (r *Retrying) List(ctx context.Context, pageSize int32) ([]RemoteObject, error) {
	var res []RemoteObject

	err := r.do(ctx, r.ShortTimeout, "list", func(ctx context.Context) error {
		var err error
		res, err = r.Inner.List(ctx, pageSize)
		return err
	})

	return res, err
}

func (r *Retrying) SignedURL(ctx context.Context, remoteID string, expiry time.Duration) (string, error) {
	var url string

	err := r.do(ctx, r.ShortTimeout, "signed_url", func(ctx context.Context) error {
		var err error
		url, err = r.Inner.SignedURL(ctx, remoteID, expiry)
		return err
	})

	return url, err
}

func (r *Retrying) do(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	delay := r.Backoff

	var err error
	for attempt := 1; attempt <= r.Tries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx)
		cancel()

		if err == nil || !IsRetryable(err) {
			return err
		}

		if attempt == r.Tries {
			break
		}

		zap.L().Warn("Transient remote error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
	}

	return err
}
