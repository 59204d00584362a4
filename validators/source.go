// Package validators checks request input before it reaches the core
package validators

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/viper"
)

var (
	ErrNoSource          = errors.New("no source file provided")
	ErrSourceTooLarge    = errors.New("source file too large")
	ErrSourceUnsupported = errors.New("unsupported source file type")
	ErrSourceMissing     = errors.New("source file is not accessible")
)

// SourceFile verifies that an upload payload points at an existing video
// file within the configured size limit. Checked before the work item is
// enqueued so the pipeline never burns retries on garbage input.
func SourceFile(path string) (int64, error) {
	if path == "" {
		return 0, ErrNoSource
	}

	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		return 0, fmt.Errorf("%w, %s", ErrSourceMissing, path)
	}

	if stat.Size() > viper.GetInt64("upload.max_size") {
		return 0, ErrSourceTooLarge
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to detect source file type, %w", err)
	}

	if !strings.HasPrefix(mime.String(), "video/") {
		return 0, ErrSourceUnsupported
	}

	return stat.Size(), nil
}
