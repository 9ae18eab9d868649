package ingest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("imu session not found")
	ErrForbidden = errors.New("session belongs to different user")
	ErrInvalid   = errors.New("invalid request")
)

// SizeMismatchError rejects a finalize whose claimed byte size differs from
// what the store actually holds. The client must re-upload before retrying.
type SizeMismatchError struct {
	Filename string
	Claimed  int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("file size mismatch for %s: claimed %d, actual %d", e.Filename, e.Claimed, e.Actual)
}

// MissingFilesError rejects a finalize listing files the store has never
// seen.
type MissingFilesError struct {
	Filenames []string
}

func (e *MissingFilesError) Error() string {
	return "files not found in blob storage: " + strings.Join(e.Filenames, ", ")
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}
