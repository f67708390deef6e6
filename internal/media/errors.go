package media

import "errors"

var (
	// ErrFileTooLarge indicates the file exceeds the provider limit for its kind.
	ErrFileTooLarge = errors.New("media file too large")
	// ErrEmptyFile indicates a zero byte upload.
	ErrEmptyFile = errors.New("media file is empty")
)
