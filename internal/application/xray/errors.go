package xray

import "errors"

var (
	ErrNotImage     = errors.New("file must be an image")
	ErrNoFiles      = errors.New("no files provided")
	ErrTooManyFiles = errors.New("too many files")
	ErrInvalidImage = errors.New("image could not be processed")
)
