package models

import (
	"errors"
)

// Error kinds surfaced by the pipeline. Callers match them with errors.Is;
// the underlying cause is always wrapped alongside.
var (
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage error")
	ErrMetadata   = errors.New("metadata error")
	ErrQueue      = errors.New("queue error")
	ErrProcessing = errors.New("processing error")

	ErrValidation      = errors.New("validation error")
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrUnsupportedType = errors.New("unsupported file type")
)
