package recorders

import "errors"

var (
	ErrRecorderExist          = errors.New("recorder is exist")
	ErrRecorderNotExist       = errors.New("recorder is not exist")
	ErrRecorderAlreadyStarted = errors.New("recorder already started")
	ErrArchiveUnavailable     = errors.New("archive root is not available")
	ErrSourceExited           = errors.New("source exited unexpectedly")
)
