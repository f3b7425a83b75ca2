package job

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrOracleUnavailable = errors.New("classifier not configured")
	ErrNotReady          = errors.New("job not completed yet")
	ErrUnknownArtifact   = errors.New("unknown download type")
	ErrArtifactMissing   = errors.New("file not found")
	ErrNoDocuments       = errors.New("no PDFs found in upload")

	errCancelled = errors.New("cancel requested")
	errShutdown  = errors.New("server shutting down")
)
