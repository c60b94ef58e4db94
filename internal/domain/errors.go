package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrBatchExists   = errors.New("batch already exists")
	ErrPostNotFound  = errors.New("post not found")
)

// ValidationError is returned when a file's sniffed type is not accepted.
type ValidationError struct {
	File     string
	MIMEType string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("File %s has unsupported MIME type %s", e.File, e.MIMEType)
}

// TranscodeError wraps a failure of the transcoding engine.
type TranscodeError struct {
	File string
	Err  error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.File, e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// FileFailure classifies err. It returns the reason to record on the file
// and true when err only invalidates a single file; any other error is fatal.
func FileFailure(err error) (string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error(), true
	}
	var terr *TranscodeError
	if errors.As(err, &terr) {
		return MessageCompressErr, true
	}
	return "", false
}
