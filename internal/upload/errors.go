package upload

import (
	"errors"
	"fmt"
)

// ErrGrantMismatch is returned when the authorizer hands back a different
// number of grants than files were requested.
var ErrGrantMismatch = errors.New("upload grant count does not match file count")

// FileError ties a failure to one file of a batch.
type FileError struct {
	Index    int
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %d (%s): %v", e.Index, e.Filename, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// StatusError is returned when the storage target rejects an upload.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
}
