package domain

import "errors"

// Sentinel errors shared across layers. Callers classify failures with
// errors.Is and wrap these with fmt.Errorf("%w: ...") to add detail.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrCorrupt        = errors.New("corrupt batch record")
	ErrDirNotWritable = errors.New("directory not writable")
	ErrConflict       = errors.New("conflict")
)
