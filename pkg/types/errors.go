package types

import "errors"

// Error classes. Callers classify failures with errors.Is.
var (
	// ErrConfiguration covers missing or invalid paths and ratio arguments.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrDetectorInit means the face detection model could not be loaded.
	ErrDetectorInit = errors.New("detector initialization failed")
	// ErrDecode means a source image could not be opened or decoded.
	ErrDecode = errors.New("image decode failed")
	// ErrSave means a cropped image could not be written.
	ErrSave = errors.New("image save failed")
)
