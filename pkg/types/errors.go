package types

import "errors"

var (
	// ErrAnalyzer indicates the upstream analyzer call failed or returned malformed data
	ErrAnalyzer = errors.New("analyzer failure")
	// ErrImageDecode indicates the source image bytes could not be decoded
	ErrImageDecode = errors.New("image decode error")
	// ErrMaskDecode indicates the localization mask payload could not be decoded
	ErrMaskDecode = errors.New("mask decode error")
	// ErrMalformedAnnotation indicates annotation geometry outside the normalized range
	ErrMalformedAnnotation = errors.New("malformed annotation")
	// ErrPersistence indicates a history storage read or write failed
	ErrPersistence = errors.New("persistence error")
	// ErrExport indicates report rasterization or encoding failed
	ErrExport = errors.New("export error")
)
