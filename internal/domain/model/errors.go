package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrInvalidFilename = errors.New("filename has no timestamp prefix")
)
