package model

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrStorage       = errors.New("storage failure")
	ErrTradingClosed = errors.New("trading is closed")
	ErrDuplicateSeq  = errors.New("duplicate sequence key")
	ErrDuplicateKey  = errors.New("duplicate dedupe key")
)
