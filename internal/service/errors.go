package service

import "errors"

// Failure classes. Backends wrap every collaborator failure with exactly one
// of these so callers can classify with errors.Is.
var (
	ErrAuth   = errors.New("auth failure")
	ErrQuery  = errors.New("query failure")
	ErrUpload = errors.New("upload failure")
)
