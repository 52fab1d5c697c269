package models

import "errors"

// Store-level errors shared by the postgres and in-memory stores.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
