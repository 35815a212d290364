package rules

import "errors"

// ErrNotFound is returned by Store lookups when the requested id is absent.
var ErrNotFound = errors.New("not found")

// Errors that abort a whole execution. They wrap ErrNotFound.
var (
	ErrPackNotFound   = notFound("pack not found")
	ErrTargetNotFound = notFound("target not found")
	ErrRuleNotFound   = notFound("rule not found")
)

type notFoundError struct {
	msg string
}

func notFound(msg string) error {
	return &notFoundError{msg: msg}
}

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Unwrap() error { return ErrNotFound }
