package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrAuthFailure     = errors.New("authentication failed")
	ErrRemoteTransport = errors.New("parse service unreachable")
	ErrRemoteRejected  = errors.New("parse service rejected request")
	ErrInvalidRequest  = errors.New("invalid request")
	// ErrPollFailed marks a reconciliation poll that could not reach a verdict.
	// The local state is retained.
	ErrPollFailed = errors.New("status poll failed")
)
