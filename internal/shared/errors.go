package shared

import "errors"

var (
	// ErrInvalidCredentials indicates the presented bearer token was rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoCredentials indicates the request carried neither a bearer token nor a session.
	ErrNoCredentials = errors.New("no credentials")
)
