package domain

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLinkExpired        = errors.New("magic link expired or already used")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrUnknownKind        = errors.New("unknown value kind")
	ErrUnknownAttribute   = errors.New("attribute is not declared by the domain model")
	ErrNotFilterable      = errors.New("value kind is not filterable")
)
