package auth

import "errors"

var (
	ErrNotFound            = errors.New("auth: not found")
	ErrAlreadyExists       = errors.New("auth: already exists")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrAlreadyLinked       = errors.New("auth: account already linked to another remote identity")
	ErrRemoteIdentityTaken = errors.New("auth: remote identity already linked to another account")
	ErrInvalidToken        = errors.New("auth: invalid token")
)
