package jwt

import (
	"errors"

	xerrors "defiers-auth/internal/pkg/errors"
)

var (
	// ErrInvalidCredential covers bad signatures, malformed tokens and algorithm mismatch.
	ErrInvalidCredential = xerrors.ErrInvalidCredential
	// ErrExpiredCredential is only returned when the signature checked out.
	ErrExpiredCredential = xerrors.ErrExpiredCredential

	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrEmptySecret          = errors.New("jwt secret must not be empty")
	ErrInvalidTokenType     = errors.New("token type must be access or refresh")
)
