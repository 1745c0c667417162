package session

import xerrors "defiers-auth/internal/pkg/errors"

var (
	ErrSessionNotFound    = xerrors.ErrSessionNotFound
	ErrBackendUnavailable = xerrors.ErrBackendUnavailable
	ErrCorruptRecord      = xerrors.ErrCorruptRecord
)
