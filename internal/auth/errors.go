package auth

import "errors"

var (
	// ErrUnauthorized is returned for any token that cannot be trusted:
	// missing or malformed header, unknown key id, bad signature, expired or
	// otherwise invalid claims.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrKeySetUnavailable is returned when the signing keys could not be
	// fetched. It says nothing about the token and is safe to retry.
	ErrKeySetUnavailable = errors.New("signing key set unavailable")
)
