package registrykit

import "errors"

var (
	// ErrUserNotFound indicates no user matched the supplied identifier.
	ErrUserNotFound = errors.New("account_store.user_not_found")
	// ErrTokenNotFound indicates no API token matched the supplied identifier or secret.
	ErrTokenNotFound = errors.New("account_store.token_not_found")
	// ErrTokenForbidden indicates the requesting user does not own the token.
	ErrTokenForbidden = errors.New("account_store.token_forbidden")
	// ErrPackageNotFound indicates no package matched the supplied name.
	ErrPackageNotFound = errors.New("package_repo.not_found")
	// ErrInvalidState indicates the OAuth state was missing, unknown, or already consumed.
	ErrInvalidState = errors.New("handshake.invalid_state")
	// ErrStateExpired indicates the OAuth state expired before the callback arrived.
	ErrStateExpired = errors.New("handshake.state_expired")
	// ErrInvalidPage indicates a non-positive feed page number.
	ErrInvalidPage = errors.New("feed.invalid_page")
)
