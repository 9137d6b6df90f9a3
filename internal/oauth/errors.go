package oauth

import "errors"

var (
	// ErrNotConnected means the user has no stored calendar credential.
	ErrNotConnected = errors.New("calendar not connected")

	// ErrCorruptCredential means a stored token failed to decrypt.
	ErrCorruptCredential = errors.New("stored calendar credential is invalid")

	// ErrMissingRefreshToken is returned when neither the provider nor the
	// existing record supplies a refresh token. The user must re-consent.
	ErrMissingRefreshToken = errors.New("missing refresh token, re-consent with offline access")

	// ErrMissingAccessToken is returned when a token grant carries no access token.
	ErrMissingAccessToken = errors.New("missing access token")
)
