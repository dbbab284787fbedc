package ceremony

import "errors"

var (
	// ErrOriginMismatch is returned when the origin embedded in a client
	// response differs from the configured relying-party origin.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrRPIDMismatch is returned when the relying-party ID hash in the
	// authenticator data does not match the configured relying party.
	ErrRPIDMismatch = errors.New("relying party id mismatch")

	// ErrSignatureVerification covers failed cryptographic verification and
	// malformed client responses that never reach the crypto path.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrCredentialNotFound is returned when the credential named by an
	// assertion is not registered.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCounterRegression is returned when an assertion carries a signature
	// counter that does not advance past the stored one. This is the cloned
	// authenticator signal: the attempt is rejected even when the signature
	// itself is valid.
	ErrCounterRegression = errors.New("signature counter regression detected")
)
