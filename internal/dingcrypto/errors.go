package dingcrypto

import "errors"

var (
	// ErrConfiguration is returned by constructors when secret material is
	// missing or malformed. It is fatal at startup.
	ErrConfiguration = errors.New("crypto configuration invalid")

	// ErrSignature means the caller could not prove it holds the shared token.
	ErrSignature = errors.New("signature verification failed")

	// ErrIdentifierMismatch means the payload decrypted cleanly but was
	// addressed to a different application.
	ErrIdentifierMismatch = errors.New("message not intended for this application")

	// ErrDecode covers malformed base64, ciphertext length, frame layout and
	// non UTF-8 bodies.
	ErrDecode = errors.New("malformed ciphertext")

	// ErrPadding means the PKCS#7 trailer was not valid after decryption.
	ErrPadding = errors.New("invalid padding")

	// ErrTimestampInvalid and ErrTimestampExpired are robot verification
	// reasons. Verify folds them into false; Check exposes them for logging.
	ErrTimestampInvalid = errors.New("invalid signature timestamp")
	ErrTimestampExpired = errors.New("signature timestamp outside allowed window")
)
