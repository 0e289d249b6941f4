// Package dingcrypto implements the DingTalk callback and robot authentication layer.
//
// Two independent components live here:
//
//   - Codec signs, encrypts and decrypts HTTP callback payloads (event
//     subscriptions). Signatures are SHA1 over the lexically sorted
//     token/timestamp/nonce/ciphertext strings; payloads are AES-256-CBC with
//     the IV fixed to the first 16 key bytes, PKCS#7 padded, framed as
//     random(16) | len(4, big-endian) | body | app key.
//   - RobotVerifier checks the timestamp/sign headers DingTalk attaches to
//     robot (bot) message callbacks: base64(HMAC-SHA256(secret,
//     timestamp + "\n" + secret)), accepted within a one hour window.
//
// # Wire constraints
//
// The fixed IV, the 16 byte random prefix and the trailing app key are part of
// the platform protocol and must be reproduced bit-for-bit; they are not
// tunable.
//
// # Errors
//
// All failures wrap one of the sentinel errors in errors.go and can be matched
// with errors.Is. Error messages never include key material, expected
// signatures or the recovered application identifier.
//
// # Concurrency
//
// Codec and RobotVerifier are immutable after construction and safe for
// concurrent use without locking.
package dingcrypto
