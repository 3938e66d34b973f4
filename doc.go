// Package authcore is an embeddable authentication and session-security
// engine for services with several distinct login populations. It covers
// password hashing (argon2id with salt and pepper), login with brute-force
// lockout and optional TOTP challenges, rotating single-use refresh tokens
// with reuse detection, and fixed-window rate limiting, all behind one
// Engine assembled via the Builder.
//
// Storage splits in two: credentials live behind the host-supplied
// CredentialStore, while refresh tokens and shared rate-limit counters live
// in Redis. Access tokens are JWTs minted by the bundled jwt package unless
// the host supplies its own Signer.
package authcore
