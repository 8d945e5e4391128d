// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincrypto wraps the two primitives the protocol fixes:
// SHA-256 hashing and Ed25519 signing, both provided by the standard
// library. Every hash and signature in the system goes through here.
package chaincrypto

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// PrivateKeySize and PublicKeySize mirror ed25519's, named for callers that
// don't want to import crypto/ed25519 directly.
const (
	PrivateKeySize = ed25519.PrivateKeySize
	PublicKeySize  = ed25519.PublicKeySize
	SignatureSize  = ed25519.SignatureSize
)

// Hash returns SHA-256(b).
func Hash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// GenerateKey creates a new Ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// Sign signs message with the given private key.
func Sign(priv ed25519.PrivateKey, message []byte) [64]byte {
	sig := ed25519.Sign(priv, message)
	var out [64]byte
	copy(out[:], sig)
	return out
}

// Verify reports whether sig is a valid Ed25519 signature of message under
// pub.
func Verify(pub ed25519.PublicKey, message []byte, sig [64]byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, sig[:])
}
