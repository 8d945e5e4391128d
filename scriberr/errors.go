// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scriberr defines the categorical error kinds returned by
// validation and store operations across scribechain: a typed code a
// caller can switch on, plus a human Description for logs.
package scriberr

import "fmt"

// ErrorCode identifies a specific kind of rule violation.
type ErrorCode int

const (
	// ErrMalformedEncoding indicates the canonical form could not be parsed.
	ErrMalformedEncoding ErrorCode = iota

	// ErrInvalidSignature indicates a signature failed to verify.
	ErrInvalidSignature

	// ErrNonceStale indicates a transaction's nonce is behind the account's
	// expected next nonce.
	ErrNonceStale

	// ErrNonceFutureGap indicates a transaction's nonce is ahead of the
	// account's expected next nonce, leaving a gap.
	ErrNonceFutureGap

	// ErrInsufficientBalance indicates an account cannot cover its debits.
	ErrInsufficientBalance

	// ErrFeeBelowMinimum indicates gas_fee is below MIN_GAS_FEE.
	ErrFeeBelowMinimum

	// ErrReferenceNotFound indicates reply_to or an endorse target does not
	// resolve to a known, confirmed transaction.
	ErrReferenceNotFound

	// ErrReferenceWrongKind indicates a reference resolved to a transaction
	// of the wrong kind (e.g. endorsing a transfer).
	ErrReferenceWrongKind

	// ErrLimitExceeded indicates a body, block size, or mempool capacity
	// limit was exceeded.
	ErrLimitExceeded

	// ErrConsensusViolation indicates a block-level consensus rule failed:
	// bad PoW, wrong difficulty, timestamp out of bounds, a Merkle or state
	// root mismatch, or a malformed coinbase.
	ErrConsensusViolation

	// ErrUnknownParent indicates a block's prev_hash is not a known block.
	ErrUnknownParent

	// ErrReorgTooDeep indicates a reorganization would exceed the
	// configured maximum depth.
	ErrReorgTooDeep

	// ErrPeerProtocol indicates a malformed message or an out-of-order or
	// incompatible peer handshake.
	ErrPeerProtocol
)

var errorCodeStrings = map[ErrorCode]string{
	ErrMalformedEncoding:   "ErrMalformedEncoding",
	ErrInvalidSignature:    "ErrInvalidSignature",
	ErrNonceStale:          "ErrNonceStale",
	ErrNonceFutureGap:      "ErrNonceFutureGap",
	ErrInsufficientBalance: "ErrInsufficientBalance",
	ErrFeeBelowMinimum:     "ErrFeeBelowMinimum",
	ErrReferenceNotFound:   "ErrReferenceNotFound",
	ErrReferenceWrongKind:  "ErrReferenceWrongKind",
	ErrLimitExceeded:       "ErrLimitExceeded",
	ErrConsensusViolation:  "ErrConsensusViolation",
	ErrUnknownParent:       "ErrUnknownParent",
	ErrReorgTooDeep:        "ErrReorgTooDeep",
	ErrPeerProtocol:        "ErrPeerProtocol",
}

// String returns the stringized name of the error code.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation, with the kind of rule that was
// violated and a human-readable description of the violation.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// New creates a RuleError given a set of arguments and formats the
// description according to the supplied format string.
func New(c ErrorCode, format string, args ...interface{}) RuleError {
	return RuleError{ErrorCode: c, Description: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a RuleError with the given code, unwrapping
// github.com/pkg/errors-style causes along the way.
func Is(err error, code ErrorCode) bool {
	type causer interface{ Cause() error }
	for err != nil {
		if rerr, ok := err.(RuleError); ok {
			return rerr.ErrorCode == code
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}
