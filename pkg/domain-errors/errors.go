// Package dErrors carries machine-readable protocol error codes across
// service boundaries. Codes are namespaced by domain so peers and
// marketplaces can react without parsing messages: 1xxx friendship,
// 2xxx attestation, 3xxx device/security, 4xxx claim/nullifier,
// 5xxx anchor/blockchain, 6xxx network/sync. The 9xxx range is reserved
// for transport-generic conditions.
package dErrors

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeInvalidInput Code = 9400
	CodeUnauthorized Code = 9401
	CodeNotFound     Code = 9404
	CodeConflict     Code = 9409
	CodeInternal     Code = 9500
)

// Friendship (1xxx).
const (
	CodeFriendshipExpired      Code = 1001
	CodeFriendshipBadSignature Code = 1002
	CodeFriendshipMismatch     Code = 1003
	CodeFriendshipDuplicate    Code = 1004
	CodeFriendshipNotFound     Code = 1005
)

// Attestation (2xxx).
const (
	CodeAttestationExpired      Code = 2001
	CodeAttestationBadSignature Code = 2002
	CodeAttestationTooFar       Code = 2003
	CodeAttestationLowOverlap   Code = 2004
	CodeAttestationNoRequest    Code = 2005
	CodeAttestationBatchSize    Code = 2006
	CodeAttestationBadProof     Code = 2007
)

// Device / security (3xxx).
const (
	CodeDeviceTampered Code = 3001
	CodeIntegrity      Code = 3002
	CodeKeyUnavailable Code = 3003
)

// Claim / nullifier (4xxx).
const (
	CodeDoubleClaim      Code = 4001
	CodeClaimNotAnchored Code = 4002
	CodeClaimExpired     Code = 4003
)

// Anchor / blockchain (5xxx).
const (
	CodeAnchorDuplicateDay Code = 5001
	CodeAnchorLate         Code = 5002
	CodeAnchorBacklogFull  Code = 5003
	CodeTimestampAuthority Code = 5004
	CodeChainSubmission    Code = 5005
)

// Network / sync (6xxx).
const (
	CodeNetwork   Code = 6001
	CodeNeedsSync Code = 6002
)

// Error is the single concrete error type crossing package boundaries.
// Wrapped causes stay reachable through errors.Is/As.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and context to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var coded *Error
	for errors.As(err, &coded) {
		if coded.Code == code {
			return true
		}
		err = coded.Err
		coded = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error is not coded.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
