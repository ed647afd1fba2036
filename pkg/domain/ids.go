// Package domain defines the typed identifiers shared across the protocol
// engine. Distinct ID types keep a visit ID from ever being passed where an
// anchor ID is expected; the compiler enforces what code review cannot.
package domain

import (
	"github.com/google/uuid"

	dErrors "olocus/pkg/domain-errors"
)

type (
	ChainID       uuid.UUID
	VisitID       uuid.UUID
	AnchorID      uuid.UUID
	CredentialID  uuid.UUID
	FriendshipID  uuid.UUID
	RequestID     uuid.UUID
	AttestationID uuid.UUID
	BatchID       uuid.UUID
)

func NewChainID() ChainID             { return ChainID(uuid.New()) }
func NewVisitID() VisitID             { return VisitID(uuid.New()) }
func NewAnchorID() AnchorID           { return AnchorID(uuid.New()) }
func NewCredentialID() CredentialID   { return CredentialID(uuid.New()) }
func NewFriendshipID() FriendshipID   { return FriendshipID(uuid.New()) }
func NewRequestID() RequestID         { return RequestID(uuid.New()) }
func NewAttestationID() AttestationID { return AttestationID(uuid.New()) }
func NewBatchID() BatchID             { return BatchID(uuid.New()) }

func (id ChainID) String() string       { return uuid.UUID(id).String() }
func (id VisitID) String() string       { return uuid.UUID(id).String() }
func (id AnchorID) String() string      { return uuid.UUID(id).String() }
func (id CredentialID) String() string  { return uuid.UUID(id).String() }
func (id FriendshipID) String() string  { return uuid.UUID(id).String() }
func (id RequestID) String() string     { return uuid.UUID(id).String() }
func (id AttestationID) String() string { return uuid.UUID(id).String() }
func (id BatchID) String() string       { return uuid.UUID(id).String() }

func (id ChainID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id VisitID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id AnchorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id FriendshipID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AttestationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps IDs as canonical UUID strings in JSON and log
// output instead of raw byte arrays.
func (id ChainID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id VisitID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id AnchorID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id CredentialID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id FriendshipID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id RequestID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id AttestationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id BatchID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }

func (id *ChainID) UnmarshalText(b []byte) error {
	parsed, err := ParseChainID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *VisitID) UnmarshalText(b []byte) error {
	parsed, err := ParseVisitID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AnchorID) UnmarshalText(b []byte) error {
	parsed, err := ParseAnchorID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *CredentialID) UnmarshalText(b []byte) error {
	parsed, err := ParseCredentialID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *FriendshipID) UnmarshalText(b []byte) error {
	parsed, err := ParseFriendshipID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RequestID) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AttestationID) UnmarshalText(b []byte) error {
	parsed, err := ParseAttestationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *BatchID) UnmarshalText(b []byte) error {
	parsed, err := ParseBatchID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Rejection happens at trust boundaries so internal code can
// assume well-formed identifiers.
func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid uuid")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil uuid")
	}
	return parsed, nil
}

func ParseChainID(raw string) (ChainID, error) {
	u, err := parseUUID(raw)
	return ChainID(u), err
}

func ParseVisitID(raw string) (VisitID, error) {
	u, err := parseUUID(raw)
	return VisitID(u), err
}

func ParseAnchorID(raw string) (AnchorID, error) {
	u, err := parseUUID(raw)
	return AnchorID(u), err
}

func ParseCredentialID(raw string) (CredentialID, error) {
	u, err := parseUUID(raw)
	return CredentialID(u), err
}

func ParseFriendshipID(raw string) (FriendshipID, error) {
	u, err := parseUUID(raw)
	return FriendshipID(u), err
}

func ParseRequestID(raw string) (RequestID, error) {
	u, err := parseUUID(raw)
	return RequestID(u), err
}

func ParseAttestationID(raw string) (AttestationID, error) {
	u, err := parseUUID(raw)
	return AttestationID(u), err
}

func ParseBatchID(raw string) (BatchID, error) {
	u, err := parseUUID(raw)
	return BatchID(u), err
}
