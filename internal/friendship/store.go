package friendship

import (
	"context"
	"sync"

	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

var ErrCredentialNotFound = dErrors.New(dErrors.CodeFriendshipNotFound, "friendship credential not found")

// Store persists friendship credentials. Credential ids are globally
// unique and each DID pair holds at most one active credential.
type Store interface {
	SaveCredential(ctx context.Context, cred Credential) error
	CredentialByID(ctx context.Context, id domain.FriendshipID) (Credential, error)
	// CredentialByPair looks up the credential for a pair in either order.
	CredentialByPair(ctx context.Context, a, b domain.DID) (Credential, error)
	CredentialsForDID(ctx context.Context, did domain.DID) ([]Credential, error)
}

type pairKey struct {
	a, b domain.DID
}

func keyFor(a, b domain.DID) pairKey {
	a, b = domain.OrderDIDs(a, b)
	return pairKey{a: a, b: b}
}

// InMemoryStore keeps credentials in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[domain.FriendshipID]Credential
	byPair map[pairKey]domain.FriendshipID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[domain.FriendshipID]Credential),
		byPair: make(map[pairKey]domain.FriendshipID),
	}
}

func (s *InMemoryStore) SaveCredential(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyFor(cred.ParticipantA, cred.ParticipantB)
	if existingID, ok := s.byPair[key]; ok && existingID != cred.ID {
		return dErrors.Newf(dErrors.CodeFriendshipDuplicate,
			"pair %s / %s already has credential %s", cred.ParticipantA, cred.ParticipantB, existingID)
	}
	s.byID[cred.ID] = cred
	s.byPair[key] = cred.ID
	return nil
}

func (s *InMemoryStore) CredentialByID(_ context.Context, id domain.FriendshipID) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cred, ok := s.byID[id]; ok {
		return cred, nil
	}
	return Credential{}, ErrCredentialNotFound
}

func (s *InMemoryStore) CredentialByPair(_ context.Context, a, b domain.DID) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byPair[keyFor(a, b)]; ok {
		return s.byID[id], nil
	}
	return Credential{}, ErrCredentialNotFound
}

func (s *InMemoryStore) CredentialsForDID(_ context.Context, did domain.DID) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Credential
	for _, cred := range s.byID {
		if cred.Involves(did) {
			out = append(out, cred)
		}
	}
	return out, nil
}
