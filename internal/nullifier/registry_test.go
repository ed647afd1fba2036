package nullifier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

func TestComputeBindsAllInputs(t *testing.T) {
	visitID := domain.NewVisitID()
	did := domain.DID("did:olocus:alice")
	salt := []byte("marketplace-1")

	n1 := Compute(visitID, did, salt)
	n2 := Compute(visitID, did, salt)
	assert.Equal(t, n1, n2, "same triple must yield the same nullifier")

	assert.NotEqual(t, n1, Compute(domain.NewVisitID(), did, salt))
	assert.NotEqual(t, n1, Compute(visitID, "did:olocus:bob", salt))
	assert.NotEqual(t, n1, Compute(visitID, did, []byte("marketplace-2")))
}

func TestSecondRegistrationRejected(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()

	n := Compute(domain.NewVisitID(), "did:olocus:alice", []byte("salt"))

	ok, err := registry.CanClaim(ctx, n)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, registry.Register(ctx, n))

	ok, err = registry.CanClaim(ctx, n)
	require.NoError(t, err)
	assert.False(t, ok)

	err = registry.Register(ctx, n)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDoubleClaim))
	assert.Equal(t, dErrors.Code(4001), dErrors.CodeOf(err))
}

func TestConcurrentRegistrationsAdmitExactlyOne(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()
	n := Compute(domain.NewVisitID(), "did:olocus:alice", []byte("salt"))

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = registry.Register(ctx, n)
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeDoubleClaim))
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestDistinctSaltsAreIndependentClaims(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry()
	visitID := domain.NewVisitID()

	require.NoError(t, registry.Register(ctx, Compute(visitID, "did:olocus:alice", []byte("a"))))
	require.NoError(t, registry.Register(ctx, Compute(visitID, "did:olocus:alice", []byte("b"))))
}
