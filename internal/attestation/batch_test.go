package attestation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olocus/internal/crypto"
	"olocus/internal/merkle"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

func batchFixture(t *testing.T, n int) (*crypto.MemoryKeyStore, []byte, []Attestation) {
	t.Helper()
	keys := crypto.NewMemoryKeyStore()
	pub, err := keys.GenerateSigningKey(context.Background(), "attester-key")
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)
	atts := make([]Attestation, n)
	for i := range atts {
		atts[i] = Attestation{
			ID:             domain.NewAttestationID(),
			RequestID:      domain.NewRequestID(),
			CredentialID:   domain.NewCredentialID(),
			ClaimantDID:    "did:olocus:alice",
			AttesterDID:    "did:olocus:bob",
			DistanceMeters: 20,
			OverlapSeconds: 1200,
			Proof:          OverlapProof{Mode: ProofCommitment, Commitment: crypto.Sum([]byte{byte(i)})},
			CreatedAt:      now,
		}
	}
	return keys, pub, atts
}

func TestBatchSignatureCoversRootAndMetadataOnly(t *testing.T) {
	keys, pub, atts := batchFixture(t, 5)
	ctx := context.Background()

	batch, err := BuildBatch(ctx, keys, "attester-key", "did:olocus:bob", atts, time.Now())
	require.NoError(t, err)
	require.NoError(t, VerifyBatch(*batch, pub))

	// Tampering with one entry leaves the signature intact but breaks the
	// entry's leaf against the signed root.
	tampered := *batch
	tampered.Attestations = append([]Attestation(nil), batch.Attestations...)
	tampered.Attestations[2].ID = domain.NewAttestationID()

	assert.True(t, crypto.Verify(pub, tampered.Digest().Bytes(), tampered.Signature),
		"metadata signature must still verify")
	err = VerifyBatch(tampered, pub)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAttestationBadProof))
}

func TestEntryProofVerifiesAgainstBatchRoot(t *testing.T) {
	keys, pub, atts := batchFixture(t, 7)
	ctx := context.Background()

	batch, err := BuildBatch(ctx, keys, "attester-key", "did:olocus:bob", atts, time.Now())
	require.NoError(t, err)
	require.NoError(t, VerifyBatch(*batch, pub))

	for _, a := range atts {
		proof, err := EntryProof(*batch, a.ID)
		require.NoError(t, err)
		assert.True(t, merkle.Verify(proof, batch.Root))
	}

	_, err = EntryProof(*batch, domain.NewAttestationID())
	require.Error(t, err)
}

func TestBuildBatchRejectsForeignAttestation(t *testing.T) {
	keys, _, atts := batchFixture(t, 3)
	atts[1].AttesterDID = "did:olocus:mallory"

	_, err := BuildBatch(context.Background(), keys, "attester-key", "did:olocus:bob", atts, time.Now())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

type batchCollector struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *batchCollector) sink(_ context.Context, b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *batchCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *batchCollector) get(i int) Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestBuilderFlushesAtMaxSize(t *testing.T) {
	keys, pub, atts := batchFixture(t, 4)

	collector := &batchCollector{}
	cfg := DefaultBatchConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 4
	cfg.Window = time.Hour // size trigger must win
	builder := NewBuilder(cfg, "did:olocus:bob", "attester-key", keys, collector.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = builder.Run(ctx)
	}()

	for _, a := range atts {
		require.NoError(t, builder.Add(a))
	}

	require.Eventually(t, func() bool { return collector.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	batch := collector.get(0)
	assert.Equal(t, 4, batch.Count)
	require.NoError(t, VerifyBatch(batch, pub))

	cancel()
	<-done
}

func TestBuilderFlushesOnWindowWithMinSize(t *testing.T) {
	keys, pub, atts := batchFixture(t, 3)

	collector := &batchCollector{}
	cfg := DefaultBatchConfig()
	cfg.MinSize = 3
	cfg.MaxSize = 20
	cfg.Window = 50 * time.Millisecond
	builder := NewBuilder(cfg, "did:olocus:bob", "attester-key", keys, collector.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = builder.Run(ctx)
	}()

	for _, a := range atts {
		require.NoError(t, builder.Add(a))
	}

	require.Eventually(t, func() bool { return collector.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, VerifyBatch(collector.get(0), pub))

	cancel()
	<-done
}

func TestBuilderHoldsBelowMinSize(t *testing.T) {
	keys, _, atts := batchFixture(t, 2)

	collector := &batchCollector{}
	cfg := DefaultBatchConfig()
	cfg.MinSize = 3
	cfg.Window = 30 * time.Millisecond
	builder := NewBuilder(cfg, "did:olocus:bob", "attester-key", keys, collector.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = builder.Run(ctx)
	}()

	for _, a := range atts {
		require.NoError(t, builder.Add(a))
	}

	// Several windows pass without reaching the minimum.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, collector.count())

	cancel()
	<-done
}

func TestBuilderAddFailsWhenBacklogFull(t *testing.T) {
	keys, _, _ := batchFixture(t, 0)

	cfg := DefaultBatchConfig()
	cfg.PendingCap = 50
	builder := NewBuilder(cfg, "did:olocus:bob", "attester-key", keys, func(context.Context, Batch) {})

	// Without a running Run loop nothing drains the inbox.
	var err error
	for i := 0; i < cfg.PendingCap; i++ {
		err = builder.Add(Attestation{ID: domain.NewAttestationID(), AttesterDID: "did:olocus:bob"})
		require.NoError(t, err)
	}
	err = builder.Add(Attestation{ID: domain.NewAttestationID(), AttesterDID: "did:olocus:bob"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAttestationBatchSize))
}
