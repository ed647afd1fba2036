package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olocus/internal/attestation"
	"olocus/internal/friendship"
	"olocus/pkg/domain"
)

func rated(level friendship.Level, tampered bool, distance float64, overlap int64) RatedAttestation {
	return RatedAttestation{
		Attestation: attestation.Attestation{
			ID:             domain.NewAttestationID(),
			Tampered:       tampered,
			DistanceMeters: distance,
			OverlapSeconds: overlap,
		},
		Level: level,
	}
}

func TestCloseFriendLongOverlapIsClampedToOne(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	// 1.0 * 1.0 * 1.2 = 1.2 per attestation, mean 1.2, clamped to 1.0.
	score := scorer.Score([]RatedAttestation{
		rated(friendship.LevelClose, false, 20, 7200),
		rated(friendship.LevelClose, false, 30, 7200),
	})
	assert.Equal(t, 1.0, score.Value)
	assert.Equal(t, StatusStrong, score.Status)
}

func TestScoreNeverNegative(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	// 1.0 * 0.5 - 0.5 - 0.2 = -0.2, mean clamped to 0.
	score := scorer.Score([]RatedAttestation{
		rated(friendship.LevelColleague, true, 500, 600),
	})
	assert.Equal(t, 0.0, score.Value)
	assert.Equal(t, StatusInsufficient, score.Status)
}

func TestStatusThresholds(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	// Acquaintance, no penalties, no bonus: 0.7 → SUFFICIENT.
	score := scorer.Score([]RatedAttestation{
		rated(friendship.LevelAcquaintance, false, 20, 600),
	})
	assert.InDelta(t, 0.7, score.Value, 1e-9)
	assert.Equal(t, StatusSufficient, score.Status)

	// Close friend, no penalties: 1.0 → STRONG.
	score = scorer.Score([]RatedAttestation{
		rated(friendship.LevelClose, false, 20, 600),
	})
	assert.Equal(t, StatusStrong, score.Status)

	// Colleague only: 0.5 → INSUFFICIENT.
	score = scorer.Score([]RatedAttestation{
		rated(friendship.LevelColleague, false, 20, 600),
	})
	assert.Equal(t, StatusInsufficient, score.Status)
}

func TestPenaltiesAndReasons(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	// 1.0 * 1.0 - 0.5 (tampered) - 0.2 (far) = 0.3.
	score := scorer.Score([]RatedAttestation{
		rated(friendship.LevelClose, true, 150, 600),
	})
	assert.InDelta(t, 0.3, score.Value, 1e-9)
	require.Len(t, score.Components, 1)
	assert.ElementsMatch(t, []string{"tampered_device", "far_distance"}, score.Components[0].Reasons)
}

func TestMeanAcrossMixedAttesters(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	// (1.0 + 0.7 + 0.5) / 3 = 0.7333...
	score := scorer.Score([]RatedAttestation{
		rated(friendship.LevelClose, false, 20, 600),
		rated(friendship.LevelAcquaintance, false, 20, 600),
		rated(friendship.LevelColleague, false, 20, 600),
	})
	assert.InDelta(t, 0.7333, score.Value, 1e-3)
	assert.Equal(t, StatusSufficient, score.Status)
}

func TestRejectTamperedExcludesInsteadOfPenalizing(t *testing.T) {
	policy := DefaultPolicy()
	policy.RejectTampered = true
	scorer := NewScorer(policy)

	score := scorer.Score([]RatedAttestation{
		rated(friendship.LevelClose, true, 20, 600),
		rated(friendship.LevelClose, false, 20, 600),
	})
	// Only the clean attestation counts.
	assert.Equal(t, 1.0, score.Value)
	require.Len(t, score.Components, 2)
	assert.True(t, score.Components[0].Excluded)
	assert.Contains(t, score.Components[0].Reasons, "tampered_rejected")
}

func TestNoAttestationsIsInsufficient(t *testing.T) {
	score := NewScorer(DefaultPolicy()).Score(nil)
	assert.Equal(t, 0.0, score.Value)
	assert.Equal(t, StatusInsufficient, score.Status)
}

func TestLoadPolicyOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_weight: 0.9
thresholds:
  sufficient: 0.5
  strong: 0.75
reject_tampered: true
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, p.BaseWeight)
	assert.Equal(t, 0.5, p.Thresholds.Sufficient)
	assert.Equal(t, 0.75, p.Thresholds.Strong)
	assert.True(t, p.RejectTampered)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1.0, p.FriendshipFactors.Close)
	assert.Equal(t, -0.5, p.Penalties.Tampered)
}

func TestLoadPolicyRejectsBadThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thresholds:
  sufficient: 0.9
  strong: 0.4
`), 0o600))

	_, err := LoadPolicy(path)
	require.Error(t, err)
}
