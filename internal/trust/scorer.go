package trust

import (
	"log/slog"

	"olocus/internal/attestation"
	"olocus/internal/friendship"
	"olocus/pkg/domain"
)

// Status buckets a claim's aggregate score.
type Status string

const (
	StatusInsufficient Status = "INSUFFICIENT"
	StatusSufficient   Status = "SUFFICIENT"
	StatusStrong       Status = "STRONG"
)

// RatedAttestation pairs a validated attestation with the friendship level
// between claimant and attester. Callers resolve the level from the
// friendship store before scoring.
type RatedAttestation struct {
	Attestation attestation.Attestation
	Level       friendship.Level
}

// ComponentScore explains one attestation's contribution.
type ComponentScore struct {
	AttestationID domain.AttestationID `json:"attestation_id"`
	Weight        float64              `json:"weight"`
	Reasons       []string             `json:"reasons,omitempty"`
	Excluded      bool                 `json:"excluded,omitempty"`
}

// Score is the derived aggregate for one claim.
type Score struct {
	Value      float64          `json:"value"`
	Status     Status           `json:"status"`
	Components []ComponentScore `json:"components"`
}

// Scorer applies a policy to rated attestations.
type Scorer struct {
	policy Policy
	logger *slog.Logger
}

type Option func(*Scorer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = logger
	}
}

func NewScorer(policy Policy, opts ...Option) *Scorer {
	s := &Scorer{policy: policy, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score aggregates the attestation weights into a claim score: per
// attestation, base weight times friendship factor, plus penalties, times
// the long-overlap bonus; the aggregate is the mean clamped to [0,1].
func (s *Scorer) Score(atts []RatedAttestation) Score {
	if len(atts) == 0 {
		return Score{Value: 0, Status: StatusInsufficient}
	}

	components := make([]ComponentScore, 0, len(atts))
	var sum float64
	var counted int
	for _, ra := range atts {
		c := s.scoreOne(ra)
		components = append(components, c)
		if c.Excluded {
			continue
		}
		sum += c.Weight
		counted++
	}

	var value float64
	if counted > 0 {
		value = clamp01(sum / float64(counted))
	}
	return Score{
		Value:      value,
		Status:     s.status(value),
		Components: components,
	}
}

func (s *Scorer) scoreOne(ra RatedAttestation) ComponentScore {
	c := ComponentScore{AttestationID: ra.Attestation.ID}

	if ra.Attestation.Tampered && s.policy.RejectTampered {
		c.Excluded = true
		c.Reasons = append(c.Reasons, "tampered_rejected")
		return c
	}

	weight := s.policy.BaseWeight * s.friendshipFactor(ra.Level)

	if ra.Attestation.Tampered {
		weight += s.policy.Penalties.Tampered
		c.Reasons = append(c.Reasons, "tampered_device")
	}
	if ra.Attestation.DistanceMeters > s.policy.Penalties.DistanceMeters {
		weight += s.policy.Penalties.FarDistance
		c.Reasons = append(c.Reasons, "far_distance")
	}
	if ra.Attestation.OverlapSeconds > s.policy.Bonus.OverlapSeconds {
		weight *= s.policy.Bonus.LongOverlap
		c.Reasons = append(c.Reasons, "long_overlap")
	}

	c.Weight = weight
	return c
}

func (s *Scorer) friendshipFactor(level friendship.Level) float64 {
	switch level {
	case friendship.LevelClose:
		return s.policy.FriendshipFactors.Close
	case friendship.LevelAcquaintance:
		return s.policy.FriendshipFactors.Acquaintance
	case friendship.LevelColleague:
		return s.policy.FriendshipFactors.Colleague
	default:
		// Unknown relationship: weakest recognized factor.
		return s.policy.FriendshipFactors.Colleague
	}
}

func (s *Scorer) status(value float64) Status {
	switch {
	case value >= s.policy.Thresholds.Strong:
		return StatusStrong
	case value >= s.policy.Thresholds.Sufficient:
		return StatusSufficient
	default:
		return StatusInsufficient
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
