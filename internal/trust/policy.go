// Package trust turns validated attestations into a bounded trust score
// for a claim. Scores are recomputed from their inputs, never persisted as
// ground truth.
package trust

import (
	"os"

	"gopkg.in/yaml.v3"

	dErrors "olocus/pkg/domain-errors"
)

// Policy holds every scoring constant. The defaults are the interoperable
// profile; deployments tune them through a YAML policy file.
type Policy struct {
	BaseWeight float64 `yaml:"base_weight"`

	FriendshipFactors struct {
		Close        float64 `yaml:"close"`
		Acquaintance float64 `yaml:"acquaintance"`
		Colleague    float64 `yaml:"colleague"`
	} `yaml:"friendship_factors"`

	Penalties struct {
		Tampered       float64 `yaml:"tampered"`
		FarDistance    float64 `yaml:"far_distance"`
		DistanceMeters float64 `yaml:"distance_meters"`
	} `yaml:"penalties"`

	Bonus struct {
		LongOverlap    float64 `yaml:"long_overlap"`
		OverlapSeconds int64   `yaml:"overlap_seconds"`
	} `yaml:"bonus"`

	Thresholds struct {
		Sufficient float64 `yaml:"sufficient"`
		Strong     float64 `yaml:"strong"`
	} `yaml:"thresholds"`

	// RejectTampered drops tampered attestations from scoring entirely
	// instead of applying the tamper penalty.
	RejectTampered bool `yaml:"reject_tampered"`
}

// DefaultPolicy returns the protocol's default scoring constants.
func DefaultPolicy() Policy {
	var p Policy
	p.BaseWeight = 1.0
	p.FriendshipFactors.Close = 1.0
	p.FriendshipFactors.Acquaintance = 0.7
	p.FriendshipFactors.Colleague = 0.5
	p.Penalties.Tampered = -0.5
	p.Penalties.FarDistance = -0.2
	p.Penalties.DistanceMeters = 100
	p.Bonus.LongOverlap = 1.2
	p.Bonus.OverlapSeconds = 3600
	p.Thresholds.Sufficient = 0.6
	p.Thresholds.Strong = 0.8
	return p
}

// LoadPolicy reads a YAML policy file, filling unset fields from the
// defaults.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "read trust policy")
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse trust policy")
	}
	if p.Thresholds.Sufficient <= 0 || p.Thresholds.Strong < p.Thresholds.Sufficient {
		return Policy{}, dErrors.New(dErrors.CodeInvalidInput, "trust thresholds must satisfy 0 < sufficient <= strong")
	}
	return p, nil
}
