// Package device derives stable device fingerprints from client metadata.
// The fingerprint travels inside every location block's device state and
// feeds tamper/drift detection; it is a fraud signal, never a hard gate.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

// Service computes and compares device fingerprints. Disabled instances
// return empty fingerprints so deployments can opt out without branching
// at every call site.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ParseUserAgent renders a human-readable device name, "Browser on System".
func ParseUserAgent(ua string) string {
	if ua == "" {
		return "Unknown Device"
	}

	parsed := useragent.New(ua)
	name, _ := parsed.Browser()
	if name == "" {
		name = "Unknown Browser"
	}

	system := parsed.OSInfo().Name
	if system == "" {
		system = parsed.Platform()
	}
	if system == "" {
		system = "Unknown System"
	}

	return strings.TrimSpace(fmt.Sprintf("%s on %s", name, system))
}

// ComputeFingerprint hashes the stable parts of the user agent: browser
// name, major version, OS name, and platform. Minor and patch version bumps
// keep the fingerprint unchanged so routine browser updates do not look
// like device swaps.
func (s *Service) ComputeFingerprint(ua string) string {
	if !s.enabled {
		return ""
	}

	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	major := version
	if i := strings.IndexByte(version, '.'); i >= 0 {
		major = version[:i]
	}

	canonical := strings.Join([]string{
		name,
		major,
		parsed.OSInfo().Name,
		parsed.Platform(),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether the presented fingerprint matches the
// stored one and whether the mismatch counts as drift. Missing values
// compare as unmatched without drift; there is nothing to have drifted from.
func (s *Service) CompareFingerprints(stored, presented string) (matched, drift bool) {
	if stored == "" || presented == "" {
		return false, false
	}
	if stored == presented {
		return true, false
	}
	return false, true
}
