package assignment

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// Deterministic hashes userID and experiment ID into one of 100 buckets and
// maps the bucket through the cumulative weight distribution. The same pair
// always lands on the same variant without consulting any stored state,
// which makes assignments replayable when the assignment store is untrusted.
type Deterministic struct{}

func (s *Deterministic) Kind() experiment.StrategyKind { return experiment.StrategyDeterministic }

func (s *Deterministic) Assign(userID string, exp *experiment.Experiment, _ experiment.UserContext) (string, error) {
	return hashAssign(userID+":"+exp.ID.String(), exp.Variants), nil
}

// hashAssign buckets a stable SHA-256 of the key into 0-99 and walks the
// cumulative normalized weights scaled to 100
func hashAssign(key string, variants []experiment.Variant) string {
	sum := sha256.Sum256([]byte(key))
	bucket := float64(binary.BigEndian.Uint64(sum[:8]) % 100)

	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.Normalized * 100
		if bucket < cumulative {
			return v.Name
		}
	}
	return variants[len(variants)-1].Name
}
