package assignment

import (
	"github.com/ajitpratap0/expflow/internal/experiment"
)

// defaultStratum is used when the user context carries no segment
const defaultStratum = "default"

// Stratified partitions users by a context-derived stratum key and applies
// deterministic hashing within each stratum, so allocation stays balanced
// inside every known subpopulation rather than only in aggregate.
type Stratified struct{}

func (s *Stratified) Kind() experiment.StrategyKind { return experiment.StrategyStratified }

func (s *Stratified) Assign(userID string, exp *experiment.Experiment, uctx experiment.UserContext) (string, error) {
	stratum := uctx.Segment
	if stratum == "" {
		stratum = defaultStratum
	}
	return hashAssign(userID+":"+exp.ID.String()+":"+stratum, exp.Variants), nil
}
