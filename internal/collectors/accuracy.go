package collectors

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/expflow/internal/experiment"
)

// predictionPair is one predicted/actual observation. Labels are derived by
// thresholding at 0.5, so both probabilistic scores and hard 0/1 labels
// work.
type predictionPair struct {
	predicted float64
	actual    float64
}

// ConfusionMatrix holds binary classification counts and the derived
// quality metrics
type ConfusionMatrix struct {
	TruePositives  int     `json:"true_positives"`
	TrueNegatives  int     `json:"true_negatives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Accuracy accumulates predicted/actual pairs and computes a full confusion
// matrix with precision/recall/F1 per variant
type Accuracy struct {
	mu    sync.RWMutex
	pairs map[bucketKey][]predictionPair
}

// NewAccuracy creates an accuracy collector
func NewAccuracy() *Accuracy {
	return &Accuracy{pairs: make(map[bucketKey][]predictionPair)}
}

func (c *Accuracy) Name() string { return "accuracy" }

func (c *Accuracy) Handles(ev *experiment.MetricEvent) bool {
	if ev.Predicted != nil && ev.Actual != nil {
		return true
	}
	return ev.Metric == "accuracy" || strings.HasSuffix(ev.Metric, "_accuracy")
}

func (c *Accuracy) Collect(variant string, ev *experiment.MetricEvent) {
	pair := predictionPair{predicted: ev.Value, actual: ev.Value}
	if ev.Predicted != nil && ev.Actual != nil {
		pair = predictionPair{predicted: *ev.Predicted, actual: *ev.Actual}
	}
	key := bucketKey{ev.ExperimentID, variant}
	c.mu.Lock()
	c.pairs[key] = append(c.pairs[key], pair)
	c.mu.Unlock()
}

func (c *Accuracy) Calculate(experimentID uuid.UUID) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any)
	for key, pairs := range c.pairs {
		if key.experimentID != experimentID || len(pairs) == 0 {
			continue
		}
		cm := &ConfusionMatrix{}
		for _, p := range pairs {
			predicted := p.predicted >= 0.5
			actual := p.actual >= 0.5
			switch {
			case predicted && actual:
				cm.TruePositives++
			case !predicted && !actual:
				cm.TrueNegatives++
			case predicted && !actual:
				cm.FalsePositives++
			default:
				cm.FalseNegatives++
			}
		}
		total := float64(len(pairs))
		cm.Accuracy = float64(cm.TruePositives+cm.TrueNegatives) / total
		if cm.TruePositives+cm.FalsePositives > 0 {
			cm.Precision = float64(cm.TruePositives) / float64(cm.TruePositives+cm.FalsePositives)
		}
		if cm.TruePositives+cm.FalseNegatives > 0 {
			cm.Recall = float64(cm.TruePositives) / float64(cm.TruePositives+cm.FalseNegatives)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		out[key.variant] = cm
	}
	return out
}
