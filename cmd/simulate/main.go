// Command simulate drives synthetic traffic through an embedded
// experimentation engine and prints the resulting analysis. It is the
// offline harness for sanity-checking strategy and statistics behavior
// before an experiment design goes live.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/expflow/internal/config"
	"github.com/ajitpratap0/expflow/internal/engine"
	"github.com/ajitpratap0/expflow/internal/experiment"
)

func main() {
	var (
		users         = flag.Int("users", 5000, "number of simulated users")
		controlRate   = flag.Float64("control-rate", 0.10, "control conversion rate")
		treatmentRate = flag.Float64("treatment-rate", 0.12, "treatment conversion rate")
		strategy      = flag.String("strategy", "deterministic", "assignment strategy (random, deterministic, stratified, bandit, contextual)")
		seed          = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		bayesian      = flag.Bool("bayesian", true, "run Bayesian analysis")
		sequential    = flag.Bool("sequential", false, "enable sequential early stopping")
		logLevel      = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	config.InitLogger(*logLevel, "console")

	rng := rand.New(rand.NewSource(*seed))
	framework := engine.New(engine.Options{
		Rand:      rng,
		BayesSeed: uint64(*seed),
	})

	ctx := context.Background()
	exp, err := framework.CreateExperiment(ctx, experiment.Config{
		Name: "simulated-conversion",
		Variants: []experiment.VariantConfig{
			{Name: "control", Weight: 1},
			{Name: "treatment", Weight: 1},
		},
		PrimaryMetric:       "conversion",
		PrimaryMetricType:   experiment.MetricBinary,
		Strategy:            experiment.StrategyKind(*strategy),
		BaselineRate:        *controlRate,
		MinDetectableEffect: (*treatmentRate - *controlRate) / *controlRate,
		EnableBayesian:      *bayesian,
		EnableSequential:    *sequential,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create experiment")
	}

	fmt.Printf("Simulating %d users: control %.1f%% vs treatment %.1f%% (strategy %s, seed %d)\n",
		*users, *controlRate*100, *treatmentRate*100, *strategy, *seed)
	fmt.Printf("Required sample size: %d (%d per variant)\n\n",
		exp.RequiredSampleSize, exp.PerVariantSamples)

	start := time.Now()
	simulated := 0
	for i := 0; i < *users; i++ {
		userID := fmt.Sprintf("user-%06d", i)
		uctx := experiment.UserContext{
			Segment:    []string{"web", "mobile", "tablet"}[rng.Intn(3)],
			Confidence: rng.Float64(),
			FileSize:   rng.Float64() * 1e6,
			PowerUser:  rng.Float64() < 0.2,
		}

		variant, err := framework.AssignUser(ctx, userID, exp.ID, uctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Assignment failed")
		}
		if variant == "" {
			// Sequential stop fired mid-simulation
			break
		}
		simulated++

		rate := *controlRate
		if variant == "treatment" {
			rate = *treatmentRate
		}
		value := 0.0
		if rng.Float64() < rate {
			value = 1.0
		}
		framework.TrackMetric(ctx, &experiment.MetricEvent{
			UserID:       userID,
			ExperimentID: exp.ID,
			Metric:       "conversion",
			Value:        value,
		})
	}
	elapsed := time.Since(start)

	result, err := framework.AnalyzeExperiment(ctx, exp.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	final, _ := framework.Experiment(exp.ID)
	fmt.Printf("Simulated %d users in %s (%.0f users/sec)\n",
		simulated, elapsed.Round(time.Millisecond), float64(simulated)/elapsed.Seconds())
	if final.Status == experiment.StatusStopped {
		fmt.Printf("Experiment stopped early: %s\n", final.StopReason)
	}
	fmt.Printf("Assignments: %v\n\n", framework.AssignmentCounts(exp.ID))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to marshal result")
	}
	if _, err := os.Stdout.Write(append(out, '\n')); err != nil {
		log.Fatal().Err(err).Msg("Failed to write result")
	}
}
