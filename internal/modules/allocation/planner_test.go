package allocation

import (
	"testing"

	"github.com/aristath/helmsman/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestPlanner_Plan(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	p := NewPlanner(log)

	plan := p.Plan(map[string]float64{"A": 0.3, "B": 0.1, "C": -0.2})

	assert.Equal(t, []string{"C"}, plan.SellCandidates)
	assert.InDelta(t, 0.75, plan.Weights["A"], 1e-9)
	assert.InDelta(t, 0.25, plan.Weights["B"], 1e-9)
	assert.NotContains(t, plan.Weights, "C")
}

func TestPlanner_WeightsSumToOne(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	p := NewPlanner(log)

	plan := p.Plan(map[string]float64{
		"A": 0.07, "B": 0.02, "C": 0.11, "D": -0.5, "E": 0.004,
	})

	sum := 0.0
	for _, w := range plan.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPlanner_ZeroTotalIsDegenerate(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	p := NewPlanner(log)

	// All zero signals: hold cash, every weight zero, not an error
	plan := p.Plan(map[string]float64{"A": 0, "B": 0})

	assert.Equal(t, 0.0, plan.Weights["A"])
	assert.Equal(t, 0.0, plan.Weights["B"])
	assert.Empty(t, plan.SellCandidates)
}

func TestPlanner_ZeroChangeIsBuyCandidate(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	p := NewPlanner(log)

	// Exactly-zero signal is a buy candidate with weight 0, never a sell
	plan := p.Plan(map[string]float64{"A": 0.5, "B": 0})

	assert.Empty(t, plan.SellCandidates)
	assert.Contains(t, plan.Weights, "B")
	assert.Equal(t, 0.0, plan.Weights["B"])
	assert.InDelta(t, 1.0, plan.Weights["A"], 1e-9)
}

func TestPlanner_AllNegative(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	p := NewPlanner(log)

	plan := p.Plan(map[string]float64{"B": -0.1, "A": -0.3})

	assert.Equal(t, []string{"A", "B"}, plan.SellCandidates)
	assert.Empty(t, plan.Weights)
}

func TestPlanner_EmptySignals(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	p := NewPlanner(log)

	plan := p.Plan(map[string]float64{})

	assert.Empty(t, plan.Weights)
	assert.Empty(t, plan.SellCandidates)
}
