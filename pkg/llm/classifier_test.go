package llm

import "testing"

func TestComplexityClassifier_SimpleGreetingIsLight(t *testing.T) {
	cfg := DefaultClassifierConfig()
	cfg.TierModels = map[Tier]string{TierLight: "light-model", TierStandard: "std-model", TierHeavy: "heavy-model"}
	c := NewComplexityClassifier(cfg)

	result := c.Classify("hi there")
	if result.Tier != TierLight {
		t.Errorf("expected light tier, got %s (score=%f)", result.Tier, result.Score)
	}
	if result.Model != "light-model" {
		t.Errorf("expected light-model, got %s", result.Model)
	}
}

func TestComplexityClassifier_MultiStepReasoningIsHeavy(t *testing.T) {
	cfg := DefaultClassifierConfig()
	cfg.TierModels = map[Tier]string{TierLight: "light-model", TierStandard: "std-model", TierHeavy: "heavy-model"}
	c := NewComplexityClassifier(cfg)

	msg := "First, explain why this algorithm's concurrency architecture trades off throughput for latency. Then analyze step 2: the protocol constraint must hold, and finally derive the asymptotic bound with a code ```func() {}``` example."
	result := c.Classify(msg)
	if result.Tier != TierHeavy {
		t.Errorf("expected heavy tier, got %s (score=%f)", result.Tier, result.Score)
	}
}

func TestComplexityClassifier_ScoreIsNeverNegative(t *testing.T) {
	c := NewComplexityClassifier(DefaultClassifierConfig())
	result := c.Classify("ok")
	if result.Score < 0 {
		t.Errorf("expected non-negative score, got %f", result.Score)
	}
}
