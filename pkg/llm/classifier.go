package llm

import (
	"regexp"
	"strings"
)

// Tier is one of the three complexity bands the classifier maps a score onto.
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierHeavy    Tier = "heavy"
)

// Classification is the classifier's verdict for one user message.
type Classification struct {
	Score float64
	Tier  Tier
	Model string
}

// dimension is one weighted keyword/pattern scorer, grounded on the
// teacher's declarative validated-config style (pkg/lane/manager_config.go):
// a named, independently-tunable scoring rule rather than inline branches.
type dimension struct {
	name    string
	weight  float64
	pattern *regexp.Regexp
	// score, when pattern is nil, derives a score directly from the text
	// (used for the token-count dimension).
	score func(text string) float64
}

// ClassifierConfig holds the classifier's thresholds and per-tier model
// assignment.
type ClassifierConfig struct {
	LightMax    float64
	StandardMax float64
	TierModels  map[Tier]string
}

// DefaultClassifierConfig returns conservative thresholds; the per-tier
// model names are left blank and must be filled from config.LLMConfig before
// use, or callers rely on ProcessDefaults instead of the classifier.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		LightMax:    0.25,
		StandardMax: 0.6,
		TierModels:  map[Tier]string{},
	}
}

// ComplexityClassifier scores a user message on token count, code markers,
// reasoning markers, simple-query markers, technical depth, multi-step
// structure, and constraint markers per spec.md §4.2, and maps the scalar
// result to a tier.
type ComplexityClassifier struct {
	cfg        ClassifierConfig
	dimensions []dimension
}

func NewComplexityClassifier(cfg ClassifierConfig) *ComplexityClassifier {
	return &ComplexityClassifier{
		cfg: cfg,
		dimensions: []dimension{
			{name: "token_count", weight: 0.15, score: scoreTokenCount},
			{name: "code_markers", weight: 0.2, pattern: regexp.MustCompile("(?i)```|\\bfunc\\b|\\bclass\\b|\\bdef\\b|;\\s*$|\\{\\s*$")},
			{name: "reasoning_markers", weight: 0.2, pattern: regexp.MustCompile(`(?i)\b(why|explain|analy[sz]e|compare|trade-?off|prove|derive)\b`)},
			{name: "simple_query_markers", weight: -0.25, pattern: regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|ok|okay|yes|no)\b`)},
			{name: "technical_depth", weight: 0.15, pattern: regexp.MustCompile(`(?i)\b(algorithm|architecture|concurrency|kernel|protocol|schema|asymptotic)\b`)},
			{name: "multi_step_structure", weight: 0.2, pattern: regexp.MustCompile(`(?i)\b(first|then|after that|finally|step \d|\d\.\s)\b`)},
			{name: "constraint_markers", weight: 0.1, pattern: regexp.MustCompile(`(?i)\b(must|should|constraint|require[sd]?|limit(ed)?)\b`)},
		},
	}
}

func scoreTokenCount(text string) float64 {
	n := len(strings.Fields(text))
	switch {
	case n <= 8:
		return 0
	case n <= 30:
		return 0.4
	case n <= 80:
		return 0.7
	default:
		return 1.0
	}
}

// Classify scores the user message only, per spec.md §4.2.
func (c *ComplexityClassifier) Classify(userMessage string) Classification {
	var total float64
	for _, d := range c.dimensions {
		var s float64
		if d.pattern != nil {
			if d.pattern.MatchString(userMessage) {
				s = 1
			}
		} else if d.score != nil {
			s = d.score(userMessage)
		}
		total += d.weight * s
	}
	if total < 0 {
		total = 0
	}

	tier := TierHeavy
	switch {
	case total <= c.cfg.LightMax:
		tier = TierLight
	case total <= c.cfg.StandardMax:
		tier = TierStandard
	}

	return Classification{Score: total, Tier: tier, Model: c.cfg.TierModels[tier]}
}
