package tb

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// TierRule is one weighted bucket of keywords.
type TierRule struct {
	Tier Tier `yaml:"tier"`
	// Weight is added to the risk score once per distinct keyword present in the report.
	Weight float64 `yaml:"weight"`
	// SentenceConfidence is the finding confidence implied by a hit in a single sentence.
	SentenceConfidence float64  `yaml:"sentence_confidence"`
	Keywords           []string `yaml:"keywords"`
}

// KeywordTable is read-only after construction and safe to share between goroutines.
type KeywordTable struct {
	Tiers           []TierRule `yaml:"tiers"`
	Exclusions      []string   `yaml:"exclusions"`
	ExclusionWeight float64    `yaml:"exclusion_weight"`
}

// DefaultTable returns the built-in keyword configuration.
func DefaultTable() *KeywordTable {
	return &KeywordTable{
		Tiers: []TierRule{
			{
				Tier:               TierHigh,
				Weight:             0.4,
				SentenceConfidence: 0.8,
				Keywords: []string{
					"cavitary", "cavity", "cavitation", "consolidation",
					"miliary", "tuberculosis", "tb", "acid-fast",
					"granuloma", "caseous", "necrosis",
				},
			},
			{
				Tier:               TierMedium,
				Weight:             0.2,
				SentenceConfidence: 0.6,
				Keywords: []string{
					"infiltrate", "opacity", "nodule", "mass",
					"pleural effusion", "hilar", "lymphadenopathy",
					"fibrosis", "scarring", "calcification",
				},
			},
			{
				Tier:               TierLow,
				Weight:             0.1,
				SentenceConfidence: 0.4,
				Keywords: []string{
					"density", "shadow", "marking", "prominence",
					"thickening", "irregular", "abnormal",
				},
			},
		},
		Exclusions: []string{
			"normal", "clear", "unremarkable", "no acute",
			"negative", "absent", "no evidence",
		},
		ExclusionWeight: -0.3,
	}
}

// LoadTable reads a YAML keyword table. The document must define exactly the
// high, medium and low tiers, in that order.
func LoadTable(r io.Reader) (*KeywordTable, error) {
	var t KeywordTable
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode keyword table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks tier order and keyword presence.
func (t *KeywordTable) Validate() error {
	if len(t.Tiers) != len(Tiers) {
		return fmt.Errorf("keyword table must define %d tiers, got %d", len(Tiers), len(t.Tiers))
	}
	for i, rule := range t.Tiers {
		if rule.Tier != Tiers[i] {
			return fmt.Errorf("tier %d must be %q, got %q", i, Tiers[i], rule.Tier)
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("tier %q has no keywords", rule.Tier)
		}
		if rule.SentenceConfidence < 0 || rule.SentenceConfidence > 1 {
			return fmt.Errorf("tier %q sentence_confidence out of range: %v", rule.Tier, rule.SentenceConfidence)
		}
	}
	if t.ExclusionWeight > 0 {
		return fmt.Errorf("exclusion_weight must not be positive: %v", t.ExclusionWeight)
	}
	return nil
}
