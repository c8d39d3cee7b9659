package tb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable_IsValid(t *testing.T) {
	table := DefaultTable()

	require.NoError(t, table.Validate())
	assert.Equal(t, 0.4, table.Tiers[0].Weight)
	assert.Equal(t, 0.2, table.Tiers[1].Weight)
	assert.Equal(t, 0.1, table.Tiers[2].Weight)
	assert.Equal(t, -0.3, table.ExclusionWeight)
}

func TestLoadTable(t *testing.T) {
	doc := `
tiers:
  - tier: high_risk
    weight: 0.5
    sentence_confidence: 0.9
    keywords: [cavitary]
  - tier: medium_risk
    weight: 0.2
    sentence_confidence: 0.6
    keywords: [nodule]
  - tier: low_risk
    weight: 0.1
    sentence_confidence: 0.4
    keywords: [shadow]
exclusions: [normal]
exclusion_weight: -0.3
`
	table, err := LoadTable(strings.NewReader(doc))
	require.NoError(t, err)

	got := NewAnalyzer(table).Analyze("Cavitary lesion.")
	assert.Equal(t, 0.5, got.RiskScore)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, 0.9, got.Findings[0].Confidence)
}

func TestLoadTable_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errMsg string
	}{
		{
			name:   "not yaml",
			doc:    "tiers: [",
			errMsg: "decode keyword table",
		},
		{
			name:   "missing tiers",
			doc:    "tiers:\n  - tier: high_risk\n    keywords: [tb]\n",
			errMsg: "must define 3 tiers",
		},
		{
			name: "wrong order",
			doc: `
tiers:
  - {tier: low_risk, keywords: [a]}
  - {tier: medium_risk, keywords: [b]}
  - {tier: high_risk, keywords: [c]}
`,
			errMsg: `tier 0 must be "high_risk"`,
		},
		{
			name: "empty keywords",
			doc: `
tiers:
  - {tier: high_risk, keywords: [a]}
  - {tier: medium_risk, keywords: []}
  - {tier: low_risk, keywords: [c]}
`,
			errMsg: "has no keywords",
		},
		{
			name: "positive exclusion weight",
			doc: `
tiers:
  - {tier: high_risk, keywords: [a]}
  - {tier: medium_risk, keywords: [b]}
  - {tier: low_risk, keywords: [c]}
exclusion_weight: 0.3
`,
			errMsg: "exclusion_weight",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTable(strings.NewReader(tt.doc))

			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
