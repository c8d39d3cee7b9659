package tb

// RiskLevel enum
type RiskLevel string

const (
	RiskMinimal RiskLevel = "minimal"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	// RiskUnknown is only produced by a degraded assessment.
	RiskUnknown RiskLevel = "unknown"
)

// Tier names a keyword-weight bucket.
type Tier string

const (
	TierHigh   Tier = "high_risk"
	TierMedium Tier = "medium_risk"
	TierLow    Tier = "low_risk"
)

// Tiers in scanning order. Finding extraction relies on this order for its
// last-match-wins keyword.
var Tiers = []Tier{TierHigh, TierMedium, TierLow}

// LocationUnspecified is the tag for sentences that name no anatomical region.
const LocationUnspecified = "unspecified"

// Finding is one sentence of the report that mentions a TB keyword.
type Finding struct {
	Keyword     string  `json:"finding"`
	Location    string  `json:"location"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// RiskAssessment is the structured result of scoring a report.
type RiskAssessment struct {
	RiskLevel        RiskLevel         `json:"tb_risk_level"`
	RiskScore        float64           `json:"tb_risk_score"`
	Confidence       float64           `json:"confidence"`
	Findings         []Finding         `json:"findings"`
	Recommendation   string            `json:"recommendation"`
	KeywordsFound    map[Tier][]string `json:"keywords_found"`
	ExclusionFactors []string          `json:"exclusion_factors"`
	Error            string            `json:"error,omitempty"`
}

// Degraded reports whether the assessment came from a failed analysis.
func (a RiskAssessment) Degraded() bool { return a.RiskLevel == RiskUnknown }
