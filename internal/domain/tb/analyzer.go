package tb

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// findingThreshold is the minimum sentence confidence that yields a Finding.
	findingThreshold = 0.3

	minConfidence = 0.1
	maxConfidence = 0.95

	scoreBlend      = 0.6
	findingBlend    = 0.4
	lowConfidenceAt = 0.5
)

// locationPatterns are checked in order against a lower-cased sentence; the
// first match wins and the matched text becomes the location tag.
var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`upper.*lobe`),
	regexp.MustCompile(`middle.*lobe`),
	regexp.MustCompile(`lower.*lobe`),
	regexp.MustCompile(`right.*lung`),
	regexp.MustCompile(`left.*lung`),
	regexp.MustCompile(`bilateral`),
	regexp.MustCompile(`apex`),
	regexp.MustCompile(`base`),
	regexp.MustCompile(`hilum`),
	regexp.MustCompile(`pleural`),
}

var recommendations = map[RiskLevel]string{
	RiskHigh: "HIGH RISK: Findings suggestive of tuberculosis detected. " +
		"URGENT medical evaluation recommended. Consider sputum testing, " +
		"TB culture, and clinical correlation.",
	RiskMedium: "MEDIUM RISK: Some findings that may be consistent with TB. " +
		"Clinical correlation recommended. Consider follow-up imaging " +
		"and additional testing if symptoms are present.",
	RiskLow: "LOW RISK: Minor findings noted. Clinical correlation advised. " +
		"Monitor symptoms and consider follow-up if concerns persist.",
	RiskMinimal: "MINIMAL RISK: No significant findings suggestive of active TB. " +
		"Routine follow-up as clinically indicated.",
}

const lowConfidenceNote = "\n\nNOTE: Analysis confidence is low. " +
	"Professional radiological interpretation strongly recommended."

const degradedRecommendation = "Analysis failed. Please consult a healthcare professional."

// Analyzer scores free-text radiology reports for tuberculosis risk.
// It holds no mutable state; one instance serves all requests.
type Analyzer struct {
	table *KeywordTable
}

func NewAnalyzer(table *KeywordTable) *Analyzer {
	if table == nil {
		table = DefaultTable()
	}
	return &Analyzer{table: table}
}

// Analyze never panics: an internal fault yields a degraded assessment with
// RiskUnknown and the fault text in Error.
func (a *Analyzer) Analyze(report string) (out RiskAssessment) {
	defer func() {
		if r := recover(); r != nil {
			out = degraded(fmt.Errorf("tb analysis: %v", r))
		}
	}()

	lower := strings.ToLower(report)

	score := a.riskScore(lower)
	findings := a.extractFindings(report)
	confidence := blendConfidence(score, findings)

	return RiskAssessment{
		RiskLevel:        levelFor(score),
		RiskScore:        score,
		Confidence:       confidence,
		Findings:         findings,
		Recommendation:   recommend(levelFor(score), confidence),
		KeywordsFound:    a.keywordsFound(lower),
		ExclusionFactors: a.exclusionsFound(lower),
	}
}

func degraded(err error) RiskAssessment {
	return RiskAssessment{
		RiskLevel:      RiskUnknown,
		Findings:       []Finding{},
		Recommendation: degradedRecommendation,
		Error:          err.Error(),
	}
}

func (a *Analyzer) riskScore(lower string) float64 {
	score := 0.0
	for _, rule := range a.table.Tiers {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				score += rule.Weight
			}
		}
	}
	for _, ex := range a.table.Exclusions {
		if strings.Contains(lower, ex) {
			score += a.table.ExclusionWeight
		}
	}
	return clamp(score, 0, 1)
}

func (a *Analyzer) extractFindings(report string) []Finding {
	findings := make([]Finding, 0)
	for _, sentence := range splitSentences(report) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		lower := strings.ToLower(trimmed)

		confidence := 0.0
		keyword := ""
		for _, rule := range a.table.Tiers {
			for _, kw := range rule.Keywords {
				if !strings.Contains(lower, kw) {
					continue
				}
				if rule.SentenceConfidence > confidence {
					confidence = rule.SentenceConfidence
				}
				keyword = kw
			}
		}

		if confidence > findingThreshold {
			findings = append(findings, Finding{
				Keyword:     keyword,
				Location:    locate(lower),
				Confidence:  confidence,
				Description: trimmed,
			})
		}
	}
	return findings
}

func splitSentences(report string) []string {
	return strings.FieldsFunc(report, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

func locate(sentence string) string {
	for _, re := range locationPatterns {
		if m := re.FindString(sentence); m != "" {
			return m
		}
	}
	return LocationUnspecified
}

func blendConfidence(score float64, findings []Finding) float64 {
	if len(findings) == 0 {
		return minConfidence
	}
	sum := 0.0
	for _, f := range findings {
		sum += f.Confidence
	}
	avg := sum / float64(len(findings))
	return clamp(score*scoreBlend+avg*findingBlend, minConfidence, maxConfidence)
}

func levelFor(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	case score >= 0.1:
		return RiskLow
	default:
		return RiskMinimal
	}
}

func recommend(level RiskLevel, confidence float64) string {
	text, ok := recommendations[level]
	if !ok {
		text = recommendations[RiskMinimal]
	}
	if confidence < lowConfidenceAt {
		text += lowConfidenceNote
	}
	return text
}

func (a *Analyzer) keywordsFound(lower string) map[Tier][]string {
	found := make(map[Tier][]string, len(a.table.Tiers))
	for _, rule := range a.table.Tiers {
		hits := make([]string, 0)
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, kw)
			}
		}
		found[rule.Tier] = hits
	}
	return found
}

func (a *Analyzer) exclusionsFound(lower string) []string {
	found := make([]string, 0)
	for _, ex := range a.table.Exclusions {
		if strings.Contains(lower, ex) {
			found = append(found, ex)
		}
	}
	return found
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
