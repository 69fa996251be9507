// Package risk turns a probability set into categorical risk levels, advice
// and a simple suitability score.
package risk

import (
	"sort"

	"github.com/lox/fairweather/internal/models"
)

// Level is the per-condition and overall risk category.
type Level string

const (
	Low      Level = "Low"
	Moderate Level = "Moderate"
	High     Level = "High"
)

// Severity is the coarser aggregate category used by the substitute model.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityExtreme Severity = "extreme"
)

const FallbackRecommendation = "Generally favorable weather conditions expected for outdoor activities"

// ConditionLevel buckets a single probability.
func ConditionLevel(p float64) Level {
	switch {
	case p >= 30:
		return High
	case p >= 15:
		return Moderate
	default:
		return Low
	}
}

// AggregateSeverity buckets an averaged risk value.
func AggregateSeverity(avg float64) Severity {
	switch {
	case avg > 75:
		return SeverityExtreme
	case avg > 50:
		return SeverityHigh
	case avg > 25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type rule struct {
	applies func(models.ProbabilitySet) bool
	advice  string
}

// Rules are evaluated in order and independently of each other.
var rules = []rule{
	{
		applies: func(p models.ProbabilitySet) bool { return p[models.Rain] > 25 },
		advice:  "High chance of rain - bring waterproof clothing and consider covered areas",
	},
	{
		applies: func(p models.ProbabilitySet) bool { return p[models.HeavyRain] > 10 },
		advice:  "Risk of heavy rainfall - have indoor backup plans ready",
	},
	{
		applies: func(p models.ProbabilitySet) bool {
			return p[models.VeryHot] > 20 || p[models.ExtremeHeat] > 15
		},
		advice: "Possible extreme heat - ensure shade and hydration are available",
	},
	{
		applies: func(p models.ProbabilitySet) bool {
			return p[models.VeryCold] > 20 || p[models.ExtremeCold] > 10
		},
		advice: "Risk of very cold weather - provide warming areas and appropriate clothing",
	},
	{
		applies: func(p models.ProbabilitySet) bool { return p[models.HighWind] > 25 },
		advice:  "High wind probability - secure loose items and decorations",
	},
	{
		applies: func(p models.ProbabilitySet) bool { return p[models.Uncomfortable] > 30 },
		advice:  "High chance of uncomfortable conditions - plan for climate control",
	},
}

// Recommendations returns the advice triggered by p, or the single fallback
// line when nothing triggers.
func Recommendations(p models.ProbabilitySet) []string {
	var out []string
	for _, r := range rules {
		if r.applies(p) {
			out = append(out, r.advice)
		}
	}
	if len(out) == 0 {
		out = []string{FallbackRecommendation}
	}
	return out
}

var basicPenalties = []struct {
	cond   models.Condition
	weight float64
}{
	{models.Rain, 0.3},
	{models.HeavyRain, 0.5},
	{models.VeryHot, 0.4},
	{models.VeryCold, 0.4},
	{models.HighWind, 0.2},
	{models.Uncomfortable, 0.3},
}

// BasicScore subtracts weighted probabilities from 100. Missing conditions
// count as zero; very_hot and very_cold honour their aliases.
func BasicScore(p models.ProbabilitySet) float64 {
	score := 100.0
	for _, pen := range basicPenalties {
		score -= p.Get(pen.cond) * pen.weight
	}
	return models.Clamp(models.Round(score, 1), 0, 100)
}

func overall(score float64) Level {
	switch {
	case score > 75:
		return Low
	case score > 50:
		return Moderate
	default:
		return High
	}
}

type Assessment struct {
	RiskLevels       map[models.Condition]Level `json:"risk_levels"`
	Recommendations  []string                   `json:"recommendations"`
	SuitabilityScore models.Fixed1              `json:"suitability_score"`
	OverallRisk      Level                      `json:"overall_risk"`
}

// Assess is deterministic: the same set always yields the same assessment.
func Assess(p models.ProbabilitySet) Assessment {
	levels := make(map[models.Condition]Level, len(p))
	for c, v := range p {
		levels[c] = ConditionLevel(v)
	}
	score := BasicScore(p)
	return Assessment{
		RiskLevels:       levels,
		Recommendations:  Recommendations(p),
		SuitabilityScore: models.Fixed1(score),
		OverallRisk:      overall(score),
	}
}

// FactorConditions is the five-factor list averaged by AssessFactors.
var FactorConditions = []models.Condition{
	models.ExtremeHeat,
	models.ExtremeCold,
	models.HeavyRain,
	models.HighWind,
	models.Uncomfortable,
}

var descriptions = map[Severity]string{
	SeverityLow:     "Excellent conditions with minimal weather-related risks. Perfect for outdoor activities.",
	SeverityMedium:  "Moderate weather conditions. Some precautions may be needed for sensitive activities.",
	SeverityHigh:    "Challenging weather conditions. Outdoor activities should be planned carefully.",
	SeverityExtreme: "Severe weather conditions. Consider postponing non-essential outdoor activities.",
}

type FactorAssessment struct {
	Severity    Severity  `json:"level"`
	Score       int       `json:"score"`
	Factors     []float64 `json:"factors"`
	Description string    `json:"description"`
}

// Factors extracts the five-factor list from p. Missing entries read as 0,
// and the heat and cold factors fall back to very_hot/very_cold.
func Factors(p models.ProbabilitySet) []float64 {
	out := make([]float64, len(FactorConditions))
	for i, c := range FactorConditions {
		switch c {
		case models.ExtremeHeat:
			out[i] = p.Get(models.VeryHot)
		case models.ExtremeCold:
			out[i] = p.Get(models.VeryCold)
		default:
			out[i] = p[c]
		}
	}
	return out
}

// AssessFactors averages the factor list and maps it to a severity.
// An empty list is treated as no risk.
func AssessFactors(factors []float64) FactorAssessment {
	var avg float64
	if len(factors) > 0 {
		var sum float64
		for _, f := range factors {
			sum += models.ClampPercent(f)
		}
		avg = sum / float64(len(factors))
	}
	sev := AggregateSeverity(avg)
	return FactorAssessment{
		Severity:    sev,
		Score:       int(models.Round(avg, 0)),
		Factors:     append([]float64(nil), factors...),
		Description: descriptions[sev],
	}
}

// SortedConditions returns the keys of levels in a stable order, canonical
// conditions first. Used when rendering levels as text.
func SortedConditions(levels map[models.Condition]Level) []models.Condition {
	order := make(map[models.Condition]int, len(models.Conditions))
	for i, c := range models.Conditions {
		order[c] = i
	}
	out := make([]models.Condition, 0, len(levels))
	for c := range levels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i]]
		oj, jok := order[out[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}
