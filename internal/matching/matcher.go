// Package matching computes a composite similarity score between a CV and a
// JD from their Structured/Embeddings records: bipartite best-match averages
// over skills and responsibilities, title and experience formulas, a
// weighted composite, and a small set of post-composite business-rule
// adjustments.
package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/cvmatch/matching-engine/internal/config"
	"github.com/cvmatch/matching-engine/internal/domain"
)

// Weights holds the composite scoring weights for the four score
// components. They are expected to sum to 1 but Score renormalizes the
// remaining weights whenever a component's input set is empty.
type Weights struct {
	Skills           float64
	Responsibilities float64
	Title            float64
	Experience       float64
}

// Matcher implements domain.Matcher with the spec's deterministic formulas.
type Matcher struct {
	weights    Weights
	categories *config.CategoryTable
}

// New constructs a Matcher from its scoring weights and category table.
// A nil table is treated as empty (no known incompatibilities).
func New(weights Weights, categories *config.CategoryTable) *Matcher {
	if categories == nil {
		categories = &config.CategoryTable{Incompatible: map[string][]string{}}
	}
	return &Matcher{weights: weights, categories: categories}
}

// Score implements domain.Matcher.
func (m *Matcher) Score(_ domain.Context, cv, jd domain.Embeddings, cvStruct, jdStruct domain.Structured) (domain.ScoreBreakdown, float64, error) {
	if cv.Dim == 0 || jd.Dim == 0 {
		return domain.ScoreBreakdown{}, 0, fmt.Errorf("%w: missing embeddings", domain.ErrNotScorable)
	}

	skillScore, skillsPresent := bestMatchAverage(jdStruct.Skills[:], jd.SkillVecs[:], cvStruct.Skills[:], cv.SkillVecs[:])
	respScore, respPresent := bestMatchAverage(jdStruct.Responsibilities[:], jd.RespVecs[:], cvStruct.Responsibilities[:], cv.RespVecs[:])
	tScore := titleScore(jd.TitleVec, cv.TitleVec, jdStruct.Category, cvStruct.Category, m.categories)
	eScore := experienceScore(jdStruct.ExperienceYears, cvStruct.ExperienceYears)

	weights := m.weights
	if !skillsPresent {
		weights.Skills = 0
	}
	if !respPresent {
		weights.Responsibilities = 0
	}
	weights = renormalize(weights)

	overall := weights.Skills*skillScore + weights.Responsibilities*respScore + weights.Title*tScore + weights.Experience*eScore

	var adjustments []domain.Adjustment
	if sameTitle(jdStruct.Title, cvStruct.Title) {
		overall += 5
		adjustments = append(adjustments, domain.Adjustment{Reason: "exact title match", Delta: 5})
	}
	if jdStruct.Category != cvStruct.Category && tScore < 30 {
		overall -= 10
		adjustments = append(adjustments, domain.Adjustment{Reason: "category mismatch with dissimilar titles", Delta: -10})
	}
	overall = math.Round(clamp(overall, 0, 100)*10) / 10

	breakdown := domain.ScoreBreakdown{
		SkillScore:           skillScore,
		ResponsibilityScore:  respScore,
		TitleScore:           tScore,
		ExperienceScore:      eScore,
		Adjustments:          adjustments,
	}
	return breakdown, overall, nil
}

func sameTitle(jdTitle, cvTitle string) bool {
	a, b := strings.TrimSpace(jdTitle), strings.TrimSpace(cvTitle)
	if a == "" || b == "" || a == domain.PadToken || b == domain.PadToken {
		return false
	}
	return strings.EqualFold(a, b)
}

// bestMatchAverage implements the bipartite best-match average: for each
// present JD row, the best cosine similarity against any present CV row is
// taken, ties broken by the lexicographically smaller CV phrase, and the
// mean of those best-matches (×100) is returned. present reports whether
// the JD side had any non-padded row at all, so callers can drop this
// component's weight share rather than silently scoring it 0.
func bestMatchAverage(jdPhrases []string, jdVecs [][]float32, cvPhrases []string, cvVecs [][]float32) (score float64, present bool) {
	jdIdx := presentIndices(jdPhrases)
	if len(jdIdx) == 0 {
		return 0, false
	}
	cvIdx := presentIndices(cvPhrases)
	if len(cvIdx) == 0 {
		return 0, true
	}

	var sum float64
	for _, i := range jdIdx {
		best := math.Inf(-1)
		bestPhrase := ""
		for _, j := range cvIdx {
			s := cosineSim(jdVecs[i], cvVecs[j])
			if s > best || (s == best && cvPhrases[j] < bestPhrase) {
				best = s
				bestPhrase = cvPhrases[j]
			}
		}
		sum += best
	}
	mean := sum / float64(len(jdIdx))
	return clamp(mean*100, 0, 100), true
}

func presentIndices(phrases []string) []int {
	idx := make([]int, 0, len(phrases))
	for i, p := range phrases {
		if p != "" && p != domain.PadToken {
			idx = append(idx, i)
		}
	}
	return idx
}

// titleScore is cosine(jd.title, cv.title) × 100, adjusted for category
// overlap: +10 (capped 100) when JD and CV share a category, −20 (floored
// 0) when the categories are known-incompatible per the category table.
func titleScore(jdVec, cvVec []float32, jdCategory, cvCategory string, table *config.CategoryTable) float64 {
	base := cosineSim(jdVec, cvVec) * 100
	jdCategory, cvCategory = strings.TrimSpace(jdCategory), strings.TrimSpace(cvCategory)
	if jdCategory != "" && cvCategory != "" {
		switch {
		case strings.EqualFold(jdCategory, cvCategory):
			base += 10
		case table.IsIncompatible(cvCategory, jdCategory):
			base -= 20
		}
	}
	return clamp(base, 0, 100)
}

// experienceScore implements the JD-required-years (r) vs CV-years (c)
// formula, including the over-qualification penalty beyond +3 years.
func experienceScore(jdYears, cvYears float64) float64 {
	r, c := jdYears, cvYears
	switch {
	case r == 0:
		return 100
	case c == 0:
		return 0
	case c >= r:
		return clamp(100-math.Min(30, 5*math.Max(0, c-r-3)), 0, 100)
	default:
		return clamp(100*(c/r), 0, 100)
	}
}

func renormalize(w Weights) Weights {
	sum := w.Skills + w.Responsibilities + w.Title + w.Experience
	if sum == 0 {
		return w
	}
	return Weights{
		Skills:           w.Skills / sum,
		Responsibilities: w.Responsibilities / sum,
		Title:            w.Title / sum,
		Experience:       w.Experience / sum,
	}
}

// cosineSim is a dot product clamped to [-1,1]; vectors arriving here are
// already L2-normalized so the dot product equals cosine similarity.
func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return clamp(dot, -1, 1)
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
