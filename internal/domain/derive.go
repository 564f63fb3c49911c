package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TopLabel returns the key with the highest score.
// Ties go to the lexicographically smallest key so the result is stable.
func TopLabel(scores map[string]float64) string {
	keys := sortedKeys(scores)
	top, first := "", true
	for _, k := range keys {
		if first || scores[k] > scores[top] {
			top, first = k, false
		}
	}
	return top
}

// Spread returns max - min over the scores, 0 for an empty map
func Spread(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	first := true
	var lo, hi float64
	for _, v := range scores {
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeTagName trims and lower-cases a tag name
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Humanize turns "daily_life" into "Daily life"
func Humanize(s string) string {
	s = strings.TrimSpace(strings.TrimSuffix(s, "_id"))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

// NewEmotionAnalysis builds a row with TopLabel derived from scores
func NewEmotionAnalysis(contentID, model, version string, scores map[string]float64, runMs *float64, at time.Time) *EmotionAnalysis {
	return &EmotionAnalysis{
		ID:           uuid.New().String(),
		ContentID:    contentID,
		ModelName:    model,
		ModelVersion: version,
		ScoreMap:     scores,
		TopLabel:     TopLabel(scores),
		RunDuration:  runMs,
		AnalyzedAt:   at,
		CreatedAt:    at,
	}
}

// NewCategoryAnalysis builds a row with PrimaryCategory and Confidence derived from scores
func NewCategoryAnalysis(contentID, model, version string, scores map[string]float64, subcategories []string, runMs *float64, at time.Time) *CategoryAnalysis {
	return &CategoryAnalysis{
		ID:              uuid.New().String(),
		ContentID:       contentID,
		ModelName:       model,
		ModelVersion:    version,
		CategoryScores:  scores,
		PrimaryCategory: TopLabel(scores),
		Confidence:      Spread(scores),
		Subcategories:   subcategories,
		RunDuration:     runMs,
		AnalyzedAt:      at,
		CreatedAt:       at,
	}
}
