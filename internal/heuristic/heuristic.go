// Package heuristic is the local keyword estimator used when the analysis
// service cannot be reached. It is a pure function of its input.
package heuristic

import (
	"strings"

	"github.com/pbaille/journal/internal/domain"
)

const (
	ModelName    = "keyword_heuristic"
	ModelVersion = "1"

	MoodConfidence     = 0.3
	CategoryConfidence = 0.2

	DefaultCategory = "daily_life"
)

var (
	positiveWords = []string{"happy", "joy", "love", "great", "amazing", "wonderful", "excited", "grateful", "good", "excellent", "fantastic"}
	negativeWords = []string{"sad", "angry", "frustrated", "disappointed", "terrible", "awful", "hate", "worried", "anxious", "depressed"}
)

type categoryKeywords struct {
	name  string
	words []string
}

// order matters: the first category with the highest count wins
var categories = []categoryKeywords{
	{"work_career", []string{"work", "job", "career", "office", "meeting", "project", "business"}},
	{"relationships", []string{"family", "friend", "love", "relationship", "partner", "spouse"}},
	{"health_wellness", []string{"health", "fitness", "exercise", "gym", "workout", "medical", "doctor"}},
	{"travel_adventure", []string{"travel", "trip", "vacation", "adventure", "explore", "journey"}},
	{"emotions_feelings", []string{"feel", "feeling", "emotion", "mood", "happy", "sad", "angry"}},
	{"personal_growth", []string{"goal", "learn", "growth", "improve", "development", "self"}},
	{"hobbies_interests", []string{"hobby", "art", "music", "reading", "game", "creative"}},
	{"daily_life", []string{"day", "today", "routine", "morning", "evening", "home"}},
}

// Fallback estimates mood and category from keyword hits. It never fails.
func Fallback(title, content string) *domain.AnalysisResult {
	text := strings.ToLower(title + " " + content)

	score := MoodScore(text)
	label := MoodLabel(score)
	category := Category(text)

	return &domain.AnalysisResult{
		ModelName:          ModelName,
		ModelVersion:       ModelVersion,
		MoodLabel:          label,
		MoodScore:          score,
		MoodConfidence:     MoodConfidence,
		MoodScores:         map[string]float64{label: MoodConfidence},
		Category:           category,
		CategoryConfidence: CategoryConfidence,
		CategoryScores:     map[string]float64{category: CategoryConfidence},
	}
}

// MoodScore scores lower-cased text in [-1, 1]. Each listed word counts
// once if it appears anywhere in the text.
func MoodScore(text string) float64 {
	diff := countHits(text, positiveWords) - countHits(text, negativeWords)

	// tenths are kept integral so band edges compare exactly
	var tenths int
	switch {
	case diff > 0:
		tenths = 3 + diff
	case diff < 0:
		tenths = -3 + diff
	}
	if tenths > 10 {
		tenths = 10
	}
	if tenths < -10 {
		tenths = -10
	}
	return float64(tenths) / 10
}

// MoodLabel maps a score onto the fixed bands
func MoodLabel(score float64) string {
	switch {
	case score >= 0.4:
		return "very positive"
	case score >= 0.1:
		return "positive"
	case score >= -0.1:
		return "neutral"
	case score > -0.4:
		return "negative"
	default:
		return "very negative"
	}
}

// Category picks the category whose keywords hit most often, daily_life when none hit
func Category(text string) string {
	best, bestCount := DefaultCategory, 0
	for _, c := range categories {
		if n := countHits(text, c.words); n > bestCount {
			best, bestCount = c.name, n
		}
	}
	return best
}

func countHits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}
