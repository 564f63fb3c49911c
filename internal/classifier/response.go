package classifier

import (
	"strings"

	"github.com/pbaille/journal/internal/domain"
)

const defaultModelName = "emotion_classifier"

// moodPayload accepts both the short (label/score) and the long
// (mood_label/mood_score) spellings the service has used
type moodPayload struct {
	Label      string             `json:"label" validate:"required_without=MoodLabel"`
	MoodLabel  string             `json:"mood_label"`
	Score      *float64           `json:"score" validate:"omitempty,gte=-1,lte=1"`
	MoodScore  *float64           `json:"mood_score" validate:"omitempty,gte=-1,lte=1"`
	Confidence *float64           `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	Emotions   map[string]float64 `json:"emotions"`
	Model      string             `json:"model"`
	Version    string             `json:"version"`
}

type categoryPayload struct {
	Category      string             `json:"category" validate:"required_without=Label"`
	Label         string             `json:"label"`
	Confidence    *float64           `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	Subcategories []string           `json:"subcategories"`
	Scores        map[string]float64 `json:"scores"`
	Model         string             `json:"model"`
	Version       string             `json:"version"`
}

type analyzeResponse struct {
	Mood             *moodPayload     `json:"mood" validate:"required"`
	Category         *categoryPayload `json:"category" validate:"required"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
	Model            string           `json:"model"`
	Version          string           `json:"version"`
}

func (r *analyzeResponse) normalize() *domain.AnalysisResult {
	m, c := r.Mood, r.Category

	label := strings.TrimSpace(firstNonEmpty(m.Label, m.MoodLabel))
	category := strings.TrimSpace(firstNonEmpty(c.Category, c.Label))

	res := &domain.AnalysisResult{
		ModelName:          firstNonEmpty(r.Model, m.Model, c.Model, defaultModelName),
		ModelVersion:       firstNonEmpty(r.Version, m.Version, c.Version),
		MoodLabel:          label,
		MoodScore:          deref(firstSet(m.Score, m.MoodScore), 0),
		MoodConfidence:     deref(m.Confidence, 0),
		Category:           category,
		CategoryConfidence: deref(c.Confidence, 0),
		Subcategories:      cleanList(c.Subcategories),
		ProcessingTimeMs:   r.ProcessingTimeMs,
	}

	if emotions := copyScores(m.Emotions); len(emotions) > 0 {
		res.MoodScores = emotions
	} else {
		res.MoodScores = map[string]float64{label: deref(m.Confidence, 1.0)}
	}

	// a full score table is kept only when it agrees with the reported category
	if scores := copyScores(c.Scores); len(scores) > 0 && domain.TopLabel(scores) == category {
		res.CategoryScores = scores
	} else {
		res.CategoryScores = map[string]float64{category: deref(c.Confidence, 1.0)}
	}

	return res
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func deref(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// copyScores drops blank labels; a nameless score cannot become a top label
func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = v
		}
	}
	return out
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
