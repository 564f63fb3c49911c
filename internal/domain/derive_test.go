package domain

import (
	"testing"
	"time"
)

func TestTopLabel(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   string
	}{
		{"empty", map[string]float64{}, ""},
		{"single", map[string]float64{"positive": 1.0}, "positive"},
		{"clear max", map[string]float64{"joy": 0.7, "sadness": 0.2, "anger": 0.1}, "joy"},
		{"negative scores", map[string]float64{"a": -0.5, "b": -0.1}, "b"},
		{"tie picks smallest key", map[string]float64{"zeal": 0.5, "calm": 0.5}, "calm"},
		{"blank key can win", map[string]float64{"": 0.9, "joy": 0.1}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TopLabel(tt.scores); got != tt.want {
				t.Errorf("TopLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpread(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", map[string]float64{"daily_life": 1.0}, 0},
		{"range", map[string]float64{"a": 0.9, "b": 0.25, "c": 0.5}, 0.65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Spread(tt.scores)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Spread() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewAnalysesDeriveFields(t *testing.T) {
	at := time.Unix(1700000000, 0)

	emotion := NewEmotionAnalysis("c1", "emotion_classifier", "1.0",
		map[string]float64{"joy": 0.6, "fear": 0.3}, nil, at)
	if emotion.TopLabel != "joy" {
		t.Errorf("TopLabel = %q, want joy", emotion.TopLabel)
	}
	if emotion.ID == "" {
		t.Error("expected generated id")
	}

	category := NewCategoryAnalysis("c1", "category_classifier", "1.0",
		map[string]float64{"work_career": 0.8, "daily_life": 0.3}, []string{"meetings"}, nil, at)
	if category.PrimaryCategory != "work_career" {
		t.Errorf("PrimaryCategory = %q, want work_career", category.PrimaryCategory)
	}
	if diff := category.Confidence - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Confidence = %v, want 0.5", category.Confidence)
	}
}

func TestNormalizeTagName(t *testing.T) {
	if got := NormalizeTagName("  Daily_Life "); got != "daily_life" {
		t.Errorf("NormalizeTagName() = %q", got)
	}
}

func TestHumanize(t *testing.T) {
	tests := map[string]string{
		"daily_life":      "Daily life",
		"work_career":     "Work career",
		"":                "",
		"  spirituality ": "Spirituality",
	}
	for in, want := range tests {
		if got := Humanize(in); got != want {
			t.Errorf("Humanize(%q) = %q, want %q", in, got, want)
		}
	}
}
