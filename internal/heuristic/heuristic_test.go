package heuristic

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestFallbackScenario(t *testing.T) {
	res := Fallback("Great day", "I feel happy and grateful today")

	// great, happy, grateful
	if math.Abs(res.MoodScore-0.6) > 1e-9 {
		t.Errorf("mood score = %v, want 0.6", res.MoodScore)
	}
	if res.MoodLabel != "very positive" {
		t.Errorf("mood label = %q", res.MoodLabel)
	}
	// feel+happy ties day+today; the earlier category wins
	if res.Category != "emotions_feelings" {
		t.Errorf("category = %q", res.Category)
	}
	if res.MoodConfidence != 0.3 || res.CategoryConfidence != 0.2 {
		t.Errorf("confidences = %v / %v", res.MoodConfidence, res.CategoryConfidence)
	}
	if res.MoodScores[res.MoodLabel] != 0.3 || len(res.MoodScores) != 1 {
		t.Errorf("mood scores = %v", res.MoodScores)
	}
	if res.CategoryScores[res.Category] != 0.2 {
		t.Errorf("category scores = %v", res.CategoryScores)
	}
	if res.ModelName != ModelName {
		t.Errorf("model = %q", res.ModelName)
	}
}

func TestMoodScore(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"", 0},
		{"nothing to see", 0},
		{"good", 0.4},
		{"sad", -0.4},
		{"good and sad", 0},
		{"happy good great", 0.6},
		{"sad angry awful hate", -0.7},
		{"happy happy happy", 0.4},
		{strings.Join(positiveWords, " "), 1.0},
		{strings.Join(negativeWords, " "), -1.0},
	}
	for _, tt := range tests {
		if got := MoodScore(tt.text); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("MoodScore(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMoodLabelBands(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{1.0, "very positive"},
		{0.4, "very positive"},
		{0.39, "positive"},
		{0.1, "positive"},
		{0.05, "neutral"},
		{0, "neutral"},
		{-0.1, "neutral"},
		{-0.2, "negative"},
		{-0.39, "negative"},
		{-0.4, "very negative"},
		{-1.0, "very negative"},
	}
	for _, tt := range tests {
		if got := MoodLabel(tt.score); got != tt.want {
			t.Errorf("MoodLabel(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"", "daily_life"},
		{"xyz", "daily_life"},
		{"long meeting at the office about the project", "work_career"},
		{"went to the gym for a workout", "health_wellness"},
		{"family dinner with my partner", "relationships"},
		{"vacation trip to explore", "travel_adventure"},
		{"played music and a game", "hobbies_interests"},
	}
	for _, tt := range tests {
		if got := Category(tt.text); got != tt.want {
			t.Errorf("Category(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestFallbackClampedAndDeterministic(t *testing.T) {
	inputs := [][2]string{
		{"", ""},
		{"TERRIBLE", "awful awful hate worried anxious depressed sad angry frustrated disappointed"},
		{"Amazing", "wonderful excited grateful good excellent fantastic happy joy love great"},
		{"Mixed", "good day but a terrible meeting"},
	}
	for _, in := range inputs {
		a := Fallback(in[0], in[1])
		b := Fallback(in[0], in[1])
		if !reflect.DeepEqual(a, b) {
			t.Errorf("Fallback(%q) not deterministic: %+v vs %+v", in, a, b)
		}
		if a.MoodScore < -1 || a.MoodScore > 1 {
			t.Errorf("Fallback(%q) score %v out of range", in, a.MoodScore)
		}
	}
}
