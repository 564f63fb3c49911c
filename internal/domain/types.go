package domain

import "time"

// Content is a journal entry as seen by the analysis pipeline
type Content struct {
	ID                       string    `json:"id"`
	Title                    string    `json:"title"`
	Body                     string    `json:"body"`
	LatestEmotionAnalysisID  *string   `json:"latest_emotion_analysis_id,omitempty"`
	LatestCategoryAnalysisID *string   `json:"latest_category_analysis_id,omitempty"`
	Tags                     []Tag     `json:"tags,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Analyzed reports whether both latest pointers are set
func (c *Content) Analyzed() bool {
	return c.LatestEmotionAnalysisID != nil && c.LatestCategoryAnalysisID != nil
}

// EmotionAnalysis is one scored mood/emotion run against a Content.
// TopLabel is derived from ScoreMap and never set on its own.
type EmotionAnalysis struct {
	ID           string             `json:"id"`
	ContentID    string             `json:"content_id"`
	ModelName    string             `json:"model_name"`
	ModelVersion string             `json:"model_version"`
	ScoreMap     map[string]float64 `json:"score_map"`
	TopLabel     string             `json:"top_label"`
	RunDuration  *float64           `json:"run_duration_ms,omitempty"`
	AnalyzedAt   time.Time          `json:"analyzed_at"`
	CreatedAt    time.Time          `json:"created_at"`
}

// CategoryAnalysis is one scored topic classification run against a Content.
// PrimaryCategory and Confidence are derived from CategoryScores.
type CategoryAnalysis struct {
	ID              string             `json:"id"`
	ContentID       string             `json:"content_id"`
	ModelName       string             `json:"model_name"`
	ModelVersion    string             `json:"model_version"`
	CategoryScores  map[string]float64 `json:"category_scores"`
	PrimaryCategory string             `json:"primary_category"`
	Confidence      float64            `json:"confidence"`
	Subcategories   []string           `json:"subcategories,omitempty"`
	RunDuration     *float64           `json:"run_duration_ms,omitempty"`
	AnalyzedAt      time.Time          `json:"analyzed_at"`
	CreatedAt       time.Time          `json:"created_at"`
}

// TagKind separates user-authored tags from tags derived by analysis
type TagKind string

const (
	TagKindUser   TagKind = "user"
	TagKindSystem TagKind = "system"
)

// Tag is a categorical label; (Name, Kind) is unique
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      TagKind   `json:"kind"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisResult is the normalized output of the remote service or the
// local heuristic; both feed the orchestrator in the same shape
type AnalysisResult struct {
	ModelName          string             `json:"model_name,omitempty"`
	ModelVersion       string             `json:"model_version,omitempty"`
	MoodLabel          string             `json:"mood_label"`
	MoodScore          float64            `json:"mood_score"`
	MoodConfidence     float64            `json:"mood_confidence"`
	MoodScores         map[string]float64 `json:"mood_scores"`
	Category           string             `json:"category"`
	CategoryConfidence float64            `json:"category_confidence"`
	CategoryScores     map[string]float64 `json:"category_scores,omitempty"`
	Subcategories      []string           `json:"subcategories,omitempty"`
	ProcessingTimeMs   float64            `json:"processing_time_ms"`
}

// JobStatus is the persisted state of an analysis job.
// Retrying is not persisted: a retried job goes back to queued with a later run_at.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further attempt will be made
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is one queued request to analyze a Content
type Job struct {
	ID          string     `json:"id"`
	ContentID   string     `json:"content_id"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Insights aggregates the latest analyses across all contents
type Insights struct {
	Contents   int            `json:"contents"`
	Analyzed   int            `json:"analyzed"`
	Moods      map[string]int `json:"moods"`
	Categories map[string]int `json:"categories"`
}
