package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Score ranges accepted from scorers.
const (
	MinRelevanceScore = 0.0
	MaxRelevanceScore = 10.0
)

// UserProfile describes the reader whose interests drive relevance scoring.
type UserProfile struct {
	Name                string   `yaml:"name" json:"name"`
	Major               string   `yaml:"major" json:"major"`
	Grade               string   `yaml:"grade" json:"grade"`
	Interests           []string `yaml:"interests" json:"interests"`
	PriorityDepartments []string `yaml:"priorityDepartments" json:"priority_departments"`
	ExcludeCategories   []string `yaml:"excludeCategories" json:"exclude_categories"`
}

// Hash fingerprints the profile; records scored under another profile are stale.
func (p UserProfile) Hash() string {
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// Score is what an external scorer returns for one article.
type Score struct {
	RelevanceScore float64
	Summary        string
	Reason         string
}

// AnalysisRecord is the latest relevance analysis for one article.
type AnalysisRecord struct {
	ArticleID      string    `json:"article_id"`
	Title          string    `json:"title"`
	RelevanceScore float64   `json:"relevance_score"`
	Summary        string    `json:"summary"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
	ProfileHash    string    `json:"profile_hash"`
}

// IsCurrent reports whether the record still describes the article as fetched
// and scored for the given profile.
func (r AnalysisRecord) IsCurrent(entry IndexEntry, profileHash string) bool {
	if r.Timestamp.Before(entry.FetchTime) {
		return false
	}
	return profileHash == "" || r.ProfileHash == profileHash
}

// AnalysisReport counts the outcome of one analysis batch.
type AnalysisReport struct {
	Processed              int `json:"processed"`
	SkippedAlreadyAnalyzed int `json:"skipped_already_analyzed"`
	Failed                 int `json:"failed"`
}

// AnalysisStats summarises the analysis store.
type AnalysisStats struct {
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
	MaxScore     float64 `json:"max_score"`
}
