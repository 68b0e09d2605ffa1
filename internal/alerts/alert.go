package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity classifies an alert by the score that produced it.
type Severity string

const (
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor derives the severity from a score: ≥80 critical, ≥60 high,
// anything lower moderate.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	default:
		return SeverityModerate
	}
}

// Alert is a fired threshold crossing. It is a value type and is never
// modified after creation.
type Alert struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Score       float64   `json:"score"`
	TargetScore float64   `json:"target_score"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewAlert builds an Alert with a fresh ID and the severity fixed from score.
func NewAlert(ticker string, score, target float64, at time.Time) Alert {
	return Alert{
		ID:          uuid.NewString(),
		Ticker:      ticker,
		Score:       score,
		TargetScore: target,
		Severity:    SeverityFor(score),
		Timestamp:   at.UTC(),
	}
}

// Title is a one-line headline used by notification channels.
func (a Alert) Title() string {
	return fmt.Sprintf("Squeeze alert: %s", a.Ticker)
}

// Message is the human-readable alert body.
func (a Alert) Message() string {
	return fmt.Sprintf("[%s] %s score %.1f crossed target %.0f at %s",
		a.Severity, a.Ticker, a.Score, a.TargetScore, a.Timestamp.Format(time.RFC3339))
}
