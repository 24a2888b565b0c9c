package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckpointJob is queued for every answer slot change and flushed to attempt_checkpoints.
type CheckpointJob struct {
	AttemptID      uuid.UUID `json:"attempt_id"`
	Slot           int       `json:"slot"`
	SelectedOption *int      `json:"selected_option"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StatsJob is queued for every persisted report and folded into exam_stats.
type StatsJob struct {
	ExamID     uuid.UUID `json:"exam_id"`
	Score      int       `json:"score"`
	Percentage float64   `json:"percentage"`
	Passed     bool      `json:"passed"`
}
