// Package domain contains reconciliation run and finding models.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Run is one reconciliation pass over a school's ledger. StartedAt doubles as
// the asOf snapshot instant for every check. A run never stays in running: it
// finishes completed with a summary or failed with the error captured in it.
type Run struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	SchoolID          snowflake.ID      `gorm:"not null;index" json:"school_id"`
	TriggeredByUserID *snowflake.ID     `gorm:"index" json:"triggered_by_user_id,omitempty"`
	Status            RunStatus         `gorm:"type:text;not null;index" json:"status"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	Summary           datatypes.JSONMap `gorm:"type:jsonb" json:"summary,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`
}

func (Run) TableName() string { return "reconciliation_runs" }

// Finding is one anomaly detected by a check.
type Finding struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	RunID      snowflake.ID      `gorm:"not null;index" json:"run_id"`
	SchoolID   snowflake.ID      `gorm:"not null;index" json:"school_id"`
	CheckCode  string            `gorm:"type:text;not null;index" json:"check_code"`
	Severity   Severity          `gorm:"type:text;not null" json:"severity"`
	EntityType string            `gorm:"type:text;not null" json:"entity_type"`
	EntityID   snowflake.ID      `gorm:"not null" json:"entity_id"`
	Message    string            `gorm:"type:text;not null" json:"message"`
	Details    datatypes.JSONMap `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (Finding) TableName() string { return "reconciliation_findings" }

// RunWithFindings is the read shape returned for display.
type RunWithFindings struct {
	Run      *Run       `json:"run"`
	Findings []*Finding `json:"findings"`
}

type Service interface {
	// Run executes the full check battery for the school and returns the
	// persisted Run. Check errors land in the Run's failed state, not in the
	// returned error.
	Run(ctx context.Context, schoolID snowflake.ID, triggeredBy *snowflake.ID) (*Run, error)
	GetRun(ctx context.Context, schoolID, runID snowflake.ID) (*RunWithFindings, error)
	ListRuns(ctx context.Context, schoolID snowflake.ID) ([]*Run, error)
}
