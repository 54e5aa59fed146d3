package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Build Stages
// =============================================================================

// BuildStage is the position of one pipeline invocation:
// syncing -> building -> pushing -> deploying -> succeeded | failed.
type BuildStage string

const (
	StageSyncing   BuildStage = "syncing"
	StageBuilding  BuildStage = "building"
	StagePushing   BuildStage = "pushing"
	StageDeploying BuildStage = "deploying"
	StageSucceeded BuildStage = "succeeded"
	StageFailed    BuildStage = "failed"
)

// validStageTransitions defines the strict forward order of the pipeline.
// Any non-terminal stage may fail; no stage is ever skipped or repeated
// within one invocation.
var validStageTransitions = map[BuildStage][]BuildStage{
	StageSyncing:   {StageBuilding, StageFailed},
	StageBuilding:  {StagePushing, StageFailed},
	StagePushing:   {StageDeploying, StageFailed},
	StageDeploying: {StageSucceeded, StageFailed},
	StageSucceeded: {},
	StageFailed:    {},
}

// ValidateStageTransition checks if a pipeline stage transition is valid.
func ValidateStageTransition(from, to BuildStage) error {
	allowed, exists := validStageTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}

// IsTerminalStage reports whether a stage ends the pipeline.
func IsTerminalStage(s BuildStage) bool {
	return s == StageSucceeded || s == StageFailed
}

// =============================================================================
// Build
// =============================================================================

// Build records one pipeline invocation for an application. Error holds the
// failing stage's message when Stage is failed, empty otherwise.
type Build struct {
	ID         string     `json:"id"`
	AppName    string     `json:"app_name"`
	Version    string     `json:"version"`
	Stage      BuildStage `json:"stage"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewBuild creates a build record entering the syncing stage.
func NewBuild(appName, version string) *Build {
	return &Build{
		ID:        "bld_" + uuid.New().String()[:8],
		AppName:   appName,
		Version:   version,
		Stage:     StageSyncing,
		StartedAt: time.Now().UTC(),
	}
}

// Advance attempts to move the build to the next stage.
func (b *Build) Advance(to BuildStage) error {
	if err := ValidateStageTransition(b.Stage, to); err != nil {
		return err
	}
	b.Stage = to
	if IsTerminalStage(to) {
		now := time.Now().UTC()
		b.FinishedAt = &now
	}
	return nil
}

// Fail marks the build failed with the failing stage's error message.
func (b *Build) Fail(message string) {
	b.Stage = StageFailed
	b.Error = message
	now := time.Now().UTC()
	b.FinishedAt = &now
}
