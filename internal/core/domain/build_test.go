package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Build Creation Tests
// =============================================================================

func TestNewBuild(t *testing.T) {
	b := NewBuild("demo", "20260221.143022")

	assert.Contains(t, b.ID, "bld_")
	assert.Equal(t, "demo", b.AppName)
	assert.Equal(t, "20260221.143022", b.Version)
	assert.Equal(t, StageSyncing, b.Stage)
	assert.Empty(t, b.Error)
	assert.NotZero(t, b.StartedAt)
	assert.Equal(t, time.UTC, b.StartedAt.Location())
	assert.Nil(t, b.FinishedAt)
}

func TestNewBuild_UniqueIDs(t *testing.T) {
	a := NewBuild("demo", "20260221.143022")
	b := NewBuild("demo", "20260221.143022")
	assert.NotEqual(t, a.ID, b.ID)
}

// =============================================================================
// Stage Transition Tests
// =============================================================================

func TestValidateStageTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    BuildStage
		to      BuildStage
		wantErr bool
	}{
		{"syncing to building", StageSyncing, StageBuilding, false},
		{"building to pushing", StageBuilding, StagePushing, false},
		{"pushing to deploying", StagePushing, StageDeploying, false},
		{"deploying to succeeded", StageDeploying, StageSucceeded, false},
		{"syncing to failed", StageSyncing, StageFailed, false},
		{"building to failed", StageBuilding, StageFailed, false},
		{"pushing to failed", StagePushing, StageFailed, false},
		{"deploying to failed", StageDeploying, StageFailed, false},
		{"skip a stage", StageSyncing, StagePushing, true},
		{"skip to terminal", StageBuilding, StageSucceeded, true},
		{"repeat stage", StageBuilding, StageBuilding, true},
		{"backward", StagePushing, StageBuilding, true},
		{"out of succeeded", StageSucceeded, StageFailed, true},
		{"out of failed", StageFailed, StageSyncing, true},
		{"unknown from", BuildStage("bogus"), StageBuilding, true},
		{"unknown to", StageSyncing, BuildStage("bogus"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStageTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTerminalStage(t *testing.T) {
	assert.True(t, IsTerminalStage(StageSucceeded))
	assert.True(t, IsTerminalStage(StageFailed))
	assert.False(t, IsTerminalStage(StageSyncing))
	assert.False(t, IsTerminalStage(StageBuilding))
	assert.False(t, IsTerminalStage(StagePushing))
	assert.False(t, IsTerminalStage(StageDeploying))
}

// =============================================================================
// Advance Tests
// =============================================================================

func TestBuildAdvance_FullPipeline(t *testing.T) {
	b := NewBuild("demo", "20260221.143022")

	for _, stage := range []BuildStage{StageBuilding, StagePushing, StageDeploying} {
		require.NoError(t, b.Advance(stage))
		assert.Equal(t, stage, b.Stage)
		assert.Nil(t, b.FinishedAt)
	}

	require.NoError(t, b.Advance(StageSucceeded))
	assert.Equal(t, StageSucceeded, b.Stage)
	require.NotNil(t, b.FinishedAt)
	assert.Equal(t, time.UTC, b.FinishedAt.Location())
	assert.Empty(t, b.Error)
}

func TestBuildAdvance_Invalid(t *testing.T) {
	b := NewBuild("demo", "20260221.143022")

	err := b.Advance(StageDeploying)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StageSyncing, b.Stage)
	assert.Nil(t, b.FinishedAt)
}

func TestBuildAdvance_TerminalIsFinal(t *testing.T) {
	b := NewBuild("demo", "20260221.143022")
	require.NoError(t, b.Advance(StageFailed))

	assert.ErrorIs(t, b.Advance(StageSyncing), ErrInvalidTransition)
	assert.Equal(t, StageFailed, b.Stage)
}

// =============================================================================
// Fail Tests
// =============================================================================

func TestBuildFail(t *testing.T) {
	b := NewBuild("demo", "20260221.143022")
	require.NoError(t, b.Advance(StageBuilding))

	b.Fail("docker build exited with code 1")

	assert.Equal(t, StageFailed, b.Stage)
	assert.Equal(t, "docker build exited with code 1", b.Error)
	require.NotNil(t, b.FinishedAt)
	assert.Equal(t, time.UTC, b.FinishedAt.Location())
}

func TestBuildFail_FromSyncing(t *testing.T) {
	b := NewBuild("demo", "20260221.143022")

	b.Fail("git fetch failed")

	assert.Equal(t, StageFailed, b.Stage)
	assert.Equal(t, "git fetch failed", b.Error)
	assert.NotNil(t, b.FinishedAt)
}
