package store

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	cfg := &Config{RootDirectory: "/mlruns"}
	s, err := NewFileStore(cfg, afero.NewMemMapFs())
	require.NoError(t, err)
	return s
}

func TestNewFileStoreCreatesDefaultExperiment(t *testing.T) {
	s := newTestStore(t)

	experiment, err := s.GetExperiment(DefaultExperimentID)
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultExperimentName, experiment.Name)
	assert.Equal(t, entities.LifecycleStageActive, experiment.LifecycleStage)

	exists, err := afero.DirExists(s.fs, s.trashFolder)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNewFileStoreExistingRootKeepsExperiments(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := &Config{RootDirectory: "/mlruns"}
	s, err := NewFileStore(cfg, fs)
	require.NoError(t, err)
	id, err := s.CreateExperiment("persisted", "", nil)
	require.NoError(t, err)

	reopened, err := NewFileStore(cfg, fs)
	require.NoError(t, err)
	experiment, err := reopened.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", experiment.Name)
}

func TestGetExperimentEmptyIDFallsBackToDefault(t *testing.T) {
	s := newTestStore(t)
	experiment, err := s.GetExperiment("")
	require.NoError(t, err)
	assert.Equal(t, DefaultExperimentID, experiment.ExperimentID)
}

func TestNewIDFormats(t *testing.T) {
	assert.Len(t, newRunID(), 32)
	assert.Regexp(t, `^m-[0-9a-f]{32}$`, newModelID())
	assert.Regexp(t, `^tr-[0-9a-f]{32}$`, newTraceID())
	assert.Regexp(t, `^a-[0-9a-f]{32}$`, newAssessmentID())
	assert.Regexp(t, `^\d+$`, newExperimentID())
}
