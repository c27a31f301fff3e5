package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func TestDeletedRunsHonorsAgeThreshold(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("gc-age", "", nil)
	require.NoError(t, err)
	oldRun, err := s.CreateRun(id, "", 1, nil, "old")
	require.NoError(t, err)
	newRun, err := s.CreateRun(id, "", 2, nil, "new")
	require.NoError(t, err)

	s.nowMillis = func() int64 { return 1_000 }
	require.NoError(t, s.DeleteRun(oldRun.Info.RunID))
	s.nowMillis = func() int64 { return 9_000 }
	require.NoError(t, s.DeleteRun(newRun.Info.RunID))

	s.nowMillis = func() int64 { return 10_000 }
	all, err := s.DeletedRuns(0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{oldRun.Info.RunID, newRun.Info.RunID}, all)

	aged, err := s.DeletedRuns(5_000)
	require.NoError(t, err)
	assert.Equal(t, []string{oldRun.Info.RunID}, aged)
}

func TestDeletedRunsIncludesDeletedExperiments(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("gc-exp", "", nil)
	require.NoError(t, err)
	run, err := s.CreateRun(id, "", 1, nil, "r")
	require.NoError(t, err)
	require.NoError(t, s.DeleteExperiment(id))

	runIDs, err := s.DeletedRuns(0)
	require.NoError(t, err)
	assert.Contains(t, runIDs, run.Info.RunID)
}

func TestHardDeleteRun(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("gc-hard", "", nil)
	require.NoError(t, err)
	run, err := s.CreateRun(id, "", 1, nil, "r")
	require.NoError(t, err)
	require.NoError(t, s.DeleteRun(run.Info.RunID))

	require.NoError(t, s.HardDeleteRun(run.Info.RunID))
	_, err = s.GetRun(run.Info.RunID)
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))
}

func TestHardDeleteExperiment(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("gc-expire", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteExperiment(id))

	require.NoError(t, s.HardDeleteExperiment(id))
	_, err = s.GetExperiment(id)
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))
}

func TestHardDeleteExperimentRequiresSoftDelete(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("gc-active", "", nil)
	require.NoError(t, err)

	err = s.HardDeleteExperiment(id)
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))
}
