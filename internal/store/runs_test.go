package store

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func createTestRun(t *testing.T, s *FileStore) *entities.Run {
	t.Helper()
	id, err := s.CreateExperiment("run-home", "", nil)
	require.NoError(t, err)
	run, err := s.CreateRun(id, "alice", 1234, nil, "my-run")
	require.NoError(t, err)
	return run
}

func TestCreateRunDefaults(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	assert.Len(t, run.Info.RunID, 32)
	assert.Equal(t, "my-run", run.Info.RunName)
	assert.Equal(t, entities.RunStatusRunning, run.Info.Status)
	assert.Equal(t, int64(1234), run.Info.StartTime)
	assert.Nil(t, run.Info.EndTime)
	assert.Equal(t, entities.LifecycleStageActive, run.Info.LifecycleStage)
	assert.Contains(t, run.Info.ArtifactURI, run.Info.RunID)

	// the run name is mirrored into the reserved tag
	var nameTag string
	for _, tag := range run.Data.Tags {
		if tag.Key == entities.RunNameTag {
			nameTag = tag.Value
		}
	}
	assert.Equal(t, "my-run", nameTag)
}

func TestCreateRunGeneratesNameWhenMissing(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("anon-runs", "", nil)
	require.NoError(t, err)

	run, err := s.CreateRun(id, "", 1, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, run.Info.RunName)
}

func TestCreateRunNameTagConflict(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("conflict", "", nil)
	require.NoError(t, err)

	tags := []entities.RunTag{{Key: entities.RunNameTag, Value: "tag-name"}}
	_, err = s.CreateRun(id, "", 1, tags, "arg-name")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))

	// matching values are accepted
	run, err := s.CreateRun(id, "", 1, tags, "tag-name")
	require.NoError(t, err)
	assert.Equal(t, "tag-name", run.Info.RunName)
}

func TestCreateRunNameFromTag(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("tag-named", "", nil)
	require.NoError(t, err)

	tags := []entities.RunTag{{Key: entities.RunNameTag, Value: "from-tag"}}
	run, err := s.CreateRun(id, "", 1, tags, "")
	require.NoError(t, err)
	assert.Equal(t, "from-tag", run.Info.RunName)
}

func TestCreateRunUnderDeletedExperiment(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("dead-home", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteExperiment(id))

	_, err = s.CreateRun(id, "", 1, nil, "")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("ffffffffffffffffffffffffffffffff")
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))
}

func TestGetRunInvalidID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun("../escape")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestUpdateRunInfo(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	end := int64(9999)
	info, err := s.UpdateRunInfo(run.Info.RunID, entities.RunStatusFinished, &end, "renamed")
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusFinished, info.Status)
	require.NotNil(t, info.EndTime)
	assert.Equal(t, end, *info.EndTime)
	assert.Equal(t, "renamed", info.RunName)

	// the rename is reflected in the tag as well
	reread, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	var nameTag string
	for _, tag := range reread.Data.Tags {
		if tag.Key == entities.RunNameTag {
			nameTag = tag.Value
		}
	}
	assert.Equal(t, "renamed", nameTag)
}

func TestUpdateRunInfoInvalidStatus(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	_, err := s.UpdateRunInfo(run.Info.RunID, entities.RunStatus("BOGUS"), nil, "")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestDeleteAndRestoreRun(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	require.NoError(t, s.DeleteRun(run.Info.RunID))
	deleted, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	assert.Equal(t, entities.LifecycleStageDeleted, deleted.Info.LifecycleStage)

	// deleted runs refuse writes
	err = s.LogMetric(run.Info.RunID, entities.Metric{Key: "m", Value: 1, Timestamp: 1})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))

	require.NoError(t, s.RestoreRun(run.Info.RunID))
	restored, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	assert.Equal(t, entities.LifecycleStageActive, restored.Info.LifecycleStage)
}

func TestRestoreRunUnderDeletedExperiment(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)
	experimentID := run.Info.ExperimentID
	require.NoError(t, s.DeleteExperiment(experimentID))

	require.NoError(t, s.RestoreRun(run.Info.RunID))

	restored, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	assert.Equal(t, entities.LifecycleStageActive, restored.Info.LifecycleStage)

	// the metadata was updated where the run lives, in the trash; no copy
	// reappears under the root while the experiment stays deleted
	strayed, err := afero.DirExists(s.fs, filepath.Join(s.rootDirectory, experimentID))
	require.NoError(t, err)
	assert.False(t, strayed)
}

func TestSearchRunsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("searchable", "", nil)
	require.NoError(t, err)

	first, err := s.CreateRun(id, "", 100, nil, "first")
	require.NoError(t, err)
	second, err := s.CreateRun(id, "", 200, nil, "second")
	require.NoError(t, err)
	require.NoError(t, s.LogMetric(first.Info.RunID, entities.Metric{Key: "acc", Value: 0.5, Timestamp: 1}))
	require.NoError(t, s.LogMetric(second.Info.RunID, entities.Metric{Key: "acc", Value: 0.9, Timestamp: 1}))

	// default order is start_time descending
	runs, _, err := s.SearchRuns([]string{id}, "", entities.ViewTypeActiveOnly, 10, nil, "")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].Info.RunName)

	filtered, _, err := s.SearchRuns([]string{id}, "metrics.acc > 0.7", entities.ViewTypeActiveOnly, 10, nil, "")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "second", filtered[0].Info.RunName)

	ordered, _, err := s.SearchRuns([]string{id}, "", entities.ViewTypeActiveOnly, 10, []string{"metrics.acc ASC"}, "")
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "first", ordered[0].Info.RunName)
}

func TestSearchRunsViewFiltering(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("views", "", nil)
	require.NoError(t, err)
	keep, err := s.CreateRun(id, "", 1, nil, "keep")
	require.NoError(t, err)
	drop, err := s.CreateRun(id, "", 2, nil, "drop")
	require.NoError(t, err)
	require.NoError(t, s.DeleteRun(drop.Info.RunID))

	active, _, err := s.SearchRuns([]string{id}, "", entities.ViewTypeActiveOnly, 10, nil, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.Info.RunID, active[0].Info.RunID)

	deleted, _, err := s.SearchRuns([]string{id}, "", entities.ViewTypeDeletedOnly, 10, nil, "")
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, drop.Info.RunID, deleted[0].Info.RunID)
}

func TestSearchRunsMaxResultsBounds(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.SearchRuns(nil, "", entities.ViewTypeActiveOnly, 0, nil, "")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))

	_, _, err = s.SearchRuns(nil, "", entities.ViewTypeActiveOnly, SearchMaxResultsThreshold+1, nil, "")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}
