package store

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func createTestModel(t *testing.T, s *FileStore, experimentID string, name string) *entities.LoggedModel {
	t.Helper()
	model, err := s.CreateLoggedModel(experimentID, name, "", nil, nil, "sklearn")
	require.NoError(t, err)
	return model
}

func TestCreateLoggedModel(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("model-home", "", nil)
	require.NoError(t, err)

	model, err := s.CreateLoggedModel(id, "classifier", "run123", []entities.LoggedModelTag{{Key: "stage", Value: "dev"}},
		[]entities.Param{{Key: "depth", Value: "8"}}, "sklearn")
	require.NoError(t, err)

	assert.Regexp(t, `^m-[0-9a-f]{32}$`, model.ModelID)
	assert.Equal(t, "classifier", model.Name)
	assert.Equal(t, id, model.ExperimentID)
	assert.Equal(t, "run123", model.SourceRunID)
	assert.Equal(t, entities.LoggedModelStatusPending, model.Status)
	assert.Contains(t, model.ArtifactLocation, model.ModelID)
	require.Len(t, model.Tags, 1)
	require.Len(t, model.Params, 1)
	assert.Equal(t, "8", model.Params[0].Value)
}

func TestCreateLoggedModelGeneratesName(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("anon-models", "", nil)
	require.NoError(t, err)
	model := createTestModel(t, s, id, "")
	assert.NotEmpty(t, model.Name)
}

func TestCreateLoggedModelDeletedExperiment(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("no-home", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteExperiment(id))

	_, err = s.CreateLoggedModel(id, "m", "", nil, nil, "")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidState(err))
}

func TestFinalizeLoggedModel(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("finalize", "", nil)
	require.NoError(t, err)
	model := createTestModel(t, s, id, "m")

	finalized, err := s.FinalizeLoggedModel(model.ModelID, entities.LoggedModelStatusReady)
	require.NoError(t, err)
	assert.Equal(t, entities.LoggedModelStatusReady, finalized.Status)

	_, err = s.FinalizeLoggedModel(model.ModelID, entities.LoggedModelStatus("NONSENSE"))
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestDeleteLoggedModel(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("delete-model", "", nil)
	require.NoError(t, err)
	model := createTestModel(t, s, id, "m")

	require.NoError(t, s.DeleteLoggedModel(model.ModelID))
	_, err = s.GetLoggedModel(model.ModelID)
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))

	// deleted models are invisible to search
	models, _, err := s.SearchLoggedModels([]string{id}, "", nil, 0, "")
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestDeleteLoggedModelUnderDeletedExperiment(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("trashed-model-home", "", nil)
	require.NoError(t, err)
	model := createTestModel(t, s, id, "m")
	require.NoError(t, s.DeleteExperiment(id))

	require.NoError(t, s.DeleteLoggedModel(model.ModelID))

	_, err = s.GetLoggedModel(model.ModelID)
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))

	// the lifecycle flip lands in the trash, not in a fresh root subtree
	strayed, err := afero.DirExists(s.fs, filepath.Join(s.rootDirectory, id))
	require.NoError(t, err)
	assert.False(t, strayed)
}

func TestLoggedModelTagsAndParams(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("model-meta", "", nil)
	require.NoError(t, err)
	model := createTestModel(t, s, id, "m")

	require.NoError(t, s.SetLoggedModelTags(model.ModelID, []entities.LoggedModelTag{{Key: "k", Value: "v1"}}))
	require.NoError(t, s.SetLoggedModelTags(model.ModelID, []entities.LoggedModelTag{{Key: "k", Value: "v2"}}))
	// model params are overwritable, unlike run params
	require.NoError(t, s.LogLoggedModelParams(model.ModelID, []entities.Param{{Key: "p", Value: "1"}}))
	require.NoError(t, s.LogLoggedModelParams(model.ModelID, []entities.Param{{Key: "p", Value: "2"}}))

	reread, err := s.GetLoggedModel(model.ModelID)
	require.NoError(t, err)
	require.Len(t, reread.Tags, 1)
	assert.Equal(t, "v2", reread.Tags[0].Value)
	require.Len(t, reread.Params, 1)
	assert.Equal(t, "2", reread.Params[0].Value)

	require.NoError(t, s.DeleteLoggedModelTag(model.ModelID, "k"))
	err = s.DeleteLoggedModelTag(model.ModelID, "k")
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))
}

func TestModelMetricsGroupedByDataset(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("model-metrics", "", nil)
	require.NoError(t, err)
	run, err := s.CreateRun(id, "", 1, nil, "r")
	require.NoError(t, err)
	model := createTestModel(t, s, id, "m")

	log := func(value float64, step int64, dataset string) {
		metric := entities.Metric{Key: "acc", Value: value, Timestamp: step, Step: step, ModelID: model.ModelID}
		if dataset != "" {
			metric.DatasetName = dataset
			metric.DatasetDigest = dataset + "-digest"
		}
		require.NoError(t, s.LogMetric(run.Info.RunID, metric))
	}
	log(0.5, 1, "train")
	log(0.8, 2, "train")
	log(0.6, 1, "eval")
	log(0.4, 1, "")

	reread, err := s.GetLoggedModel(model.ModelID)
	require.NoError(t, err)
	// one entry per (key, dataset) group, each the latest of its group
	require.Len(t, reread.Metrics, 3)
	values := map[string]float64{}
	for _, metric := range reread.Metrics {
		values[metric.DatasetName] = metric.Value
		assert.Equal(t, run.Info.RunID, metric.RunID)
		assert.Equal(t, model.ModelID, metric.ModelID)
	}
	assert.Equal(t, 0.8, values["train"])
	assert.Equal(t, 0.6, values["eval"])
	assert.Equal(t, 0.4, values[""])
}

func TestSearchLoggedModelsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("model-search", "", nil)
	require.NoError(t, err)
	run, err := s.CreateRun(id, "", 1, nil, "r")
	require.NoError(t, err)

	first := createTestModel(t, s, id, "model-a")
	second := createTestModel(t, s, id, "model-b")
	require.NoError(t, s.LogMetric(run.Info.RunID, entities.Metric{Key: "acc", Value: 0.3, Timestamp: 1, ModelID: first.ModelID}))
	require.NoError(t, s.LogMetric(run.Info.RunID, entities.Metric{Key: "acc", Value: 0.9, Timestamp: 1, ModelID: second.ModelID}))

	byName, _, err := s.SearchLoggedModels([]string{id}, "name = 'model-a'", nil, 0, "")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, first.ModelID, byName[0].ModelID)

	ordered, _, err := s.SearchLoggedModels([]string{id}, "",
		[]ModelOrderBy{{FieldName: "metrics.acc", Ascending: false}}, 0, "")
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, second.ModelID, ordered[0].ModelID)
}

func TestSearchLoggedModelsDatasetScopedOrdering(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("scoped-order", "", nil)
	require.NoError(t, err)
	run, err := s.CreateRun(id, "", 1, nil, "r")
	require.NoError(t, err)

	first := createTestModel(t, s, id, "model-a")
	second := createTestModel(t, s, id, "model-b")
	// on the eval dataset, first beats second; overall values say otherwise
	require.NoError(t, s.LogMetric(run.Info.RunID, entities.Metric{Key: "acc", Value: 0.9, Timestamp: 1, ModelID: first.ModelID, DatasetName: "eval", DatasetDigest: "e1"}))
	require.NoError(t, s.LogMetric(run.Info.RunID, entities.Metric{Key: "acc", Value: 0.2, Timestamp: 1, ModelID: second.ModelID, DatasetName: "eval", DatasetDigest: "e1"}))
	require.NoError(t, s.LogMetric(run.Info.RunID, entities.Metric{Key: "acc", Value: 0.99, Timestamp: 1, ModelID: second.ModelID, DatasetName: "train", DatasetDigest: "t1"}))

	ordered, _, err := s.SearchLoggedModels([]string{id}, "",
		[]ModelOrderBy{{FieldName: "metrics.acc", Ascending: false, DatasetName: "eval", DatasetDigest: "e1"}}, 0, "")
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, first.ModelID, ordered[0].ModelID)
}

func TestSearchLoggedModelsDigestRequiresName(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.SearchLoggedModels(nil, "", []ModelOrderBy{{FieldName: "metrics.acc", DatasetDigest: "d"}}, 0, "")
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestSearchLoggedModelsPagination(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("model-pages", "", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		createTestModel(t, s, id, "")
	}

	page, token, err := s.SearchLoggedModels([]string{id}, "", nil, 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	require.NotEmpty(t, token)

	page, token, err = s.SearchLoggedModels([]string{id}, "", nil, 3, token)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Empty(t, token)
}
