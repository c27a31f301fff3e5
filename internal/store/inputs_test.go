package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func testDatasetInput(name, digest, context string) entities.DatasetInput {
	input := entities.DatasetInput{
		Dataset: &entities.Dataset{Name: name, Digest: digest, SourceType: "local", Source: "/data/" + name},
	}
	if context != "" {
		input.Tags = []entities.InputTag{{Key: entities.DatasetContextTag, Value: context}}
	}
	return input
}

func TestLogInputsAndReadBack(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	datasets := []entities.DatasetInput{testDatasetInput("train", "d1", "training")}
	models := []entities.LoggedModelInput{{ModelID: "m-abc"}}
	require.NoError(t, s.LogInputs(run.Info.RunID, datasets, models))

	reread, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	require.Len(t, reread.Inputs.DatasetInputs, 1)
	assert.Equal(t, "train", reread.Inputs.DatasetInputs[0].Dataset.Name)
	assert.Equal(t, "d1", reread.Inputs.DatasetInputs[0].Dataset.Digest)
	require.Len(t, reread.Inputs.DatasetInputs[0].Tags, 1)
	assert.Equal(t, "training", reread.Inputs.DatasetInputs[0].Tags[0].Value)
	require.Len(t, reread.Inputs.ModelInputs, 1)
	assert.Equal(t, "m-abc", reread.Inputs.ModelInputs[0].ModelID)
}

func TestLogInputsIdempotent(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	datasets := []entities.DatasetInput{testDatasetInput("train", "d1", "")}
	require.NoError(t, s.LogInputs(run.Info.RunID, datasets, nil))
	require.NoError(t, s.LogInputs(run.Info.RunID, datasets, nil))

	reread, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	assert.Len(t, reread.Inputs.DatasetInputs, 1)
}

func TestLogInputsNothingToDo(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)
	require.NoError(t, s.LogInputs(run.Info.RunID, nil, nil))
}

func TestRunInputsSkipsDanglingDatasetEdge(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)
	require.NoError(t, s.LogInputs(run.Info.RunID, []entities.DatasetInput{testDatasetInput("train", "d1", "")}, nil))

	// remove the dataset document, leaving the edge behind
	experimentDir := filepath.Join(s.rootDirectory, run.Info.ExperimentID)
	datasetID := contentID("train", "d1")
	require.NoError(t, s.fs.RemoveAll(filepath.Join(experimentDir, DatasetsFolderName, datasetID)))

	reread, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	assert.Empty(t, reread.Inputs.DatasetInputs)
}

func TestLogOutputsAndReadBack(t *testing.T) {
	s := newTestStore(t)
	run := createTestRun(t, s)

	require.NoError(t, s.LogOutputs(run.Info.RunID, []entities.LoggedModelOutput{{ModelID: "m-out", Step: 3}}))
	require.NoError(t, s.LogOutputs(run.Info.RunID, []entities.LoggedModelOutput{{ModelID: "m-out", Step: 9}}))

	reread, err := s.GetRun(run.Info.RunID)
	require.NoError(t, err)
	require.Len(t, reread.Outputs.ModelOutputs, 1)
	assert.Equal(t, "m-out", reread.Outputs.ModelOutputs[0].ModelID)
	// first write wins
	assert.Equal(t, int64(3), reread.Outputs.ModelOutputs[0].Step)
}

func TestSearchDatasetsDeduplicates(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("data-home", "", nil)
	require.NoError(t, err)

	first, err := s.CreateRun(id, "", 1, nil, "r1")
	require.NoError(t, err)
	second, err := s.CreateRun(id, "", 2, nil, "r2")
	require.NoError(t, err)

	require.NoError(t, s.LogInputs(first.Info.RunID, []entities.DatasetInput{testDatasetInput("train", "d1", "training")}, nil))
	require.NoError(t, s.LogInputs(second.Info.RunID, []entities.DatasetInput{testDatasetInput("train", "d1", "training")}, nil))
	require.NoError(t, s.LogInputs(second.Info.RunID, []entities.DatasetInput{testDatasetInput("eval", "d2", "eval")}, nil))

	summaries, err := s.SearchDatasets([]string{id})
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestContentIDStable(t *testing.T) {
	assert.Equal(t, contentID("a", "b"), contentID("a", "b"))
	assert.NotEqual(t, contentID("a", "b"), contentID("b", "a"))
	assert.Len(t, contentID("a", "b"), 32)
}
