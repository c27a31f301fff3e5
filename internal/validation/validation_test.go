package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func TestValidateKeyNames(t *testing.T) {
	for _, name := range []string{"loss", "train/loss", "mlflow.runName", "a-b_c.d", "eval/nested/acc"} {
		assert.NoError(t, ValidateMetricName(name), "name %q", name)
		assert.NoError(t, ValidateParamName(name), "name %q", name)
		assert.NoError(t, ValidateTagName(name), "name %q", name)
	}

	for _, name := range []string{
		"",
		"/absolute",
		"../escape",
		"a/../b",
		"a//b",
		"a/./b",
		"trailing/",
		strings.Repeat("k", MaxEntityKeyLength+1),
	} {
		err := ValidateMetricName(name)
		require.Error(t, err, "name %q", name)
		assert.True(t, entities.IsInvalidParameterValue(err), "name %q", name)
	}
}

func TestValidateRunID(t *testing.T) {
	assert.NoError(t, ValidateRunID("0123abcdef0123abcdef0123abcdef01"))
	assert.NoError(t, ValidateRunID("my-run_1"))

	for _, id := range []string{"", "-leading-dash", "has space", "../up", "a/b"} {
		assert.Error(t, ValidateRunID(id), "id %q", id)
	}
}

func TestValidateExperimentID(t *testing.T) {
	assert.NoError(t, ValidateExperimentID("0"))
	assert.NoError(t, ValidateExperimentID("123456789012345678"))

	assert.Error(t, ValidateExperimentID(""))
	assert.Error(t, ValidateExperimentID("../other"))
	assert.Error(t, ValidateExperimentID("/root"))
}

func TestValidateExperimentName(t *testing.T) {
	assert.NoError(t, ValidateExperimentName("My Experiment (v2)"))

	assert.Error(t, ValidateExperimentName(""))
	assert.Error(t, ValidateExperimentName(strings.Repeat("n", MaxExperimentNameLength+1)))
}

func TestValidateArtifactLocation(t *testing.T) {
	assert.NoError(t, ValidateArtifactLocation(""))
	assert.NoError(t, ValidateArtifactLocation("s3://bucket/prefix"))
	assert.Error(t, ValidateArtifactLocation(strings.Repeat("u", MaxArtifactLocationLength+1)))
}

func TestValidateModelName(t *testing.T) {
	assert.NoError(t, ValidateModelName(""))
	assert.NoError(t, ValidateModelName("classifier-v3"))

	assert.Error(t, ValidateModelName("../escape"))
	assert.Error(t, ValidateModelName(strings.Repeat("m", MaxEntityKeyLength+1)))
}

func TestValidateMetricDatasetPairing(t *testing.T) {
	assert.NoError(t, ValidateMetric(&entities.Metric{Key: "loss"}))
	assert.NoError(t, ValidateMetric(&entities.Metric{
		Key: "loss", DatasetName: "train", DatasetDigest: "abc123",
	}))

	err := ValidateMetric(&entities.Metric{Key: "loss", DatasetName: "train"})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))

	assert.Error(t, ValidateMetric(&entities.Metric{Key: "loss", DatasetDigest: "abc123"}))
}

func TestValidateParamValueLength(t *testing.T) {
	assert.NoError(t, ValidateParam(&entities.Param{
		Key: "config", Value: strings.Repeat("v", MaxParamValueLength),
	}))

	err := ValidateParam(&entities.Param{
		Key: "config", Value: strings.Repeat("v", MaxParamValueLength+1),
	})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestValidateTagValueLength(t *testing.T) {
	assert.NoError(t, ValidateTagValue(strings.Repeat("v", MaxTagValueLength)))
	assert.Error(t, ValidateTagValue(strings.Repeat("v", MaxTagValueLength+1)))
}

func TestValidateBatchLogBounds(t *testing.T) {
	metrics := make([]entities.Metric, MaxMetricsPerBatch+1)
	for i := range metrics {
		metrics[i] = entities.Metric{Key: "m"}
	}
	assert.Error(t, ValidateBatchLog(metrics, nil, nil))

	params := make([]entities.Param, MaxParamsPerBatch+1)
	for i := range params {
		params[i] = entities.Param{Key: "p", Value: "v"}
	}
	assert.Error(t, ValidateBatchLog(nil, params, nil))

	tags := make([]entities.RunTag, MaxTagsPerBatch+1)
	for i := range tags {
		tags[i] = entities.RunTag{Key: "t", Value: "v"}
	}
	assert.Error(t, ValidateBatchLog(nil, nil, tags))

	assert.NoError(t, ValidateBatchLog(metrics[:10], params[:10], tags[:10]))
}

func TestValidateBatchLogDuplicateParams(t *testing.T) {
	same := []entities.Param{
		{Key: "lr", Value: "0.01"},
		{Key: "lr", Value: "0.01"},
	}
	assert.NoError(t, ValidateBatchLog(nil, same, nil))

	conflicting := []entities.Param{
		{Key: "lr", Value: "0.01"},
		{Key: "lr", Value: "0.02"},
	}
	err := ValidateBatchLog(nil, conflicting, nil)
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestValidateBatchLogChecksEveryEntity(t *testing.T) {
	err := ValidateBatchLog(
		[]entities.Metric{{Key: "ok"}, {Key: "../bad"}}, nil, nil)
	assert.Error(t, err)

	err = ValidateBatchLog(nil, nil, []entities.RunTag{
		{Key: "t", Value: strings.Repeat("v", MaxTagValueLength+1)},
	})
	assert.Error(t, err)
}
