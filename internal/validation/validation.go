// Package validation holds the input rules shared by every tracking store
// operation: key/name path safety, value length limits, and batch bounds.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Spencerx/mlflow/internal/entities"
)

const (
	MaxEntityKeyLength             = 250
	MaxParamValueLength            = 6000
	MaxTagValueLength              = 8000
	MaxExperimentNameLength        = 500
	MaxArtifactLocationLength      = 2048
	MaxMetricsPerBatch             = 1000
	MaxParamsPerBatch              = 100
	MaxTagsPerBatch                = 100
	MaxEntitiesPerBatch            = 1000
)

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][\w\-]*$`)

func invalid(format string, args ...interface{}) error {
	return entities.NewError(entities.ErrorCodeInvalidParameterValue, format, args...)
}

// checkPathName rejects names that would escape the per-entity directory when
// used as a relative file path. Forward slashes are allowed so metric keys can
// nest, but each segment must be a plain file name.
func checkPathName(name string) error {
	if strings.HasPrefix(name, "/") {
		return invalid("Names may not start with '/'. Got name %q", name)
	}
	if path.Clean(name) != name {
		return invalid("Invalid name %q: names must be normalized relative paths", name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "." || segment == ".." || segment == "" {
			return invalid("Invalid name %q: path traversal is not allowed", name)
		}
	}
	return nil
}

func validateKey(name string, what string) error {
	if name == "" {
		return invalid("Missing value for required parameter '%s.key'", what)
	}
	if len(name) > MaxEntityKeyLength {
		return invalid("%s key %q exceeds the maximum length of %d", what, name, MaxEntityKeyLength)
	}
	return checkPathName(name)
}

func ValidateMetricName(name string) error {
	return validateKey(name, "metric")
}

func ValidateParamName(name string) error {
	return validateKey(name, "param")
}

func ValidateTagName(name string) error {
	return validateKey(name, "tag")
}

func ValidateRunID(runID string) error {
	if runID == "" || !runIDPattern.MatchString(runID) {
		return invalid("Invalid run ID: %q", runID)
	}
	return nil
}

func ValidateExperimentID(experimentID string) error {
	if experimentID == "" {
		return invalid("Missing value for required parameter 'experiment_id'")
	}
	return checkPathName(experimentID)
}

func ValidateExperimentName(name string) error {
	if name == "" {
		return invalid("Invalid experiment name: ''")
	}
	if len(name) > MaxExperimentNameLength {
		return invalid("Experiment name exceeds the maximum length of %d characters", MaxExperimentNameLength)
	}
	return nil
}

func ValidateArtifactLocation(location string) error {
	if len(location) > MaxArtifactLocationLength {
		return invalid(
			"Artifact location length of %d exceeded length limit of %d",
			len(location), MaxArtifactLocationLength)
	}
	return nil
}

func ValidateModelName(name string) error {
	if name == "" {
		return nil // a name is generated when absent
	}
	if len(name) > MaxEntityKeyLength {
		return invalid("Model name exceeds the maximum length of %d", MaxEntityKeyLength)
	}
	return checkPathName(name)
}

func ValidateMetric(m *entities.Metric) error {
	if err := ValidateMetricName(m.Key); err != nil {
		return err
	}
	if (m.DatasetName == "") != (m.DatasetDigest == "") {
		return invalid(
			"Metric %q must specify both dataset_name and dataset_digest, or neither", m.Key)
	}
	return nil
}

func ValidateParam(p *entities.Param) error {
	if err := ValidateParamName(p.Key); err != nil {
		return err
	}
	if len(p.Value) > MaxParamValueLength {
		return invalid(
			"Param value %q had length %d, which exceeded length limit of %d",
			truncate(p.Value, 50), len(p.Value), MaxParamValueLength)
	}
	return nil
}

func ValidateTagValue(value string) error {
	if len(value) > MaxTagValueLength {
		return invalid(
			"Tag value had length %d, which exceeded length limit of %d",
			len(value), MaxTagValueLength)
	}
	return nil
}

// ValidateBatchLog enforces the batch bounds and in-batch param uniqueness
// before any write happens.
func ValidateBatchLog(metrics []entities.Metric, params []entities.Param, tags []entities.RunTag) error {
	if len(metrics) > MaxMetricsPerBatch {
		return invalid(
			"A batch may contain at most %d metrics. Got %d", MaxMetricsPerBatch, len(metrics))
	}
	if len(params) > MaxParamsPerBatch {
		return invalid(
			"A batch may contain at most %d params. Got %d", MaxParamsPerBatch, len(params))
	}
	if len(tags) > MaxTagsPerBatch {
		return invalid("A batch may contain at most %d tags. Got %d", MaxTagsPerBatch, len(tags))
	}
	if total := len(metrics) + len(params) + len(tags); total > MaxEntitiesPerBatch {
		return invalid(
			"A batch may contain at most %d entities. Got %d", MaxEntitiesPerBatch, total)
	}
	for i := range metrics {
		if err := ValidateMetric(&metrics[i]); err != nil {
			return err
		}
	}
	seen := make(map[string]string, len(params))
	for i := range params {
		if err := ValidateParam(&params[i]); err != nil {
			return err
		}
		if prev, ok := seen[params[i].Key]; ok && prev != params[i].Value {
			return invalid(
				"Duplicate parameter key %q with different values in a single batch",
				params[i].Key)
		}
		seen[params[i].Key] = params[i].Value
	}
	for i := range tags {
		if err := ValidateTagName(tags[i].Key); err != nil {
			return err
		}
		if err := ValidateTagValue(tags[i].Value); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
