package store

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/internal/validation"
	"github.com/Spencerx/mlflow/pkg/record"
	"github.com/Spencerx/mlflow/pkg/search"
)

// Metric history lines are space separated. Run-scoped lines carry
// "timestamp value", "timestamp value step" or, with dataset linkage,
// "timestamp value step dataset_name dataset_digest". Model-scoped lines
// additionally carry the source run id after the step, giving 4 or 6
// fields. Any other field count marks a corrupt file.
var (
	runMetricLineFields   = map[int]bool{2: true, 3: true, 5: true}
	modelMetricLineFields = map[int]bool{4: true, 6: true}
)

func formatMetricValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func runMetricLine(metric entities.Metric) string {
	fields := []string{
		strconv.FormatInt(metric.Timestamp, 10),
		formatMetricValue(metric.Value),
		strconv.FormatInt(metric.Step, 10),
	}
	if metric.DatasetName != "" || metric.DatasetDigest != "" {
		fields = append(fields, metric.DatasetName, metric.DatasetDigest)
	}
	return strings.Join(fields, " ")
}

func modelMetricLine(metric entities.Metric, runID string) string {
	fields := []string{
		strconv.FormatInt(metric.Timestamp, 10),
		formatMetricValue(metric.Value),
		strconv.FormatInt(metric.Step, 10),
		runID,
	}
	if metric.DatasetName != "" || metric.DatasetDigest != "" {
		fields = append(fields, metric.DatasetName, metric.DatasetDigest)
	}
	return strings.Join(fields, " ")
}

func parseRunMetricLine(key string, line string) (entities.Metric, error) {
	fields := strings.Fields(line)
	if !runMetricLineFields[len(fields)] {
		return entities.Metric{}, entities.NewError(entities.ErrorCodeInternal,
			"Metric %q is malformed; persisted metric data contained %d fields. Expected 2, 3, or 5 fields.", key, len(fields))
	}
	metric, err := metricFromFields(key, fields, 0)
	if err != nil {
		return entities.Metric{}, err
	}
	if len(fields) == 5 {
		metric.DatasetName = fields[3]
		metric.DatasetDigest = fields[4]
	}
	return metric, nil
}

func parseModelMetricLine(key string, modelID string, line string) (entities.Metric, error) {
	fields := strings.Fields(line)
	if !modelMetricLineFields[len(fields)] {
		return entities.Metric{}, entities.NewError(entities.ErrorCodeInternal,
			"Metric %q is malformed; persisted metric data contained %d fields. Expected 4 or 6 fields.", key, len(fields))
	}
	metric, err := metricFromFields(key, fields, 0)
	if err != nil {
		return entities.Metric{}, err
	}
	metric.RunID = fields[3]
	metric.ModelID = modelID
	if len(fields) == 6 {
		metric.DatasetName = fields[4]
		metric.DatasetDigest = fields[5]
	}
	return metric, nil
}

func metricFromFields(key string, fields []string, offset int) (entities.Metric, error) {
	timestamp, err := strconv.ParseInt(fields[offset], 10, 64)
	if err != nil {
		return entities.Metric{}, entities.WrapError(err, entities.ErrorCodeInternal, "Metric %q has a malformed timestamp", key)
	}
	value, err := strconv.ParseFloat(fields[offset+1], 64)
	if err != nil {
		return entities.Metric{}, entities.WrapError(err, entities.ErrorCodeInternal, "Metric %q has a malformed value", key)
	}
	metric := entities.Metric{Key: key, Timestamp: timestamp, Value: value}
	if len(fields) > offset+2 {
		step, err := parseRunStep(fields[offset+2])
		if err != nil {
			return entities.Metric{}, entities.WrapError(err, entities.ErrorCodeInternal, "Metric %q has a malformed step", key)
		}
		metric.Step = step
	}
	return metric, nil
}

// laterMetric reports whether b supersedes a as the current value of a
// metric. Ordering is by step, then timestamp, then value.
func laterMetric(a, b entities.Metric) bool {
	if b.Step != a.Step {
		return b.Step > a.Step
	}
	if b.Timestamp != a.Timestamp {
		return b.Timestamp > a.Timestamp
	}
	return b.Value > a.Value
}

func (s *FileStore) LogMetric(runID string, metric entities.Metric) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	return s.logMetric(info, runDir, metric)
}

func (s *FileStore) logMetric(info *entities.RunInfo, runDir string, metric entities.Metric) error {
	if err := validation.ValidateMetric(&metric); err != nil {
		return err
	}
	if (metric.DatasetName == "") != (metric.DatasetDigest == "") {
		return entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Metric %q must specify both dataset_name and dataset_digest, or neither.", metric.Key)
	}
	metricPath := filepath.Join(runDir, MetricsFolderName, filepath.FromSlash(metric.Key))
	if err := record.AppendLine(s.fs, metricPath, runMetricLine(metric)); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to append metric %q", metric.Key)
	}
	if metric.ModelID == "" {
		return nil
	}
	modelDir, err := s.findModelDir(metric.ModelID)
	if err != nil {
		return err
	}
	modelMetricPath := filepath.Join(modelDir, MetricsFolderName, filepath.FromSlash(metric.Key))
	if err := record.AppendLine(s.fs, modelMetricPath, modelMetricLine(metric, info.RunID)); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to append model metric %q", metric.Key)
	}
	return nil
}

// runMetrics returns the current value of every metric logged to a run.
func (s *FileStore) runMetrics(runDir string) ([]entities.Metric, error) {
	parent, files, err := s.resourceFiles(runDir, MetricsFolderName)
	if err != nil {
		return nil, err
	}
	metrics := make([]entities.Metric, 0, len(files))
	for _, key := range files {
		history, err := s.metricHistory(parent, key)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			continue
		}
		current := history[0]
		for _, candidate := range history[1:] {
			if laterMetric(current, candidate) {
				current = candidate
			}
		}
		metrics = append(metrics, current)
	}
	return metrics, nil
}

func (s *FileStore) metricHistory(metricsDir string, key string) ([]entities.Metric, error) {
	lines, err := record.ReadLines(s.fs, filepath.Join(metricsDir, filepath.FromSlash(key)))
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read metric %q", key)
	}
	metrics := make([]entities.Metric, 0, len(lines))
	for _, line := range lines {
		metric, err := parseRunMetricLine(key, line)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, nil
}

func (s *FileStore) GetMetricHistory(runID string, metricKey string, maxResults int, pageToken string) ([]entities.Metric, string, error) {
	if err := validation.ValidateMetricName(metricKey); err != nil {
		return nil, "", err
	}
	_, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return nil, "", err
	}
	metricPath := filepath.Join(runDir, MetricsFolderName, filepath.FromSlash(metricKey))
	exists, err := afero.Exists(s.fs, metricPath)
	if err != nil {
		return nil, "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat metric %q", metricKey)
	}
	if !exists {
		return nil, "", entities.NewError(entities.ErrorCodeNotFound,
			"Metric %q not found under run %q", metricKey, runID)
	}
	history, err := s.metricHistory(filepath.Join(runDir, MetricsFolderName), metricKey)
	if err != nil {
		return nil, "", err
	}
	if maxResults < 1 {
		return history, "", nil
	}
	return search.Paginate(history, pageToken, maxResults)
}

func (s *FileStore) LogParam(runID string, param entities.Param) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	return s.logParam(runDir, param)
}

// logParam writes a param exactly once. Re-logging the identical value is a
// no-op; a different value for an existing key is rejected.
func (s *FileStore) logParam(runDir string, param entities.Param) error {
	if err := validation.ValidateParam(&param); err != nil {
		return err
	}
	paramPath := filepath.Join(runDir, ParamsFolderName, filepath.FromSlash(param.Key))
	exists, err := afero.Exists(s.fs, paramPath)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat param %q", param.Key)
	}
	if exists {
		current, err := record.ReadValue(s.fs, paramPath)
		if err != nil {
			return entities.WrapError(err, entities.ErrorCodeInternal, "failed to read param %q", param.Key)
		}
		if current != param.Value {
			return entities.NewError(entities.ErrorCodeInvalidParameterValue,
				"Changing param values is not allowed. Param with key=%q was already logged with value=%q for run ID=%q. Attempted logging new value %q.",
				param.Key, current, filepath.Base(runDir), param.Value)
		}
		return nil
	}
	if err := record.WriteValue(s.fs, paramPath, param.Value); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write param %q", param.Key)
	}
	return nil
}

func (s *FileStore) runParams(runDir string) ([]entities.Param, error) {
	parent, files, err := s.resourceFiles(runDir, ParamsFolderName)
	if err != nil {
		return nil, err
	}
	params := make([]entities.Param, 0, len(files))
	for _, key := range files {
		value, err := record.ReadValue(s.fs, filepath.Join(parent, filepath.FromSlash(key)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read param %q", key)
		}
		params = append(params, entities.Param{Key: key, Value: value})
	}
	return params, nil
}

func (s *FileStore) SetTag(runID string, tag entities.RunTag) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	return s.setTag(info, runDir, tag)
}

func (s *FileStore) setTag(info *entities.RunInfo, runDir string, tag entities.RunTag) error {
	if err := validation.ValidateTagName(tag.Key); err != nil {
		return err
	}
	if err := validation.ValidateTagValue(tag.Value); err != nil {
		return err
	}
	tagPath := filepath.Join(runDir, TagsFolderName, filepath.FromSlash(tag.Key))
	if err := record.WriteValue(s.fs, tagPath, tag.Value); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write tag %q", tag.Key)
	}
	// the run name tag doubles as the authoritative run name
	if tag.Key == entities.RunNameTag && info.RunName != tag.Value {
		updated := info.Copy()
		updated.RunName = tag.Value
		return s.overwriteRunInfo(runDir, updated, nil)
	}
	return nil
}

func (s *FileStore) DeleteTag(runID string, key string) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	if err := validation.ValidateTagName(key); err != nil {
		return err
	}
	tagPath := filepath.Join(runDir, TagsFolderName, filepath.FromSlash(key))
	exists, err := afero.Exists(s.fs, tagPath)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat tag %q", key)
	}
	if !exists {
		return entities.NewError(entities.ErrorCodeNotFound,
			"No tag with name: %s in run with id %s", key, runID)
	}
	return s.fs.Remove(tagPath)
}

func (s *FileStore) runTags(runDir string) ([]entities.RunTag, error) {
	parent, files, err := s.resourceFiles(runDir, TagsFolderName)
	if err != nil {
		return nil, err
	}
	tags := make([]entities.RunTag, 0, len(files))
	for _, key := range files {
		value, err := record.ReadValue(s.fs, filepath.Join(parent, filepath.FromSlash(key)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read tag %q", key)
		}
		tags = append(tags, entities.RunTag{Key: key, Value: value})
	}
	return tags, nil
}

// LogBatch validates everything before touching the filesystem, then
// applies params, metrics and tags in that order. A mid-batch failure
// leaves earlier writes in place and surfaces as an internal error.
func (s *FileStore) LogBatch(runID string, metrics []entities.Metric, params []entities.Param, tags []entities.RunTag) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	if err := validation.ValidateBatchLog(metrics, params, tags); err != nil {
		return err
	}
	apply := func() error {
		for _, param := range params {
			if err := s.logParam(runDir, param); err != nil {
				return err
			}
		}
		for _, metric := range metrics {
			if err := s.logMetric(info, runDir, metric); err != nil {
				return err
			}
		}
		for _, tag := range tags {
			if err := s.setTag(info, runDir, tag); err != nil {
				return err
			}
		}
		return nil
	}
	if err := apply(); err != nil {
		if entities.IsInvalidParameterValue(err) {
			return err
		}
		return entities.WrapError(err, entities.ErrorCodeInternal, "log_batch failed for run %q", runID)
	}
	return nil
}
