package store

import (
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/internal/validation"
	"github.com/Spencerx/mlflow/pkg/record"
	"github.com/Spencerx/mlflow/pkg/search"
)

// persistedLoggedModel is the model meta.yaml layout. Tags, params and
// metrics live in sibling folders and are never part of the document.
type persistedLoggedModel struct {
	ModelID              string      `json:"model_id"`
	ExperimentID         interface{} `json:"experiment_id"`
	Name                 string      `json:"name"`
	ArtifactLocation     string      `json:"artifact_location"`
	CreationTimestamp    int64       `json:"creation_timestamp"`
	LastUpdatedTimestamp int64       `json:"last_updated_timestamp"`
	SourceRunID          string      `json:"source_run_id"`
	ModelType            string      `json:"model_type"`
	Status               string      `json:"status"`
	StatusMessage        string      `json:"status_message"`
	LifecycleStage       string      `json:"lifecycle_stage"`
}

func makePersistedLoggedModel(model *entities.LoggedModel, stage entities.LifecycleStage) *persistedLoggedModel {
	return &persistedLoggedModel{
		ModelID:              model.ModelID,
		ExperimentID:         model.ExperimentID,
		Name:                 model.Name,
		ArtifactLocation:     model.ArtifactLocation,
		CreationTimestamp:    model.CreationTimestamp,
		LastUpdatedTimestamp: model.LastUpdatedTimestamp,
		SourceRunID:          model.SourceRunID,
		ModelType:            model.ModelType,
		Status:               string(model.Status),
		StatusMessage:        model.StatusMessage,
		LifecycleStage:       string(stage),
	}
}

func readPersistedLoggedModel(p *persistedLoggedModel) *entities.LoggedModel {
	return &entities.LoggedModel{
		ModelID:              p.ModelID,
		ExperimentID:         stringFromAny(p.ExperimentID),
		Name:                 p.Name,
		ArtifactLocation:     p.ArtifactLocation,
		CreationTimestamp:    p.CreationTimestamp,
		LastUpdatedTimestamp: p.LastUpdatedTimestamp,
		SourceRunID:          p.SourceRunID,
		ModelType:            p.ModelType,
		Status:               entities.LoggedModelStatus(p.Status),
		StatusMessage:        p.StatusMessage,
	}
}

func (s *FileStore) CreateLoggedModel(experimentID string, name string, sourceRunID string, tags []entities.LoggedModelTag, params []entities.Param, modelType string) (*entities.LoggedModel, error) {
	if name == "" {
		name = randomRunName()
	}
	if err := validation.ValidateModelName(name); err != nil {
		return nil, err
	}
	experiment, err := s.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if experiment.LifecycleStage != entities.LifecycleStageActive {
		return nil, entities.NewError(entities.ErrorCodeInvalidState,
			"Could not create model under non-active experiment with ID %s.", experimentID)
	}
	for i := range params {
		if err := validation.ValidateParam(&params[i]); err != nil {
			return nil, err
		}
	}
	modelID := newModelID()
	now := s.nowMillis()
	model := &entities.LoggedModel{
		ModelID:              modelID,
		ExperimentID:         experiment.ExperimentID,
		Name:                 name,
		ArtifactLocation:     appendToURIPath(experiment.ArtifactLocation, ModelsFolderName, modelID, ArtifactsFolderName),
		CreationTimestamp:    now,
		LastUpdatedTimestamp: now,
		SourceRunID:          sourceRunID,
		ModelType:            modelType,
		Status:               entities.LoggedModelStatusPending,
	}
	modelDir := filepath.Join(s.rootDirectory, experiment.ExperimentID, ModelsFolderName, modelID)
	if err := s.fs.MkdirAll(modelDir, 0o755); err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to create model directory %q", modelDir)
	}
	metaPath := filepath.Join(modelDir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedLoggedModel(model, entities.LifecycleStageActive), false); err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	for _, folder := range []string{MetricsFolderName, ParamsFolderName, TagsFolderName} {
		if err := s.fs.MkdirAll(filepath.Join(modelDir, folder), 0o755); err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to create model directory %q", modelDir)
		}
	}
	if err := s.LogLoggedModelParams(modelID, params); err != nil {
		return nil, err
	}
	if err := s.SetLoggedModelTags(modelID, tags); err != nil {
		return nil, err
	}
	return s.GetLoggedModel(modelID)
}

// findModelDir locates the model folder across all experiments, deleted
// ones included.
func (s *FileStore) findModelDir(modelID string) (string, error) {
	if err := s.checkRootDir(); err != nil {
		return "", err
	}
	active, err := s.activeExperimentIDs()
	if err != nil {
		return "", err
	}
	deleted, err := s.deletedExperimentIDs()
	if err != nil {
		return "", err
	}
	for _, experimentID := range append(active, deleted...) {
		experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, false)
		if err != nil {
			return "", err
		}
		if experimentDir == "" {
			continue
		}
		modelDir := filepath.Join(experimentDir, ModelsFolderName, modelID)
		ok, err := afero.DirExists(s.fs, modelDir)
		if err != nil {
			return "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", modelDir)
		}
		if ok {
			return modelDir, nil
		}
	}
	return "", entities.NewError(entities.ErrorCodeNotFound, "Model %q not found", modelID)
}

// modelFromDir loads a model with its tags, params and metrics. Metrics are
// reduced to the latest value per (key, dataset) group.
func (s *FileStore) modelFromDir(modelDir string) (*entities.LoggedModel, entities.LifecycleStage, error) {
	var persisted persistedLoggedModel
	if err := s.readMeta(filepath.Join(modelDir, MetaDataFileName), &persisted); err != nil {
		return nil, "", err
	}
	model := readPersistedLoggedModel(&persisted)
	tags, err := s.modelTags(modelDir)
	if err != nil {
		return nil, "", err
	}
	model.Tags = tags
	params, err := s.modelParams(modelDir)
	if err != nil {
		return nil, "", err
	}
	model.Params = params
	metrics, err := s.modelMetrics(model.ModelID, modelDir)
	if err != nil {
		return nil, "", err
	}
	model.Metrics = metrics
	return model, entities.LifecycleStage(persisted.LifecycleStage), nil
}

func (s *FileStore) modelTags(modelDir string) ([]entities.LoggedModelTag, error) {
	parent, files, err := s.resourceFiles(modelDir, TagsFolderName)
	if err != nil {
		return nil, err
	}
	tags := make([]entities.LoggedModelTag, 0, len(files))
	for _, key := range files {
		value, err := record.ReadValue(s.fs, filepath.Join(parent, filepath.FromSlash(key)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read model tag %q", key)
		}
		tags = append(tags, entities.LoggedModelTag{Key: key, Value: value})
	}
	return tags, nil
}

func (s *FileStore) modelParams(modelDir string) ([]entities.Param, error) {
	parent, files, err := s.resourceFiles(modelDir, ParamsFolderName)
	if err != nil {
		return nil, err
	}
	params := make([]entities.Param, 0, len(files))
	for _, key := range files {
		value, err := record.ReadValue(s.fs, filepath.Join(parent, filepath.FromSlash(key)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read model param %q", key)
		}
		params = append(params, entities.Param{Key: key, Value: value})
	}
	return params, nil
}

func (s *FileStore) modelMetrics(modelID string, modelDir string) ([]entities.Metric, error) {
	parent, files, err := s.resourceFiles(modelDir, MetricsFolderName)
	if err != nil {
		return nil, err
	}
	var metrics []entities.Metric
	for _, key := range files {
		lines, err := record.ReadLines(s.fs, filepath.Join(parent, filepath.FromSlash(key)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read model metric %q", key)
		}
		type datasetKey struct {
			name   string
			digest string
		}
		current := map[datasetKey]entities.Metric{}
		var order []datasetKey
		for _, line := range lines {
			metric, err := parseModelMetricLine(key, modelID, line)
			if err != nil {
				return nil, err
			}
			group := datasetKey{metric.DatasetName, metric.DatasetDigest}
			existing, ok := current[group]
			if !ok {
				current[group] = metric
				order = append(order, group)
				continue
			}
			if laterMetric(existing, metric) {
				current[group] = metric
			}
		}
		for _, group := range order {
			metrics = append(metrics, current[group])
		}
	}
	return metrics, nil
}

func (s *FileStore) GetLoggedModel(modelID string) (*entities.LoggedModel, error) {
	model, _, err := s.getActiveModel(modelID)
	return model, err
}

// getActiveModel loads a non-deleted model together with the directory it
// was found in, so writers update the real location even when the owning
// experiment sits in the trash.
func (s *FileStore) getActiveModel(modelID string) (*entities.LoggedModel, string, error) {
	modelDir, err := s.findModelDir(modelID)
	if err != nil {
		return nil, "", err
	}
	model, stage, err := s.modelFromDir(modelDir)
	if err != nil {
		return nil, "", err
	}
	if stage == entities.LifecycleStageDeleted {
		return nil, "", entities.NewError(entities.ErrorCodeNotFound, "Model %q not found", modelID)
	}
	if model.ExperimentID != filepath.Base(filepath.Dir(filepath.Dir(modelDir))) {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidState, "Model %q metadata is in invalid state.", modelID)
	}
	return model, modelDir, nil
}

func (s *FileStore) FinalizeLoggedModel(modelID string, status entities.LoggedModelStatus) (*entities.LoggedModel, error) {
	if !status.Valid() {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue, "Invalid model status: %q", status)
	}
	model, modelDir, err := s.getActiveModel(modelID)
	if err != nil {
		return nil, err
	}
	model.Status = status
	model.LastUpdatedTimestamp = s.nowMillis()
	if err := s.overwriteModelMeta(modelDir, model, entities.LifecycleStageActive); err != nil {
		return nil, err
	}
	return s.GetLoggedModel(modelID)
}

// DeleteLoggedModel soft-deletes a model in place; there is no restore.
func (s *FileStore) DeleteLoggedModel(modelID string) error {
	model, modelDir, err := s.getActiveModel(modelID)
	if err != nil {
		return err
	}
	return s.overwriteModelMeta(modelDir, model, entities.LifecycleStageDeleted)
}

func (s *FileStore) overwriteModelMeta(modelDir string, model *entities.LoggedModel, stage entities.LifecycleStage) error {
	metaPath := filepath.Join(modelDir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedLoggedModel(model, stage), true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	return nil
}

// LogLoggedModelParams writes model params. Unlike run params, model params
// may be overwritten.
func (s *FileStore) LogLoggedModelParams(modelID string, params []entities.Param) error {
	for i := range params {
		if err := validation.ValidateParam(&params[i]); err != nil {
			return err
		}
	}
	modelDir, err := s.findModelDir(modelID)
	if err != nil {
		return err
	}
	for _, param := range params {
		paramPath := filepath.Join(modelDir, ParamsFolderName, filepath.FromSlash(param.Key))
		if err := record.WriteValue(s.fs, paramPath, param.Value); err != nil {
			return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write model param %q", param.Key)
		}
	}
	return nil
}

func (s *FileStore) SetLoggedModelTags(modelID string, tags []entities.LoggedModelTag) error {
	for _, tag := range tags {
		if err := validation.ValidateTagName(tag.Key); err != nil {
			return err
		}
		if err := validation.ValidateTagValue(tag.Value); err != nil {
			return err
		}
	}
	modelDir, err := s.findModelDir(modelID)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		tagPath := filepath.Join(modelDir, TagsFolderName, filepath.FromSlash(tag.Key))
		if err := record.WriteValue(s.fs, tagPath, tag.Value); err != nil {
			return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write model tag %q", tag.Key)
		}
	}
	return nil
}

func (s *FileStore) DeleteLoggedModelTag(modelID string, key string) error {
	if err := validation.ValidateTagName(key); err != nil {
		return err
	}
	modelDir, err := s.findModelDir(modelID)
	if err != nil {
		return err
	}
	tagPath := filepath.Join(modelDir, TagsFolderName, filepath.FromSlash(key))
	exists, err := afero.Exists(s.fs, tagPath)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat model tag %q", key)
	}
	if !exists {
		return entities.NewError(entities.ErrorCodeNotFound,
			"No tag with key %q found for model with ID %q.", key, modelID)
	}
	return s.fs.Remove(tagPath)
}

// listModels loads the active models of one experiment, skipping malformed
// folders and models recorded under the wrong experiment.
func (s *FileStore) listModels(experimentID string) ([]*entities.LoggedModel, error) {
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, false)
	if err != nil {
		return nil, err
	}
	if experimentDir == "" {
		return nil, nil
	}
	modelsDir := filepath.Join(experimentDir, ModelsFolderName)
	dirs, _, err := record.ListDir(s.fs, modelsDir)
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", modelsDir)
	}
	models := make([]*entities.LoggedModel, 0, len(dirs))
	for _, modelID := range dirs {
		model, stage, err := s.modelFromDir(filepath.Join(modelsDir, modelID))
		if err != nil {
			if entities.IsMissingConfig(err) {
				log.Debugf("Malformed model %q. Detailed error: %v", modelID, err)
				continue
			}
			return nil, err
		}
		if stage == entities.LifecycleStageDeleted {
			continue
		}
		if model.ExperimentID != experimentID {
			log.Warnf("Wrong experiment ID (%s) recorded for model %q. It should be %s. Model will be ignored.",
				model.ExperimentID, model.ModelID, experimentID)
			continue
		}
		models = append(models, model)
	}
	return models, nil
}

func (s *FileStore) SearchLoggedModels(experimentIDs []string, filter string, orderBy []ModelOrderBy, maxResults int, pageToken string) ([]*entities.LoggedModel, string, error) {
	if maxResults <= 0 {
		maxResults = SearchModelsMaxResultsDefault
	}
	if maxResults > SearchMaxResultsThreshold {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Invalid value %d for parameter 'max_results' supplied. It must be at most %d", maxResults, SearchMaxResultsThreshold)
	}
	for _, clause := range orderBy {
		if clause.DatasetDigest != "" && clause.DatasetName == "" {
			return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
				"`dataset_digest` can only be specified if `dataset_name` is also specified.")
		}
	}
	var models []*entities.LoggedModel
	for _, experimentID := range experimentIDs {
		listed, err := s.listModels(experimentID)
		if err != nil {
			return nil, "", err
		}
		models = append(models, listed...)
	}
	items := make([]modelSearchItem, 0, len(models))
	for _, model := range models {
		items = append(items, modelSearchItem{model})
	}
	filtered, err := search.Filter(items, filter)
	if err != nil {
		return nil, "", err
	}
	sortModels(filtered, orderBy)
	page, nextToken, err := search.Paginate(filtered, pageToken, maxResults)
	if err != nil {
		return nil, "", err
	}
	result := make([]*entities.LoggedModel, 0, len(page))
	for _, item := range page {
		result = append(result, item.model)
	}
	return result, nextToken, nil
}

// sortModels orders models by the given clauses, then by creation time
// descending and model id as the tiebreaker. Metric clauses may be scoped
// to a dataset; models missing the ordering value sort last.
func sortModels(items []modelSearchItem, orderBy []ModelOrderBy) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, clause := range orderBy {
			left, leftOK := items[i].orderingValue(clause)
			right, rightOK := items[j].orderingValue(clause)
			if !leftOK && !rightOK {
				continue
			}
			if !leftOK {
				return false
			}
			if !rightOK {
				return true
			}
			if left == right {
				continue
			}
			if clause.Ascending {
				return lessValue(left, right)
			}
			return lessValue(right, left)
		}
		a, b := items[i].model, items[j].model
		if a.CreationTimestamp != b.CreationTimestamp {
			return a.CreationTimestamp > b.CreationTimestamp
		}
		return a.ModelID < b.ModelID
	})
}

func lessValue(a, b interface{}) bool {
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return af < bf
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as < bs
		}
	}
	return false
}

type modelSearchItem struct {
	model *entities.LoggedModel
}

var _ search.Item = modelSearchItem{}

func (i modelSearchItem) Get(key string) (interface{}, bool) {
	switch key {
	case "attributes.model_id", "attributes.model_uuid":
		return i.model.ModelID, true
	case "attributes.name":
		return i.model.Name, true
	case "attributes.experiment_id":
		return i.model.ExperimentID, true
	case "attributes.artifact_location":
		return i.model.ArtifactLocation, true
	case "attributes.model_type":
		return i.model.ModelType, true
	case "attributes.status":
		return string(i.model.Status), true
	case "attributes.source_run_id":
		return i.model.SourceRunID, true
	case "attributes.creation_timestamp", "attributes.creation_time":
		return float64(i.model.CreationTimestamp), true
	case "attributes.last_updated_timestamp":
		return float64(i.model.LastUpdatedTimestamp), true
	}
	if metricKey, ok := trimQualifier(key, "metrics."); ok {
		for _, metric := range i.model.Metrics {
			if metric.Key == metricKey {
				return metric.Value, true
			}
		}
		return nil, false
	}
	if paramKey, ok := trimQualifier(key, "params."); ok {
		for _, param := range i.model.Params {
			if param.Key == paramKey {
				return param.Value, true
			}
		}
		return nil, false
	}
	if tagKey, ok := trimQualifier(key, "tags."); ok {
		for _, tag := range i.model.Tags {
			if tag.Key == tagKey {
				return tag.Value, true
			}
		}
	}
	return nil, false
}

// orderingValue resolves the value of an order-by clause, honoring the
// clause's dataset scoping for metric fields.
func (i modelSearchItem) orderingValue(clause ModelOrderBy) (interface{}, bool) {
	metricKey, isMetric := trimQualifier(clause.FieldName, "metrics.")
	if !isMetric {
		key := clause.FieldName
		if !strings.Contains(key, ".") {
			key = "attributes." + key
		}
		return i.Get(key)
	}
	for _, metric := range i.model.Metrics {
		if metric.Key != metricKey {
			continue
		}
		if clause.DatasetName != "" && metric.DatasetName != clause.DatasetName {
			continue
		}
		if clause.DatasetDigest != "" && metric.DatasetDigest != clause.DatasetDigest {
			continue
		}
		return metric.Value, true
	}
	return nil, false
}
