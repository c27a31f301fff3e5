package store

import (
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/internal/validation"
	"github.com/Spencerx/mlflow/pkg/record"
	"github.com/Spencerx/mlflow/pkg/search"
)

// persistedExperiment is the meta.yaml layout. experiment_id was historically
// an integer, so reads accept either form and normalize to string.
type persistedExperiment struct {
	ExperimentID     interface{} `json:"experiment_id"`
	Name             string      `json:"name"`
	ArtifactLocation string      `json:"artifact_location"`
	LifecycleStage   string      `json:"lifecycle_stage"`
	CreationTime     int64       `json:"creation_time"`
	LastUpdateTime   int64       `json:"last_update_time"`
}

func makePersistedExperiment(experiment *entities.Experiment) *persistedExperiment {
	return &persistedExperiment{
		ExperimentID:     experiment.ExperimentID,
		Name:             experiment.Name,
		ArtifactLocation: experiment.ArtifactLocation,
		LifecycleStage:   string(experiment.LifecycleStage),
		CreationTime:     experiment.CreationTime,
		LastUpdateTime:   experiment.LastUpdateTime,
	}
}

func readPersistedExperiment(p *persistedExperiment) *entities.Experiment {
	return &entities.Experiment{
		ExperimentID:     stringFromAny(p.ExperimentID),
		Name:             p.Name,
		ArtifactLocation: p.ArtifactLocation,
		LifecycleStage:   entities.LifecycleStage(p.LifecycleStage),
		CreationTime:     p.CreationTime,
		LastUpdateTime:   p.LastUpdateTime,
	}
}

func (s *FileStore) CreateExperiment(name string, artifactLocation string, tags []entities.ExperimentTag) (string, error) {
	if err := s.checkRootDir(); err != nil {
		return "", err
	}
	if err := validation.ValidateExperimentName(name); err != nil {
		return "", err
	}
	if err := validation.ValidateArtifactLocation(artifactLocation); err != nil {
		return "", err
	}
	if err := s.validateExperimentNameUnused(name); err != nil {
		return "", err
	}
	return s.createExperimentWithID(name, newExperimentID(), artifactLocation, tags)
}

func (s *FileStore) createExperimentWithID(name string, experimentID string, artifactLocation string, tags []entities.ExperimentTag) (string, error) {
	resolvedLocation := artifactLocation
	if resolvedLocation == "" {
		resolvedLocation = appendToURIPath(s.artifactRootURI, experimentID)
	}
	experimentDir := filepath.Join(s.rootDirectory, experimentID)
	if err := s.fs.MkdirAll(experimentDir, 0o755); err != nil {
		return "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to create experiment directory %q", experimentDir)
	}
	now := s.nowMillis()
	experiment := &entities.Experiment{
		ExperimentID:     experimentID,
		Name:             name,
		ArtifactLocation: resolvedLocation,
		LifecycleStage:   entities.LifecycleStageActive,
		CreationTime:     now,
		LastUpdateTime:   now,
	}
	// tags live on the filesystem, not in the meta document
	metaPath := filepath.Join(experimentDir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedExperiment(experiment), false); err != nil {
		return "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	for _, tag := range tags {
		if err := s.SetExperimentTag(experimentID, tag); err != nil {
			return "", err
		}
	}
	return experimentID, nil
}

// validateExperimentNameUnused rejects names held by any experiment, deleted
// ones included; a deleted holder gets a message pointing at restore/purge.
func (s *FileStore) validateExperimentNameUnused(name string) error {
	experiment, err := s.GetExperimentByName(name)
	if err != nil {
		return err
	}
	if experiment == nil {
		return nil
	}
	if experiment.LifecycleStage == entities.LifecycleStageDeleted {
		return entities.NewError(entities.ErrorCodeAlreadyExists,
			"Experiment %q already exists in deleted state. "+
				"You can restore the experiment, or permanently delete the experiment "+
				"from the %s folder in order to use this experiment name again.",
			name, TrashFolderName)
	}
	return entities.NewError(entities.ErrorCodeAlreadyExists, "Experiment %q already exists.", name)
}

// getExperiment loads and validates one experiment, including its tags.
// A MissingConfig error means the directory is not (yet) a valid experiment;
// a nil, nil return means the metadata disagrees with the directory name.
func (s *FileStore) getExperiment(experimentID string, view entities.ViewType) (*entities.Experiment, error) {
	if err := s.checkRootDir(); err != nil {
		return nil, err
	}
	if err := validation.ValidateExperimentID(experimentID); err != nil {
		return nil, err
	}
	experimentDir, err := s.experimentPath(experimentID, view, false)
	if err != nil {
		return nil, err
	}
	if experimentDir == "" {
		return nil, entities.NewError(entities.ErrorCodeNotFound, "Could not find experiment with ID %s", experimentID)
	}
	var persisted persistedExperiment
	if err := s.readMeta(filepath.Join(experimentDir, MetaDataFileName), &persisted); err != nil {
		return nil, err
	}
	experiment := readPersistedExperiment(&persisted)
	if experiment.ExperimentID != experimentID {
		log.Warnf("Experiment ID mismatch for exp %s. ID recorded as %q in meta data. Experiment will be ignored.",
			experimentID, experiment.ExperimentID)
		return nil, nil
	}
	tags, err := s.experimentTags(experimentDir)
	if err != nil {
		return nil, err
	}
	experiment.Tags = tags
	return experiment, nil
}

func (s *FileStore) experimentTags(experimentDir string) ([]entities.ExperimentTag, error) {
	parent, files, err := s.resourceFiles(experimentDir, TagsFolderName)
	if err != nil {
		return nil, err
	}
	tags := make([]entities.ExperimentTag, 0, len(files))
	for _, name := range files {
		value, err := record.ReadValue(s.fs, filepath.Join(parent, filepath.FromSlash(name)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read experiment tag %q", name)
		}
		tags = append(tags, entities.ExperimentTag{Key: name, Value: value})
	}
	return tags, nil
}

// GetExperiment fetches an experiment, searching active and deleted views.
func (s *FileStore) GetExperiment(experimentID string) (*entities.Experiment, error) {
	if experimentID == "" {
		experimentID = DefaultExperimentID
	}
	experiment, err := s.getExperiment(experimentID, entities.ViewTypeAll)
	if err != nil {
		return nil, err
	}
	if experiment == nil {
		return nil, entities.NewError(entities.ErrorCodeNotFound, "Experiment %q does not exist.", experimentID)
	}
	return experiment, nil
}

func (s *FileStore) GetExperimentByName(name string) (*entities.Experiment, error) {
	experiments, err := s.listExperiments(entities.ViewTypeAll)
	if err != nil {
		return nil, err
	}
	for _, experiment := range experiments {
		if experiment.Name == name {
			return experiment, nil
		}
	}
	return nil, nil
}

func (s *FileStore) listExperiments(view entities.ViewType) ([]*entities.Experiment, error) {
	if err := s.checkRootDir(); err != nil {
		return nil, err
	}
	var ids []string
	if view == entities.ViewTypeActiveOnly || view == entities.ViewTypeAll {
		active, err := s.activeExperimentIDs()
		if err != nil {
			return nil, err
		}
		ids = append(ids, active...)
	}
	if view == entities.ViewTypeDeletedOnly || view == entities.ViewTypeAll {
		deleted, err := s.deletedExperimentIDs()
		if err != nil {
			return nil, err
		}
		ids = append(ids, deleted...)
	}
	experiments := make([]*entities.Experiment, 0, len(ids))
	for _, id := range ids {
		experiment, err := s.getExperiment(id, view)
		if err != nil {
			if entities.IsMissingConfig(err) {
				log.Warnf("Malformed experiment %q. Detailed error: %v", id, err)
				continue
			}
			return nil, err
		}
		if experiment != nil {
			experiments = append(experiments, experiment)
		}
	}
	return experiments, nil
}

func (s *FileStore) SearchExperiments(view entities.ViewType, maxResults int, filter string, orderBy []string, pageToken string) ([]*entities.Experiment, string, error) {
	if maxResults < 1 {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Invalid value %d for parameter 'max_results' supplied. It must be a positive integer", maxResults)
	}
	if maxResults > SearchMaxResultsThreshold {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Invalid value %d for parameter 'max_results' supplied. It must be at most %d", maxResults, SearchMaxResultsThreshold)
	}
	experiments, err := s.listExperiments(view)
	if err != nil {
		return nil, "", err
	}
	items := make([]experimentSearchItem, 0, len(experiments))
	for _, experiment := range experiments {
		items = append(items, experimentSearchItem{experiment})
	}
	filtered, err := search.Filter(items, filter)
	if err != nil {
		return nil, "", err
	}
	if len(orderBy) == 0 {
		orderBy = []string{"creation_time DESC", "experiment_id ASC"}
	}
	if err := search.Sort(filtered, orderBy); err != nil {
		return nil, "", err
	}
	page, nextToken, err := search.Paginate(filtered, pageToken, maxResults)
	if err != nil {
		return nil, "", err
	}
	result := make([]*entities.Experiment, 0, len(page))
	for _, item := range page {
		result = append(result, item.experiment)
	}
	return result, nextToken, nil
}

func (s *FileStore) RenameExperiment(experimentID string, newName string) error {
	if err := validation.ValidateExperimentName(newName); err != nil {
		return err
	}
	experiment, err := s.getExperiment(experimentID, entities.ViewTypeAll)
	if err != nil {
		return err
	}
	if experiment == nil {
		return entities.NewError(entities.ErrorCodeNotFound, "Experiment %q does not exist.", experimentID)
	}
	if experiment.LifecycleStage != entities.LifecycleStageActive {
		return entities.NewError(entities.ErrorCodeInvalidState,
			"Cannot rename experiment in non-active lifecycle stage. Current stage: %s", experiment.LifecycleStage)
	}
	if err := s.validateExperimentNameUnused(newName); err != nil {
		return err
	}
	experiment.Name = newName
	experiment.LastUpdateTime = s.nowMillis()
	metaPath := filepath.Join(s.rootDirectory, experimentID, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedExperiment(experiment), true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	return nil
}

// DeleteExperiment soft-deletes an experiment: every active run is marked
// deleted with a deletion timestamp, then the whole subtree moves to the
// trash folder. The cascade is best effort; per-run failures are collected
// and logged rather than rolled back.
func (s *FileStore) DeleteExperiment(experimentID string) error {
	if experimentID == DefaultExperimentID {
		return entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Cannot delete the default experiment %q. This is an internally reserved experiment.", DefaultExperimentID)
	}
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeActiveOnly, false)
	if err != nil {
		return err
	}
	if experimentDir == "" {
		return entities.NewError(entities.ErrorCodeNotFound, "Could not find experiment with ID %s", experimentID)
	}
	experiment, err := s.getExperiment(experimentID, entities.ViewTypeAll)
	if err != nil {
		return err
	}
	deletionTime := s.nowMillis()
	experiment.LifecycleStage = entities.LifecycleStageDeleted
	experiment.LastUpdateTime = deletionTime

	runInfos, err := s.listRunInfos(experimentID, entities.ViewTypeActiveOnly)
	if err != nil {
		return err
	}
	var cascade *multierror.Error
	for _, info := range runInfos {
		updated := info.Copy()
		updated.LifecycleStage = entities.LifecycleStageDeleted
		if err := s.overwriteRunInfo(filepath.Join(experimentDir, info.RunID), updated, &deletionTime); err != nil {
			cascade = multierror.Append(cascade, err)
		}
	}
	if cascade.ErrorOrNil() != nil {
		log.Warnf("Failed to delete some runs of experiment %s: %v", experimentID, cascade)
	}
	metaPath := filepath.Join(experimentDir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedExperiment(experiment), true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	target := filepath.Join(s.trashFolder, experimentID)
	if err := s.fs.Rename(experimentDir, target); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to move experiment %s to trash", experimentID)
	}
	return nil
}

// RestoreExperiment moves a deleted experiment back from the trash and
// reactivates the deleted runs under it. Runs deleted independently before
// the experiment was are restored too; the two cases are indistinguishable
// in the layout.
func (s *FileStore) RestoreExperiment(experimentID string) error {
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeDeletedOnly, false)
	if err != nil {
		return err
	}
	if experimentDir == "" {
		return entities.NewError(entities.ErrorCodeNotFound, "Could not find deleted experiment with ID %s", experimentID)
	}
	conflict, err := s.experimentPath(experimentID, entities.ViewTypeActiveOnly, false)
	if err != nil {
		return err
	}
	if conflict != "" {
		return entities.NewError(entities.ErrorCodeAlreadyExists,
			"Cannot restore experiment with ID %s. An experiment with same ID already exists.", experimentID)
	}
	target := filepath.Join(s.rootDirectory, experimentID)
	if err := s.fs.Rename(experimentDir, target); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to move experiment %s out of trash", experimentID)
	}
	experiment, err := s.getExperiment(experimentID, entities.ViewTypeAll)
	if err != nil {
		return err
	}
	experiment.LifecycleStage = entities.LifecycleStageActive
	experiment.LastUpdateTime = s.nowMillis()

	runInfos, err := s.listRunInfos(experimentID, entities.ViewTypeDeletedOnly)
	if err != nil {
		return err
	}
	var cascade *multierror.Error
	for _, info := range runInfos {
		updated := info.Copy()
		updated.LifecycleStage = entities.LifecycleStageActive
		if err := s.overwriteRunInfo(filepath.Join(target, info.RunID), updated, nil); err != nil {
			cascade = multierror.Append(cascade, err)
		}
	}
	if cascade.ErrorOrNil() != nil {
		log.Warnf("Failed to restore some runs of experiment %s: %v", experimentID, cascade)
	}
	metaPath := filepath.Join(target, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedExperiment(experiment), true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	return nil
}

// HardDeleteExperiment permanently removes a soft-deleted experiment
// subtree. Maintenance tooling only.
func (s *FileStore) HardDeleteExperiment(experimentID string) error {
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeDeletedOnly, true)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(experimentDir); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to remove experiment %s", experimentID)
	}
	return nil
}

func (s *FileStore) SetExperimentTag(experimentID string, tag entities.ExperimentTag) error {
	if err := validation.ValidateTagName(tag.Key); err != nil {
		return err
	}
	if err := validation.ValidateTagValue(tag.Value); err != nil {
		return err
	}
	experiment, err := s.GetExperiment(experimentID)
	if err != nil {
		return err
	}
	if experiment.LifecycleStage != entities.LifecycleStageActive {
		return entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"The experiment %s must be in the 'active' lifecycle_stage to set tags", experimentID)
	}
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, true)
	if err != nil {
		return err
	}
	tagPath := filepath.Join(experimentDir, TagsFolderName, filepath.FromSlash(tag.Key))
	if err := record.WriteValue(s.fs, tagPath, tag.Value); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write experiment tag %q", tag.Key)
	}
	return nil
}

func (s *FileStore) DeleteExperimentTag(experimentID string, key string) error {
	if err := validation.ValidateTagName(key); err != nil {
		return err
	}
	experiment, err := s.GetExperiment(experimentID)
	if err != nil {
		return err
	}
	if experiment.LifecycleStage != entities.LifecycleStageActive {
		return entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"The experiment %s must be in the 'active' lifecycle_stage to delete tags", experimentID)
	}
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, true)
	if err != nil {
		return err
	}
	tagPath := filepath.Join(experimentDir, TagsFolderName, filepath.FromSlash(key))
	exists, err := afero.Exists(s.fs, tagPath)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat experiment tag %q", key)
	}
	if !exists {
		return entities.NewError(entities.ErrorCodeNotFound,
			"No tag with name: %s in experiment with id %s", key, experimentID)
	}
	return s.fs.Remove(tagPath)
}

// experimentSearchItem adapts an experiment to the search utility.
type experimentSearchItem struct {
	experiment *entities.Experiment
}

var _ search.Item = experimentSearchItem{}

func (i experimentSearchItem) Get(key string) (interface{}, bool) {
	switch key {
	case "attributes.name":
		return i.experiment.Name, true
	case "attributes.experiment_id":
		return i.experiment.ExperimentID, true
	case "attributes.artifact_location":
		return i.experiment.ArtifactLocation, true
	case "attributes.lifecycle_stage":
		return string(i.experiment.LifecycleStage), true
	case "attributes.creation_time":
		return float64(i.experiment.CreationTime), true
	case "attributes.last_update_time":
		return float64(i.experiment.LastUpdateTime), true
	}
	if tagKey, ok := trimQualifier(key, "tags."); ok {
		for _, tag := range i.experiment.Tags {
			if tag.Key == tagKey {
				return tag.Value, true
			}
		}
	}
	return nil, false
}

func trimQualifier(key string, prefix string) (string, bool) {
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):], true
	}
	return "", false
}

func stringFromAny(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		// legacy integer ids decode as float64 through the yaml layer
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case int:
		return strconv.Itoa(value)
	}
	return ""
}
