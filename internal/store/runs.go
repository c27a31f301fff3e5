package store

import (
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/internal/validation"
	"github.com/Spencerx/mlflow/pkg/record"
	"github.com/Spencerx/mlflow/pkg/search"
)

// persistedRunInfo is the run meta.yaml layout. Several fields are frozen
// relics of an older schema and are written with constant values so old
// readers keep working: tags always [], source fields always empty with
// source_type LOCAL, and the run id is recorded under both run_id and
// run_uuid. Status is stored as an integer code and experiment_id may be a
// legacy integer.
type persistedRunInfo struct {
	RunUUID        string        `json:"run_uuid"`
	RunID          string        `json:"run_id"`
	RunName        string        `json:"run_name"`
	ExperimentID   interface{}   `json:"experiment_id"`
	UserID         string        `json:"user_id"`
	Status         interface{}   `json:"status"`
	StartTime      int64         `json:"start_time"`
	EndTime        *int64        `json:"end_time"`
	ArtifactURI    string        `json:"artifact_uri"`
	LifecycleStage string        `json:"lifecycle_stage"`
	DeletedTime    *int64        `json:"deleted_time"`
	SourceType     int           `json:"source_type"`
	SourceName     string        `json:"source_name"`
	EntryPointName string        `json:"entry_point_name"`
	SourceVersion  string        `json:"source_version"`
	Tags           []interface{} `json:"tags"`
}

const legacySourceTypeLocal = 4

func makePersistedRunInfo(info *entities.RunInfo, deletedTime *int64) *persistedRunInfo {
	statusCode, err := info.Status.Int()
	if err != nil {
		statusCode = 1
	}
	return &persistedRunInfo{
		RunUUID:        info.RunID,
		RunID:          info.RunID,
		RunName:        info.RunName,
		ExperimentID:   info.ExperimentID,
		UserID:         info.UserID,
		Status:         statusCode,
		StartTime:      info.StartTime,
		EndTime:        info.EndTime,
		ArtifactURI:    info.ArtifactURI,
		LifecycleStage: string(info.LifecycleStage),
		DeletedTime:    deletedTime,
		SourceType:     legacySourceTypeLocal,
		Tags:           []interface{}{},
	}
}

func readPersistedRunInfo(p *persistedRunInfo) *entities.RunInfo {
	runID := p.RunID
	if runID == "" {
		runID = p.RunUUID
	}
	return &entities.RunInfo{
		RunID:          runID,
		RunName:        p.RunName,
		ExperimentID:   stringFromAny(p.ExperimentID),
		UserID:         p.UserID,
		Status:         runStatusFromAny(p.Status),
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		ArtifactURI:    p.ArtifactURI,
		LifecycleStage: entities.LifecycleStage(p.LifecycleStage),
	}
}

func runStatusFromAny(v interface{}) entities.RunStatus {
	switch value := v.(type) {
	case string:
		return entities.RunStatus(value)
	case float64:
		if status, err := entities.RunStatusFromInt(int(value)); err == nil {
			return status
		}
	case int:
		if status, err := entities.RunStatusFromInt(value); err == nil {
			return status
		}
	}
	return entities.RunStatusRunning
}

func (s *FileStore) CreateRun(experimentID string, userID string, startTime int64, tags []entities.RunTag, runName string) (*entities.Run, error) {
	experiment, err := s.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if experiment.LifecycleStage != entities.LifecycleStageActive {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Could not create run under non-active experiment with ID %s.", experimentID)
	}
	tagName := ""
	for _, tag := range tags {
		if tag.Key == entities.RunNameTag {
			tagName = tag.Value
		}
	}
	if runName != "" && tagName != "" && runName != tagName {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Both 'run_name' argument and 'mlflow.runName' tag are specified, but with different values (run_name=%q, mlflow.runName=%q).",
			runName, tagName)
	}
	name := runName
	if name == "" {
		name = tagName
	}
	if name == "" {
		name = randomRunName()
	}
	runID := newRunID()
	runDir := filepath.Join(s.rootDirectory, experiment.ExperimentID, runID)
	if err := s.fs.MkdirAll(runDir, 0o755); err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to create run directory %q", runDir)
	}
	for _, folder := range []string{MetricsFolderName, ParamsFolderName, TagsFolderName, ArtifactsFolderName} {
		if err := s.fs.MkdirAll(filepath.Join(runDir, folder), 0o755); err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to create run directory %q", runDir)
		}
	}
	info := &entities.RunInfo{
		RunID:          runID,
		RunName:        name,
		ExperimentID:   experiment.ExperimentID,
		UserID:         userID,
		Status:         entities.RunStatusRunning,
		StartTime:      startTime,
		ArtifactURI:    appendToURIPath(experiment.ArtifactLocation, runID, ArtifactsFolderName),
		LifecycleStage: entities.LifecycleStageActive,
	}
	metaPath := filepath.Join(runDir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedRunInfo(info, nil), false); err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	for _, tag := range tags {
		if err := s.SetTag(runID, tag); err != nil {
			return nil, err
		}
	}
	if tagName == "" {
		if err := s.SetTag(runID, entities.RunTag{Key: entities.RunNameTag, Value: name}); err != nil {
			return nil, err
		}
	}
	return s.GetRun(runID)
}

// findRunDir locates the directory of a run by scanning the experiments
// visible under the given view. A run folder shadowed by a reserved
// experiment folder name cannot occur because run ids are uuids.
func (s *FileStore) findRunDir(runID string, view entities.ViewType) (string, error) {
	if err := s.checkRootDir(); err != nil {
		return "", err
	}
	if err := validation.ValidateRunID(runID); err != nil {
		return "", err
	}
	var ids []string
	if view == entities.ViewTypeActiveOnly || view == entities.ViewTypeAll {
		active, err := s.activeExperimentIDs()
		if err != nil {
			return "", err
		}
		ids = append(ids, active...)
	}
	if view == entities.ViewTypeDeletedOnly || view == entities.ViewTypeAll {
		deleted, err := s.deletedExperimentIDs()
		if err != nil {
			return "", err
		}
		ids = append(ids, deleted...)
	}
	for _, experimentID := range ids {
		experimentDir, err := s.experimentPath(experimentID, view, false)
		if err != nil {
			return "", err
		}
		if experimentDir == "" {
			continue
		}
		runDir := filepath.Join(experimentDir, runID)
		ok, err := afero.DirExists(s.fs, runDir)
		if err != nil {
			return "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", runDir)
		}
		if ok {
			return runDir, nil
		}
	}
	return "", entities.NewError(entities.ErrorCodeNotFound, "Run %q not found", runID)
}

func (s *FileStore) getRunInfo(runID string) (*entities.RunInfo, string, error) {
	runDir, err := s.findRunDir(runID, entities.ViewTypeAll)
	if err != nil {
		return nil, "", err
	}
	var persisted persistedRunInfo
	if err := s.readMeta(filepath.Join(runDir, MetaDataFileName), &persisted); err != nil {
		return nil, "", err
	}
	info := readPersistedRunInfo(&persisted)
	if info.RunID != runID {
		return nil, "", entities.NewError(entities.ErrorCodeInternal,
			"Run %q metadata is in invalid state: recorded run id is %q.", runID, info.RunID)
	}
	return info, runDir, nil
}

func (s *FileStore) GetRun(runID string) (*entities.Run, error) {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return nil, err
	}
	metrics, err := s.runMetrics(runDir)
	if err != nil {
		return nil, err
	}
	params, err := s.runParams(runDir)
	if err != nil {
		return nil, err
	}
	tags, err := s.runTags(runDir)
	if err != nil {
		return nil, err
	}
	inputs, err := s.runInputs(runDir)
	if err != nil {
		return nil, err
	}
	outputs, err := s.runOutputs(runDir)
	if err != nil {
		return nil, err
	}
	return &entities.Run{
		Info:    info,
		Data:    &entities.RunData{Metrics: metrics, Params: params, Tags: tags},
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// overwriteRunInfo replaces the run metadata document in full at the
// already-resolved run directory, which may sit under the root or the
// trash. deletedTime is recorded as given: soft deletion supplies a
// timestamp, restore clears it with nil.
func (s *FileStore) overwriteRunInfo(runDir string, info *entities.RunInfo, deletedTime *int64) error {
	metaPath := filepath.Join(runDir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, makePersistedRunInfo(info, deletedTime), true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	return nil
}

func (s *FileStore) checkRunIsActive(info *entities.RunInfo) error {
	if info.LifecycleStage != entities.LifecycleStageActive {
		return entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"The run %s must be in the 'active' state. Current state is %s.", info.RunID, info.LifecycleStage)
	}
	return nil
}

func (s *FileStore) UpdateRunInfo(runID string, status entities.RunStatus, endTime *int64, runName string) (*entities.RunInfo, error) {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue, "Invalid run status: %q", status)
	}
	updated := info.Copy()
	updated.Status = status
	if endTime != nil {
		updated.EndTime = endTime
	}
	if runName != "" {
		updated.RunName = runName
		if err := s.SetTag(runID, entities.RunTag{Key: entities.RunNameTag, Value: runName}); err != nil {
			return nil, err
		}
	}
	if err := s.overwriteRunInfo(runDir, updated, nil); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *FileStore) DeleteRun(runID string) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	updated := info.Copy()
	updated.LifecycleStage = entities.LifecycleStageDeleted
	deletedTime := s.nowMillis()
	return s.overwriteRunInfo(runDir, updated, &deletedTime)
}

func (s *FileStore) RestoreRun(runID string) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	updated := info.Copy()
	updated.LifecycleStage = entities.LifecycleStageActive
	return s.overwriteRunInfo(runDir, updated, nil)
}

// listRunInfos loads the run infos of one experiment, skipping folders
// whose metadata is missing, unreadable or names a different run id. The
// view filters run lifecycle stages only; the experiment directory itself
// is located wherever it lives, root or trash, since runs soft-deleted in
// place stay under an active experiment.
func (s *FileStore) listRunInfos(experimentID string, view entities.ViewType) ([]*entities.RunInfo, error) {
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, false)
	if err != nil {
		return nil, err
	}
	if experimentDir == "" {
		return nil, nil
	}
	runIDs, err := s.runIDsIn(experimentDir)
	if err != nil {
		return nil, err
	}
	infos := make([]*entities.RunInfo, 0, len(runIDs))
	for _, runID := range runIDs {
		var persisted persistedRunInfo
		if err := s.readMeta(filepath.Join(experimentDir, runID, MetaDataFileName), &persisted); err != nil {
			if entities.IsMissingConfig(err) {
				log.Warnf("Malformed run %q. Detailed error: %v", runID, err)
				continue
			}
			return nil, err
		}
		info := readPersistedRunInfo(&persisted)
		if info.RunID != runID {
			log.Warnf("Wrong data for run %q. Metadata is recorded for run %q. Run will be ignored.", runID, info.RunID)
			continue
		}
		if info.LifecycleStage.MatchesView(view) {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// runIDsIn lists the run folders of an experiment directory, leaving out
// the folders reserved for experiment-scoped resources.
func (s *FileStore) runIDsIn(experimentDir string) ([]string, error) {
	dirs, _, err := record.ListDir(s.fs, experimentDir)
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", experimentDir)
	}
	runIDs := make([]string, 0, len(dirs))
	for _, name := range dirs {
		if reservedExperimentFolders[name] {
			continue
		}
		runIDs = append(runIDs, name)
	}
	return runIDs, nil
}

func (s *FileStore) SearchRuns(experimentIDs []string, filter string, view entities.ViewType, maxResults int, orderBy []string, pageToken string) ([]*entities.Run, string, error) {
	if maxResults < 1 {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Invalid value %d for parameter 'max_results' supplied. It must be a positive integer", maxResults)
	}
	if maxResults > SearchMaxResultsThreshold {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Invalid value %d for parameter 'max_results' supplied. It must be at most %d", maxResults, SearchMaxResultsThreshold)
	}
	var runs []*entities.Run
	for _, experimentID := range experimentIDs {
		infos, err := s.listRunInfos(experimentID, view)
		if err != nil {
			return nil, "", err
		}
		for _, info := range infos {
			run, err := s.GetRun(info.RunID)
			if err != nil {
				if entities.IsNotFound(err) || entities.IsMissingConfig(err) {
					continue
				}
				return nil, "", err
			}
			runs = append(runs, run)
		}
	}
	items := make([]runSearchItem, 0, len(runs))
	for _, run := range runs {
		items = append(items, runSearchItem{run})
	}
	filtered, err := search.Filter(items, filter)
	if err != nil {
		return nil, "", err
	}
	if len(orderBy) == 0 {
		orderBy = []string{"start_time DESC", "run_id ASC"}
	}
	if err := search.Sort(filtered, orderBy); err != nil {
		return nil, "", err
	}
	page, nextToken, err := search.Paginate(filtered, pageToken, maxResults)
	if err != nil {
		return nil, "", err
	}
	result := make([]*entities.Run, 0, len(page))
	for _, item := range page {
		result = append(result, item.run)
	}
	return result, nextToken, nil
}

type runSearchItem struct {
	run *entities.Run
}

var _ search.Item = runSearchItem{}

func (i runSearchItem) Get(key string) (interface{}, bool) {
	info := i.run.Info
	switch key {
	case "attributes.run_id", "attributes.run_uuid":
		return info.RunID, true
	case "attributes.run_name":
		return info.RunName, true
	case "attributes.experiment_id":
		return info.ExperimentID, true
	case "attributes.user_id":
		return info.UserID, true
	case "attributes.status":
		return string(info.Status), true
	case "attributes.start_time":
		return float64(info.StartTime), true
	case "attributes.end_time":
		if info.EndTime == nil {
			return nil, false
		}
		return float64(*info.EndTime), true
	case "attributes.artifact_uri":
		return info.ArtifactURI, true
	case "attributes.lifecycle_stage":
		return string(info.LifecycleStage), true
	}
	if metricKey, ok := trimQualifier(key, "metrics."); ok {
		if value, ok := i.run.Data.MetricValue(metricKey); ok {
			return value, true
		}
		return nil, false
	}
	if paramKey, ok := trimQualifier(key, "params."); ok {
		for _, param := range i.run.Data.Params {
			if param.Key == paramKey {
				return param.Value, true
			}
		}
		return nil, false
	}
	if tagKey, ok := trimQualifier(key, "tags."); ok {
		for _, tag := range i.run.Data.Tags {
			if tag.Key == tagKey {
				return tag.Value, true
			}
		}
	}
	return nil, false
}

// parseRunStep keeps metric ordering keys numeric even when persisted text
// carries surprising forms like "1e3".
func parseRunStep(raw string) (int64, error) {
	step, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return step, nil
	}
	f, ferr := strconv.ParseFloat(raw, 64)
	if ferr != nil {
		return 0, err
	}
	return int64(f), nil
}
