package store

import (
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/internal/validation"
	"github.com/Spencerx/mlflow/pkg/record"
	"github.com/Spencerx/mlflow/pkg/search"
)

// persistedTraceInfo is the trace_info.yaml layout. Metadata and tags are
// stored as per-key files in sibling folders, assessments under the
// assessments folder.
type persistedTraceInfo struct {
	TraceID           string      `json:"trace_id"`
	ExperimentID      interface{} `json:"experiment_id"`
	RequestTime       int64       `json:"request_time"`
	ExecutionDuration int64       `json:"execution_duration"`
	State             string      `json:"state"`
}

func makePersistedTraceInfo(info *entities.TraceInfo) *persistedTraceInfo {
	return &persistedTraceInfo{
		TraceID:           info.TraceID,
		ExperimentID:      info.ExperimentID,
		RequestTime:       info.RequestTime,
		ExecutionDuration: info.ExecutionDuration,
		State:             string(info.State),
	}
}

// StartTrace registers a new trace under the experiment named by the given
// info. A missing trace id is generated, the artifact location tag is added
// and any embedded assessments are created alongside.
func (s *FileStore) StartTrace(info *entities.TraceInfo) (*entities.TraceInfo, error) {
	if info == nil {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue, "TraceInfo must be specified.")
	}
	if err := validation.ValidateExperimentID(info.ExperimentID); err != nil {
		return nil, err
	}
	experiment, err := s.GetExperiment(info.ExperimentID)
	if err != nil {
		return nil, err
	}
	if experiment.LifecycleStage != entities.LifecycleStageActive {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Could not create trace under non-active experiment with ID %s.", info.ExperimentID)
	}
	created := *info
	if created.TraceID == "" {
		created.TraceID = newTraceID()
	}
	if created.State == "" {
		created.State = entities.TraceStateInProgress
	}
	tags := map[string]string{}
	for key, value := range info.Tags {
		tags[key] = value
	}
	tags[entities.ArtifactLocationTag] = appendToURIPath(
		experiment.ArtifactLocation, TracesFolderName, created.TraceID, ArtifactsFolderName)
	created.Tags = tags

	traceDir := filepath.Join(s.rootDirectory, experiment.ExperimentID, TracesFolderName, created.TraceID)
	if err := s.fs.MkdirAll(traceDir, 0o755); err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to create trace directory %q", traceDir)
	}
	if err := s.saveTraceInfo(&created, traceDir, false); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *FileStore) saveTraceInfo(info *entities.TraceInfo, traceDir string, overwrite bool) error {
	infoPath := filepath.Join(traceDir, TraceInfoFileName)
	if err := record.WriteYAML(s.fs, infoPath, makePersistedTraceInfo(info), overwrite); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", infoPath)
	}
	if err := s.writeTraceFolderValues(traceDir, TraceMetadataFolderName, info.TraceMetadata); err != nil {
		return err
	}
	if err := s.writeTraceFolderValues(traceDir, TagsFolderName, info.Tags); err != nil {
		return err
	}
	for _, assessment := range info.Assessments {
		assessment.TraceID = info.TraceID
		if _, err := s.CreateAssessment(assessment); err != nil {
			return err
		}
	}
	return nil
}

// writeTraceFolderValues persists a string map as one file per key. Keys
// are validated as tag names so they always form safe file names.
func (s *FileStore) writeTraceFolderValues(traceDir string, folder string, values map[string]string) error {
	dir := filepath.Join(traceDir, folder)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to create %q", dir)
	}
	for key, value := range values {
		if err := validation.ValidateTagName(key); err != nil {
			return err
		}
		if err := record.WriteValue(s.fs, filepath.Join(dir, filepath.FromSlash(key)), value); err != nil {
			return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write trace value %q", key)
		}
	}
	return nil
}

func (s *FileStore) readTraceFolderValues(traceDir string, folder string) (map[string]string, error) {
	parent, files, err := s.resourceFiles(traceDir, folder)
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	for _, key := range files {
		value, err := record.ReadValue(s.fs, filepath.Join(parent, filepath.FromSlash(key)))
		if err != nil {
			return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to read trace value %q", key)
		}
		values[key] = value
	}
	return values, nil
}

// findTraceDir locates a trace folder across all experiments, deleted ones
// included.
func (s *FileStore) findTraceDir(traceID string) (string, error) {
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
		traceDir := filepath.Join(experimentDir, TracesFolderName, traceID)
		ok, err := afero.DirExists(s.fs, traceDir)
		if err != nil {
			return "", entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", traceDir)
		}
		if ok {
			return traceDir, nil
		}
	}
	return "", entities.NewError(entities.ErrorCodeNotFound, "Trace with ID %q not found", traceID)
}

func (s *FileStore) traceInfoFromDir(traceDir string) (*entities.TraceInfo, error) {
	var persisted persistedTraceInfo
	if err := s.readMeta(filepath.Join(traceDir, TraceInfoFileName), &persisted); err != nil {
		return nil, err
	}
	info := &entities.TraceInfo{
		TraceID:           persisted.TraceID,
		ExperimentID:      stringFromAny(persisted.ExperimentID),
		RequestTime:       persisted.RequestTime,
		ExecutionDuration: persisted.ExecutionDuration,
		State:             entities.TraceState(persisted.State),
	}
	metadata, err := s.readTraceFolderValues(traceDir, TraceMetadataFolderName)
	if err != nil {
		return nil, err
	}
	info.TraceMetadata = metadata
	tags, err := s.readTraceFolderValues(traceDir, TagsFolderName)
	if err != nil {
		return nil, err
	}
	info.Tags = tags
	assessments, err := s.loadAssessments(traceDir)
	if err != nil {
		return nil, err
	}
	info.Assessments = assessments
	return info, nil
}

func (s *FileStore) getTraceInfoAndDir(traceID string) (*entities.TraceInfo, string, error) {
	traceDir, err := s.findTraceDir(traceID)
	if err != nil {
		return nil, "", err
	}
	info, err := s.traceInfoFromDir(traceDir)
	if err != nil {
		return nil, "", err
	}
	if info.TraceID != traceID {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidState,
			"Trace with ID %q metadata is in invalid state.", traceID)
	}
	return info, traceDir, nil
}

func (s *FileStore) GetTraceInfo(traceID string) (*entities.TraceInfo, error) {
	info, _, err := s.getTraceInfoAndDir(traceID)
	return info, err
}

// EndTrace finalizes a trace: the execution duration is derived from the
// end timestamp, and the given metadata and tags are merged over what was
// logged at start time.
func (s *FileStore) EndTrace(traceID string, timestampMS int64, state entities.TraceState, metadata map[string]string, tags map[string]string) (*entities.TraceInfo, error) {
	info, traceDir, err := s.getTraceInfoAndDir(traceID)
	if err != nil {
		return nil, err
	}
	info.ExecutionDuration = timestampMS - info.RequestTime
	info.State = state
	for key, value := range metadata {
		info.TraceMetadata[key] = value
	}
	for key, value := range tags {
		info.Tags[key] = value
	}
	if err := s.saveTraceInfo(info, traceDir, true); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *FileStore) SetTraceTag(traceID string, key string, value string) error {
	if err := validation.ValidateTagName(key); err != nil {
		return err
	}
	traceDir, err := s.findTraceDir(traceID)
	if err != nil {
		return err
	}
	return s.writeTraceFolderValues(traceDir, TagsFolderName, map[string]string{key: value})
}

func (s *FileStore) DeleteTraceTag(traceID string, key string) error {
	if err := validation.ValidateTagName(key); err != nil {
		return err
	}
	traceDir, err := s.findTraceDir(traceID)
	if err != nil {
		return err
	}
	tagPath := filepath.Join(traceDir, TagsFolderName, filepath.FromSlash(key))
	exists, err := afero.Exists(s.fs, tagPath)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat trace tag %q", key)
	}
	if !exists {
		return entities.NewError(entities.ErrorCodeNotFound,
			"No tag with name: %s in trace with ID %s.", key, traceID)
	}
	return s.fs.Remove(tagPath)
}

func (s *FileStore) listTraceInfos(experimentID string) ([]*entities.TraceInfo, error) {
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, true)
	if err != nil {
		return nil, err
	}
	tracesDir := filepath.Join(experimentDir, TracesFolderName)
	dirs, _, err := record.ListDir(s.fs, tracesDir)
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", tracesDir)
	}
	infos := make([]*entities.TraceInfo, 0, len(dirs))
	for _, traceID := range dirs {
		info, err := s.traceInfoFromDir(filepath.Join(tracesDir, traceID))
		if err != nil {
			if entities.IsMissingConfig(err) {
				log.Warnf("Malformed trace with ID %q. Detailed error: %v", traceID, err)
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *FileStore) SearchTraces(experimentIDs []string, filter string, maxResults int, orderBy []string, pageToken string) ([]*entities.TraceInfo, string, error) {
	if maxResults <= 0 {
		maxResults = SearchTracesMaxResultsDefault
	}
	if maxResults > SearchMaxResultsThreshold {
		return nil, "", entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Invalid value for request parameter max_results. It must be at most %d, but got value %d",
			SearchMaxResultsThreshold, maxResults)
	}
	var infos []*entities.TraceInfo
	for _, experimentID := range experimentIDs {
		listed, err := s.listTraceInfos(experimentID)
		if err != nil {
			return nil, "", err
		}
		infos = append(infos, listed...)
	}
	items := make([]traceSearchItem, 0, len(infos))
	for _, info := range infos {
		items = append(items, traceSearchItem{info})
	}
	filtered, err := search.Filter(items, filter)
	if err != nil {
		return nil, "", err
	}
	if len(orderBy) == 0 {
		orderBy = []string{"timestamp_ms DESC", "trace_id ASC"}
	}
	if err := search.Sort(filtered, orderBy); err != nil {
		return nil, "", err
	}
	page, nextToken, err := search.Paginate(filtered, pageToken, maxResults)
	if err != nil {
		return nil, "", err
	}
	result := make([]*entities.TraceInfo, 0, len(page))
	for _, item := range page {
		result = append(result, item.info)
	}
	return result, nextToken, nil
}

// DeleteTraces hard-deletes traces of one experiment, selected either by an
// age cutoff with an optional count cap, or by explicit ids. The two
// selection modes are mutually exclusive.
func (s *FileStore) DeleteTraces(experimentID string, maxTimestampMS int64, maxTraces int, traceIDs []string) (int, error) {
	if maxTimestampMS > 0 && len(traceIDs) > 0 {
		return 0, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Only one of max_timestamp_millis and trace_ids can be specified.")
	}
	if maxTimestampMS == 0 && len(traceIDs) == 0 {
		return 0, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Either max_timestamp_millis or trace_ids must be specified.")
	}
	if maxTraces != 0 && len(traceIDs) > 0 {
		return 0, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"max_traces can't be specified if trace_ids is specified.")
	}
	if maxTraces < 0 {
		return 0, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"max_traces must be a positive integer, received %d.", maxTraces)
	}
	experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, true)
	if err != nil {
		return 0, err
	}
	tracesDir := filepath.Join(experimentDir, TracesFolderName)
	if maxTimestampMS > 0 {
		type candidate struct {
			requestTime int64
			dir         string
		}
		dirs, _, err := record.ListDir(s.fs, tracesDir)
		if err != nil {
			return 0, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", tracesDir)
		}
		var candidates []candidate
		for _, traceID := range dirs {
			traceDir := filepath.Join(tracesDir, traceID)
			info, err := s.traceInfoFromDir(traceDir)
			if err != nil {
				if entities.IsMissingConfig(err) {
					log.Warnf("Malformed trace with ID %q. Detailed error: %v", traceID, err)
					continue
				}
				return 0, err
			}
			if info.RequestTime <= maxTimestampMS {
				candidates = append(candidates, candidate{info.RequestTime, traceDir})
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].requestTime < candidates[j].requestTime
		})
		if maxTraces > 0 && maxTraces < len(candidates) {
			candidates = candidates[:maxTraces]
		}
		for _, c := range candidates {
			if err := s.fs.RemoveAll(c.dir); err != nil {
				return 0, entities.WrapError(err, entities.ErrorCodeInternal, "failed to remove %q", c.dir)
			}
		}
		return len(candidates), nil
	}
	deleted := 0
	for _, traceID := range traceIDs {
		traceDir := filepath.Join(tracesDir, traceID)
		ok, err := afero.DirExists(s.fs, traceDir)
		if err != nil {
			return deleted, entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", traceDir)
		}
		if !ok {
			continue
		}
		if err := s.fs.RemoveAll(traceDir); err != nil {
			return deleted, entities.WrapError(err, entities.ErrorCodeInternal, "failed to remove %q", traceDir)
		}
		deleted++
	}
	return deleted, nil
}

type traceSearchItem struct {
	info *entities.TraceInfo
}

var _ search.Item = traceSearchItem{}

func (i traceSearchItem) Get(key string) (interface{}, bool) {
	switch key {
	case "attributes.trace_id", "attributes.request_id":
		return i.info.TraceID, true
	case "attributes.experiment_id":
		return i.info.ExperimentID, true
	case "attributes.timestamp_ms", "attributes.timestamp", "attributes.request_time":
		return float64(i.info.RequestTime), true
	case "attributes.execution_time_ms", "attributes.execution_duration":
		return float64(i.info.ExecutionDuration), true
	case "attributes.state", "attributes.status":
		return string(i.info.State), true
	case "attributes.name":
		return i.info.Tags["mlflow.traceName"], true
	}
	if tagKey, ok := trimQualifier(key, "tags."); ok {
		if value, ok := i.info.Tags[tagKey]; ok {
			return value, true
		}
		return nil, false
	}
	if metaKey, ok := trimQualifier(key, "request_metadata."); ok {
		if value, ok := i.info.TraceMetadata[metaKey]; ok {
			return value, true
		}
		return nil, false
	}
	if metaKey, ok := trimQualifier(key, "metadata."); ok {
		if value, ok := i.info.TraceMetadata[metaKey]; ok {
			return value, true
		}
	}
	return nil, false
}
