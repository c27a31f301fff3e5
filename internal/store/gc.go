package store

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/Spencerx/mlflow/internal/entities"
)

// DeletedRuns returns the ids of soft-deleted runs whose deletion happened
// at least olderThanMS milliseconds ago. Runs with no recorded deletion
// time always qualify. Pass 0 to list every deleted run.
func (s *FileStore) DeletedRuns(olderThanMS int64) ([]string, error) {
	if err := s.checkRootDir(); err != nil {
		return nil, err
	}
	active, err := s.activeExperimentIDs()
	if err != nil {
		return nil, err
	}
	deleted, err := s.deletedExperimentIDs()
	if err != nil {
		return nil, err
	}
	now := s.nowMillis()
	var runIDs []string
	for _, experimentID := range append(active, deleted...) {
		experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, false)
		if err != nil {
			return nil, err
		}
		if experimentDir == "" {
			continue
		}
		candidates, err := s.runIDsIn(experimentDir)
		if err != nil {
			return nil, err
		}
		for _, runID := range candidates {
			var persisted persistedRunInfo
			if err := s.readMeta(filepath.Join(experimentDir, runID, MetaDataFileName), &persisted); err != nil {
				if entities.IsMissingConfig(err) {
					log.Warnf("Malformed run %q. Detailed error: %v", runID, err)
					continue
				}
				return nil, err
			}
			if entities.LifecycleStage(persisted.LifecycleStage) != entities.LifecycleStageDeleted {
				continue
			}
			if persisted.DeletedTime == nil || now-*persisted.DeletedTime >= olderThanMS {
				runIDs = append(runIDs, runID)
			}
		}
	}
	return runIDs, nil
}

// HardDeleteRun permanently removes a run's subtree, metrics, params, tags
// and lineage included. Maintenance tooling only.
func (s *FileStore) HardDeleteRun(runID string) error {
	runDir, err := s.findRunDir(runID, entities.ViewTypeAll)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(runDir); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to remove run %q", runID)
	}
	return nil
}
