package store

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/pkg/record"
)

// Assessments are stored one yaml document per assessment under the
// assessments folder of their trace.

func assessmentPath(traceDir string, assessmentID string) string {
	return filepath.Join(traceDir, AssessmentsFolderName, assessmentID+".yaml")
}

func (s *FileStore) saveAssessment(traceDir string, assessment *entities.Assessment) error {
	path := assessmentPath(traceDir, assessment.AssessmentID)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to create %q", filepath.Dir(path))
	}
	if err := record.WriteYAML(s.fs, path, assessment, true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", path)
	}
	return nil
}

func (s *FileStore) loadAssessment(traceDir string, traceID string, assessmentID string) (*entities.Assessment, error) {
	path := assessmentPath(traceDir, assessmentID)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", path)
	}
	if !exists {
		return nil, entities.NewError(entities.ErrorCodeNotFound,
			"Assessment with ID %q not found for trace %q", assessmentID, traceID)
	}
	var assessment entities.Assessment
	if err := record.ReadYAML(s.fs, path, &assessment); err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal,
			"Failed to load assessment with ID %q for trace %q", assessmentID, traceID)
	}
	return &assessment, nil
}

func (s *FileStore) loadAssessments(traceDir string) ([]*entities.Assessment, error) {
	assessmentsDir := filepath.Join(traceDir, AssessmentsFolderName)
	_, files, err := record.ListDir(s.fs, assessmentsDir)
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", assessmentsDir)
	}
	traceID := filepath.Base(traceDir)
	assessments := make([]*entities.Assessment, 0, len(files))
	for _, name := range files {
		assessment, err := s.loadAssessment(traceDir, traceID, strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, assessment)
	}
	return assessments, nil
}

// CreateAssessment stores a new assessment on its trace. The id and
// timestamps are assigned by the store and the assessment starts out valid.
// When it overrides another assessment, the overridden one is marked
// invalid.
func (s *FileStore) CreateAssessment(assessment *entities.Assessment) (*entities.Assessment, error) {
	if assessment == nil {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue, "Assessment must be specified.")
	}
	if assessment.IsExpectation() && assessment.IsFeedback() {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Exactly one of `expectation` and `feedback` must be specified.")
	}
	if !assessment.IsExpectation() && !assessment.IsFeedback() {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Exactly one of `expectation` and `feedback` must be specified.")
	}
	traceDir, err := s.findTraceDir(assessment.TraceID)
	if err != nil {
		return nil, err
	}
	now := s.nowMillis()
	created := *assessment
	created.AssessmentID = newAssessmentID()
	created.CreateTimeMS = now
	created.LastUpdateTimeMS = now
	created.Valid = true

	if created.Overrides != "" {
		overridden, err := s.loadAssessment(traceDir, created.TraceID, created.Overrides)
		if err != nil {
			return nil, err
		}
		overridden.Valid = false
		if err := s.saveAssessment(traceDir, overridden); err != nil {
			return nil, err
		}
	}
	if err := s.saveAssessment(traceDir, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *FileStore) GetAssessment(traceID string, assessmentID string) (*entities.Assessment, error) {
	traceDir, err := s.findTraceDir(traceID)
	if err != nil {
		return nil, err
	}
	return s.loadAssessment(traceDir, traceID, assessmentID)
}

// UpdateAssessment applies the given update while preserving the immutable
// fields: source, span id, run id, creation time, validity and override
// linkage. Metadata is merged with new keys winning, and the value type
// must stay consistent with the stored assessment.
func (s *FileStore) UpdateAssessment(traceID string, assessmentID string, update AssessmentUpdate) (*entities.Assessment, error) {
	traceDir, err := s.findTraceDir(traceID)
	if err != nil {
		return nil, err
	}
	existing, err := s.loadAssessment(traceDir, traceID, assessmentID)
	if err != nil {
		return nil, err
	}
	if update.Expectation != nil && update.Feedback != nil {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Cannot specify both `expectation` and `feedback` parameters.")
	}
	if update.Expectation != nil && !existing.IsExpectation() {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Cannot update expectation value on a Feedback assessment.")
	}
	if update.Feedback != nil && !existing.IsFeedback() {
		return nil, entities.NewError(entities.ErrorCodeInvalidParameterValue,
			"Cannot update feedback value on an Expectation assessment.")
	}
	updated := *existing
	if update.Name != "" {
		updated.Name = update.Name
	}
	if update.Expectation != nil {
		value := *update.Expectation
		updated.Expectation = &value
	}
	if update.Feedback != nil {
		value := *update.Feedback
		updated.Feedback = &value
	}
	if update.Rationale != nil {
		updated.Rationale = *update.Rationale
	}
	if len(update.Metadata) > 0 {
		merged := map[string]string{}
		for key, value := range existing.Metadata {
			merged[key] = value
		}
		for key, value := range update.Metadata {
			merged[key] = value
		}
		updated.Metadata = merged
	}
	updated.LastUpdateTimeMS = s.nowMillis()
	if err := s.saveAssessment(traceDir, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteAssessment removes an assessment. Deleting a missing assessment is
// a no-op. When the deleted assessment overrode another one, the overridden
// assessment becomes valid again. An emptied assessments folder is pruned.
func (s *FileStore) DeleteAssessment(traceID string, assessmentID string) error {
	traceDir, err := s.findTraceDir(traceID)
	if err != nil {
		return err
	}
	path := assessmentPath(traceDir, assessmentID)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", path)
	}
	if !exists {
		return nil
	}
	overrides := ""
	if assessment, err := s.loadAssessment(traceDir, traceID, assessmentID); err == nil {
		overrides = assessment.Overrides
	}
	if err := s.fs.Remove(path); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal,
			"Failed to delete assessment with ID %q for trace %q", assessmentID, traceID)
	}
	assessmentsDir := filepath.Join(traceDir, AssessmentsFolderName)
	_, files, err := record.ListDir(s.fs, assessmentsDir)
	if err == nil && len(files) == 0 {
		_ = s.fs.Remove(assessmentsDir)
	}
	if overrides != "" {
		if overridden, err := s.loadAssessment(traceDir, traceID, overrides); err == nil {
			overridden.Valid = true
			overridden.LastUpdateTimeMS = s.nowMillis()
			if err := s.saveAssessment(traceDir, overridden); err != nil {
				return err
			}
		}
	}
	return nil
}
