package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spencerx/mlflow/internal/entities"
)

func feedbackAssessment(traceID string, name string, value interface{}) *entities.Assessment {
	return &entities.Assessment{
		TraceID:  traceID,
		Name:     name,
		Source:   &entities.AssessmentSource{SourceType: "HUMAN", SourceID: "alice"},
		Feedback: &entities.FeedbackValue{Value: value},
	}
}

func TestCreateAndGetAssessment(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("assessed", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	created, err := s.CreateAssessment(feedbackAssessment(trace.TraceID, "quality", "good"))
	require.NoError(t, err)
	assert.Regexp(t, `^a-[0-9a-f]{32}$`, created.AssessmentID)
	assert.True(t, created.Valid)
	assert.Equal(t, created.CreateTimeMS, created.LastUpdateTimeMS)

	fetched, err := s.GetAssessment(trace.TraceID, created.AssessmentID)
	require.NoError(t, err)
	assert.Equal(t, "quality", fetched.Name)
	require.NotNil(t, fetched.Feedback)
	assert.Equal(t, "good", fetched.Feedback.Value)

	// assessments surface on the trace itself
	info, err := s.GetTraceInfo(trace.TraceID)
	require.NoError(t, err)
	require.Len(t, info.Assessments, 1)
}

func TestCreateAssessmentRequiresExactlyOneValue(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("strict", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	_, err = s.CreateAssessment(&entities.Assessment{TraceID: trace.TraceID, Name: "empty"})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))

	_, err = s.CreateAssessment(&entities.Assessment{
		TraceID:     trace.TraceID,
		Name:        "both",
		Expectation: &entities.ExpectationValue{Value: "x"},
		Feedback:    &entities.FeedbackValue{Value: "y"},
	})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestCreateAssessmentOverrideInvalidatesTarget(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("override", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	original, err := s.CreateAssessment(feedbackAssessment(trace.TraceID, "quality", "bad"))
	require.NoError(t, err)

	replacement := feedbackAssessment(trace.TraceID, "quality", "good")
	replacement.Overrides = original.AssessmentID
	created, err := s.CreateAssessment(replacement)
	require.NoError(t, err)
	assert.True(t, created.Valid)

	overridden, err := s.GetAssessment(trace.TraceID, original.AssessmentID)
	require.NoError(t, err)
	assert.False(t, overridden.Valid)
}

func TestUpdateAssessmentPreservesImmutableFields(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("update", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	assessment := feedbackAssessment(trace.TraceID, "quality", "fine")
	assessment.SpanID = "span-7"
	assessment.Metadata = map[string]string{"model": "gpt", "round": "1"}
	created, err := s.CreateAssessment(assessment)
	require.NoError(t, err)

	rationale := "looked closer"
	updated, err := s.UpdateAssessment(trace.TraceID, created.AssessmentID, AssessmentUpdate{
		Feedback:  &entities.FeedbackValue{Value: "great"},
		Rationale: &rationale,
		Metadata:  map[string]string{"round": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "great", updated.Feedback.Value)
	assert.Equal(t, "looked closer", updated.Rationale)
	// metadata merges with new keys winning
	assert.Equal(t, "gpt", updated.Metadata["model"])
	assert.Equal(t, "2", updated.Metadata["round"])
	// immutables are untouched
	assert.Equal(t, created.Source, updated.Source)
	assert.Equal(t, "span-7", updated.SpanID)
	assert.Equal(t, created.CreateTimeMS, updated.CreateTimeMS)
}

func TestUpdateAssessmentTypeConsistency(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("typed", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)
	created, err := s.CreateAssessment(feedbackAssessment(trace.TraceID, "quality", "ok"))
	require.NoError(t, err)

	_, err = s.UpdateAssessment(trace.TraceID, created.AssessmentID, AssessmentUpdate{
		Expectation: &entities.ExpectationValue{Value: "nope"},
	})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))

	_, err = s.UpdateAssessment(trace.TraceID, created.AssessmentID, AssessmentUpdate{
		Expectation: &entities.ExpectationValue{Value: "x"},
		Feedback:    &entities.FeedbackValue{Value: "y"},
	})
	require.Error(t, err)
	assert.True(t, entities.IsInvalidParameterValue(err))
}

func TestDeleteAssessmentRestoresOverriddenValidity(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("undelete", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	original, err := s.CreateAssessment(feedbackAssessment(trace.TraceID, "quality", "bad"))
	require.NoError(t, err)
	replacement := feedbackAssessment(trace.TraceID, "quality", "good")
	replacement.Overrides = original.AssessmentID
	created, err := s.CreateAssessment(replacement)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAssessment(trace.TraceID, created.AssessmentID))

	restored, err := s.GetAssessment(trace.TraceID, original.AssessmentID)
	require.NoError(t, err)
	assert.True(t, restored.Valid)
}

func TestDeleteAssessmentIdempotent(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("idempotent", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	require.NoError(t, s.DeleteAssessment(trace.TraceID, "a-does-not-exist"))
}

func TestGetAssessmentNotFound(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateExperiment("missing", "", nil)
	require.NoError(t, err)
	trace := startTestTrace(t, s, id, 1)

	_, err = s.GetAssessment(trace.TraceID, "a-missing")
	require.Error(t, err)
	assert.True(t, entities.IsNotFound(err))
}
