// Package store implements the filesystem-backed tracking store: experiments,
// runs, metrics, params, tags, lineage, logged models, traces and assessments
// persisted as a plain directory hierarchy of small flat files.
package store

import (
	"github.com/Spencerx/mlflow/internal/entities"
)

type ExperimentStore interface {
	CreateExperiment(name string, artifactLocation string, tags []entities.ExperimentTag) (string, error)
	GetExperiment(experimentID string) (*entities.Experiment, error)
	GetExperimentByName(name string) (*entities.Experiment, error)
	RenameExperiment(experimentID string, newName string) error
	DeleteExperiment(experimentID string) error
	RestoreExperiment(experimentID string) error
	SearchExperiments(view entities.ViewType, maxResults int, filter string, orderBy []string, pageToken string) ([]*entities.Experiment, string, error)
	SetExperimentTag(experimentID string, tag entities.ExperimentTag) error
	DeleteExperimentTag(experimentID string, key string) error
}

type RunStore interface {
	CreateRun(experimentID string, userID string, startTime int64, tags []entities.RunTag, runName string) (*entities.Run, error)
	GetRun(runID string) (*entities.Run, error)
	UpdateRunInfo(runID string, status entities.RunStatus, endTime *int64, runName string) (*entities.RunInfo, error)
	DeleteRun(runID string) error
	RestoreRun(runID string) error
	SearchRuns(experimentIDs []string, filter string, view entities.ViewType, maxResults int, orderBy []string, pageToken string) ([]*entities.Run, string, error)
}

type MetricStore interface {
	LogMetric(runID string, metric entities.Metric) error
	LogParam(runID string, param entities.Param) error
	SetTag(runID string, tag entities.RunTag) error
	DeleteTag(runID string, key string) error
	GetMetricHistory(runID string, metricKey string, maxResults int, pageToken string) ([]entities.Metric, string, error)
	LogBatch(runID string, metrics []entities.Metric, params []entities.Param, tags []entities.RunTag) error
}

type LineageStore interface {
	LogInputs(runID string, datasets []entities.DatasetInput, models []entities.LoggedModelInput) error
	LogOutputs(runID string, models []entities.LoggedModelOutput) error
	SearchDatasets(experimentIDs []string) ([]entities.DatasetSummary, error)
}

type ModelStore interface {
	CreateLoggedModel(experimentID string, name string, sourceRunID string, tags []entities.LoggedModelTag, params []entities.Param, modelType string) (*entities.LoggedModel, error)
	GetLoggedModel(modelID string) (*entities.LoggedModel, error)
	FinalizeLoggedModel(modelID string, status entities.LoggedModelStatus) (*entities.LoggedModel, error)
	DeleteLoggedModel(modelID string) error
	LogLoggedModelParams(modelID string, params []entities.Param) error
	SetLoggedModelTags(modelID string, tags []entities.LoggedModelTag) error
	DeleteLoggedModelTag(modelID string, key string) error
	SearchLoggedModels(experimentIDs []string, filter string, orderBy []ModelOrderBy, maxResults int, pageToken string) ([]*entities.LoggedModel, string, error)
}

type TraceStore interface {
	StartTrace(info *entities.TraceInfo) (*entities.TraceInfo, error)
	EndTrace(traceID string, timestampMS int64, state entities.TraceState, metadata map[string]string, tags map[string]string) (*entities.TraceInfo, error)
	GetTraceInfo(traceID string) (*entities.TraceInfo, error)
	SetTraceTag(traceID string, key string, value string) error
	DeleteTraceTag(traceID string, key string) error
	SearchTraces(experimentIDs []string, filter string, maxResults int, orderBy []string, pageToken string) ([]*entities.TraceInfo, string, error)
	DeleteTraces(experimentID string, maxTimestampMS int64, maxTraces int, traceIDs []string) (int, error)
}

type AssessmentStore interface {
	CreateAssessment(assessment *entities.Assessment) (*entities.Assessment, error)
	GetAssessment(traceID string, assessmentID string) (*entities.Assessment, error)
	UpdateAssessment(traceID string, assessmentID string, update AssessmentUpdate) (*entities.Assessment, error)
	DeleteAssessment(traceID string, assessmentID string) error
}

// MaintenanceStore holds the hard-deletion surface. It is reachable only
// from maintenance tooling, never through the normal tracking API.
type MaintenanceStore interface {
	DeletedRuns(olderThanMS int64) ([]string, error)
	HardDeleteRun(runID string) error
	HardDeleteExperiment(experimentID string) error
}

type TrackingStore interface {
	ExperimentStore
	RunStore
	MetricStore
	LineageStore
	ModelStore
	TraceStore
	AssessmentStore
	MaintenanceStore
}

// ModelOrderBy orders logged model search results; metric fields may be
// narrowed to values reported on a specific dataset.
type ModelOrderBy struct {
	FieldName     string
	Ascending     bool
	DatasetName   string
	DatasetDigest string
}

// AssessmentUpdate carries the mutable fields of an assessment; nil fields
// are preserved. Metadata is merged with new keys winning.
type AssessmentUpdate struct {
	Name        string
	Expectation *entities.ExpectationValue
	Feedback    *entities.FeedbackValue
	Rationale   *string
	Metadata    map[string]string
}
